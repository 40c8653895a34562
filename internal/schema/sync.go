package schema

import (
	"strings"
	"time"

	"github.com/benchsync/benchsync/errs"
)

// GroupState tracks the lifecycle of one synchronization group.
type GroupState string

const (
	// GroupIdle marks a group without enough registered members.
	GroupIdle GroupState = "IDLE"
	// GroupPreparing marks a group mid-barrier, issuing member starts.
	GroupPreparing GroupState = "PREPARING"
	// GroupReady marks a group whose readiness predicate holds.
	GroupReady GroupState = "READY"
	// GroupRunning marks a group whose members all started successfully.
	GroupRunning GroupState = "RUNNING"
	// GroupPaused marks a group paused by a barrier pause.
	GroupPaused GroupState = "PAUSED"
	// GroupStopped marks a group stopped by a barrier stop.
	GroupStopped GroupState = "STOPPED"
	// GroupError marks a group with at least one failed barrier member.
	GroupError GroupState = "ERROR"
)

// SyncConfig declares a synchronization group and its membership.
type SyncConfig struct {
	GroupID             string        `json:"groupId" yaml:"groupId"`
	Equipment           []string      `json:"equipment" yaml:"equipment"`
	Master              string        `json:"master,omitempty" yaml:"master"`
	Tolerance           time.Duration `json:"tolerance,omitempty" yaml:"tolerance"`
	WaitForAll          bool          `json:"waitForAll" yaml:"waitForAll"`
	AutoAlignTimestamps bool          `json:"autoAlignTimestamps" yaml:"autoAlignTimestamps"`
}

// Validate checks structural invariants of the group configuration.
func (c SyncConfig) Validate() error {
	if strings.TrimSpace(c.GroupID) == "" {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("group ID required"))
	}
	if len(c.Equipment) == 0 {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("group requires at least one member"))
	}
	seen := make(map[string]struct{}, len(c.Equipment))
	for _, id := range c.Equipment {
		member := strings.TrimSpace(id)
		if member == "" {
			return errs.New("", errs.CodeInvalid, errs.WithMessage("member equipment IDs must not be empty"))
		}
		if _, dup := seen[member]; dup {
			return errs.New(member, errs.CodeInvalid, errs.WithMessage("duplicate group member"))
		}
		seen[member] = struct{}{}
	}
	if c.Master != "" {
		if _, ok := seen[strings.TrimSpace(c.Master)]; !ok {
			return errs.New(c.Master, errs.CodeInvalid, errs.WithMessage("master must be a declared member"))
		}
	}
	if c.Tolerance < 0 {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("tolerance must not be negative"))
	}
	return nil
}

// EffectiveMaster returns the designated master, defaulting to the first member.
func (c SyncConfig) EffectiveMaster() string {
	if master := strings.TrimSpace(c.Master); master != "" {
		return master
	}
	if len(c.Equipment) > 0 {
		return c.Equipment[0]
	}
	return ""
}

// Clone returns a deep copy of the configuration.
func (c SyncConfig) Clone() SyncConfig {
	clone := c
	clone.Equipment = append([]string(nil), c.Equipment...)
	return clone
}
