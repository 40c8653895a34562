// Package errs provides structured error types and helpers for benchsync services.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies an error category surfaced by the acquisition stack.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing acquisition, group, or device.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates an operation rejected by the current lifecycle state.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates the service or resource is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodeEquipment indicates an instrument-side failure.
	CodeEquipment Code = "equipment_error"
	// CodeNetwork indicates a transport failure talking to an instrument.
	CodeNetwork Code = "network"
)

// CanonicalCode captures vendor-agnostic failure categories.
type CanonicalCode string

const (
	// CanonicalUnknown captures uncategorized failures.
	CanonicalUnknown CanonicalCode = "unknown"
	// CanonicalCapabilityMissing indicates the device adapter lacks the required capability.
	CanonicalCapabilityMissing CanonicalCode = "capability_missing"
	// CanonicalChannelUnknown indicates the referenced measurement channel does not exist.
	CanonicalChannelUnknown CanonicalCode = "channel_unknown"
	// CanonicalTriggerMisconfigured indicates an incomplete or inconsistent trigger setup.
	CanonicalTriggerMisconfigured CanonicalCode = "trigger_misconfigured"
	// CanonicalIdentityMismatch indicates the configured equipment ID does not match the device.
	CanonicalIdentityMismatch CanonicalCode = "identity_mismatch"
	// CanonicalGroupNotReady indicates a barrier operation was issued before the group was ready.
	CanonicalGroupNotReady CanonicalCode = "group_not_ready"
)

// E captures structured error information produced across the benchsync stack.
type E struct {
	Equipment      string
	Code           Code
	Message        string
	Canonical      CanonicalCode
	DeviceMetadata map[string]string
	Remediation    string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the equipment scope and error code.
func New(equipment string, code Code, opts ...Option) *E {
	e := &E{
		Equipment:      strings.TrimSpace(equipment),
		Code:           code,
		Message:        "",
		Canonical:      CanonicalUnknown,
		DeviceMetadata: nil,
		Remediation:    "",
		cause:          nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRemediation attaches remediation guidance to the error.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) {
		e.Remediation = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithCanonicalCode sets the canonical code describing the failure category.
func WithCanonicalCode(code CanonicalCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = CanonicalCode(trimmed)
	}
}

// WithDeviceMetadata merges the provided device metadata into the error envelope.
func WithDeviceMetadata(meta map[string]string) Option {
	return func(e *E) {
		if len(meta) == 0 {
			return
		}
		if e.DeviceMetadata == nil {
			e.DeviceMetadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.DeviceMetadata[key] = strings.TrimSpace(v)
		}
	}
}

// WithDeviceField appends a single device metadata key/value pair.
func WithDeviceField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.DeviceMetadata == nil {
			e.DeviceMetadata = make(map[string]string, 1)
		}
		e.DeviceMetadata[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	equipment := strings.TrimSpace(e.Equipment)
	if equipment == "" {
		equipment = "unknown"
	}
	parts = append(parts, "equipment="+equipment)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Remediation != "" {
		parts = append(parts, "remediation="+strconv.Quote(e.Remediation))
	}
	if len(e.DeviceMetadata) > 0 {
		keys := make([]string, 0, len(e.DeviceMetadata))
		for k := range e.DeviceMetadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.DeviceMetadata[k]))
		}
		parts = append(parts, "device="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// HasCode reports whether err carries the given benchsync error code.
func HasCode(err error, code Code) bool {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Code == code
	}
	return false
}

// NotSupported returns a standardized error for missing device capabilities.
func NotSupported(msg string) *E {
	return New("", CodeEquipment, WithMessage(strings.TrimSpace(msg)), WithCanonicalCode(CanonicalCapabilityMissing))
}
