// Command benchsyncd launches the benchsync acquisition runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"

	"github.com/benchsync/benchsync/config"
	"github.com/benchsync/benchsync/internal/acquisition"
	"github.com/benchsync/benchsync/internal/bus"
	"github.com/benchsync/benchsync/internal/equipment"
	"github.com/benchsync/benchsync/internal/equipment/fake"
	"github.com/benchsync/benchsync/internal/equipment/scpi"
	"github.com/benchsync/benchsync/internal/export"
	"github.com/benchsync/benchsync/internal/observability"
	"github.com/benchsync/benchsync/internal/schema"
	"github.com/benchsync/benchsync/internal/syncgroup"
	"github.com/benchsync/benchsync/internal/telemetry"
)

const (
	loggerPrefix             = "benchsyncd "
	shutdownTimeout          = 30 * time.Second
	engineShutdownTimeout    = 15 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	statusInterval           = 30 * time.Second
)

func main() {
	cfgPath := flag.String("config", "", "Path to configuration file (default: config/benchsync.yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	observability.SetLogger(observability.NewStdLogger(logger, cfg.LogLevel == "debug"))
	logger.Printf("configuration initialised: instruments=%d, groups=%d", len(cfg.Instruments), len(cfg.Groups))

	_, telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
		Interval:     cfg.Telemetry.Interval,
	})
	if err != nil {
		logger.Fatalf("initialise telemetry: %v", err)
	}

	lifecycleBus := bus.NewMemoryBus(bus.MemoryConfig{
		BufferSize:    cfg.Bus.BufferSize,
		FanoutWorkers: cfg.Bus.FanoutWorkers,
	})

	exporter, err := export.NewJSONLines(cfg.Export.Dir)
	if err != nil {
		logger.Fatalf("initialise exporter: %v", err)
	}

	engine, err := acquisition.NewEngine(acquisition.Options{
		Exporter:            exporter,
		Bus:                 lifecycleBus,
		TriggerPollInterval: cfg.Engine.TriggerPollInterval,
		ExportWorkers:       cfg.Engine.ExportWorkers,
	})
	if err != nil {
		logger.Fatalf("initialise engine: %v", err)
	}

	manager, err := syncgroup.NewManager(engine, syncgroup.Options{Bus: lifecycleBus})
	if err != nil {
		logger.Fatalf("initialise sync manager: %v", err)
	}

	sessions, err := bootstrapInstruments(ctx, engine, cfg)
	if err != nil {
		logger.Fatalf("bootstrap instruments: %v", err)
	}
	logger.Printf("sessions created: %d", len(sessions))

	if err := bootstrapGroups(ctx, manager, cfg, sessions); err != nil {
		logger.Fatalf("bootstrap groups: %v", err)
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { reportStatus(ctx, logger, engine, manager) })

	logger.Print("benchsyncd started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	shutdownStart := time.Now()

	stopGroups(shutdownCtx, logger, manager)

	engineCtx, engineCancel := context.WithTimeout(shutdownCtx, engineShutdownTimeout)
	if err := engine.Close(engineCtx); err != nil {
		logger.Printf("shutdown: engine: %v", err)
	}
	engineCancel()

	lifecycleBus.Close()
	lifecycle.Wait()

	telemetryCtx, telemetryCancel := context.WithTimeout(shutdownCtx, telemetryShutdownTimeout)
	if err := telemetryShutdown(telemetryCtx); err != nil {
		logger.Printf("shutdown: telemetry: %v", err)
	}
	telemetryCancel()

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

// bootstrapInstruments builds the configured instrument adapters and creates a
// session for each instrument that declares an acquisition. The returned map
// is keyed by equipment ID.
func bootstrapInstruments(ctx context.Context, engine *acquisition.Engine, cfg config.Settings) (map[string]string, error) {
	sessions := make(map[string]string)
	for _, inst := range cfg.Instruments {
		device, err := buildDevice(ctx, inst)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: %w", inst.ID, err)
		}
		if inst.Acquisition == nil {
			continue
		}
		snap, err := engine.CreateSession(ctx, device, *inst.Acquisition)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: create session: %w", inst.ID, err)
		}
		sessions[inst.ID] = snap.AcquisitionID
	}
	return sessions, nil
}

func buildDevice(ctx context.Context, inst config.InstrumentConfig) (equipment.Device, error) {
	switch inst.Driver {
	case config.DriverSCPI:
		device, err := scpi.NewDevice(scpi.Options{
			ID:           inst.ID,
			Address:      inst.SCPI.Address,
			QueryTimeout: inst.SCPI.QueryTimeout,
			MaxRetryTime: inst.SCPI.MaxRetryTime,
		})
		if err != nil {
			return nil, err
		}
		if err := device.Connect(ctx); err != nil {
			return nil, err
		}
		return device, nil
	default:
		channels := make(map[string]fake.ChannelSpec, len(inst.Channels))
		for name, spec := range inst.Channels {
			channels[name] = fake.ChannelSpec{
				Waveform:  fake.Waveform(spec.Waveform),
				Amplitude: spec.Amplitude,
				Offset:    spec.Offset,
				Period:    spec.Period,
			}
		}
		return fake.NewDevice(fake.Options{
			ID:       inst.ID,
			Vendor:   inst.Vendor,
			Model:    inst.Model,
			Channels: channels,
		}), nil
	}
}

// bootstrapGroups creates the configured groups, registers every member whose
// instrument produced a session, and starts groups marked autoStart.
func bootstrapGroups(ctx context.Context, manager *syncgroup.Manager, cfg config.Settings, sessions map[string]string) error {
	for _, grp := range cfg.Groups {
		if _, err := manager.CreateGroup(ctx, grp.Sync); err != nil {
			return fmt.Errorf("group %s: %w", grp.Sync.GroupID, err)
		}
		for _, member := range grp.Sync.Equipment {
			acquisitionID, ok := sessions[member]
			if !ok {
				continue
			}
			if err := manager.AddAcquisition(ctx, grp.Sync.GroupID, member, acquisitionID); err != nil {
				return fmt.Errorf("group %s: register %s: %w", grp.Sync.GroupID, member, err)
			}
		}
		if grp.AutoStart {
			if err := manager.StartSynchronized(ctx, grp.Sync.GroupID); err != nil {
				return fmt.Errorf("group %s: synchronized start: %w", grp.Sync.GroupID, err)
			}
		}
	}
	return nil
}

type statusReport struct {
	Sessions []acquisition.Snapshot `json:"sessions"`
	Groups   []syncgroup.Snapshot   `json:"groups"`
}

// reportStatus periodically prints a JSON status summary until shutdown.
func reportStatus(ctx context.Context, logger *log.Logger, engine *acquisition.Engine, manager *syncgroup.Manager) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := statusReport{
				Sessions: engine.ListSessions(),
				Groups:   manager.ListGroups(),
			}
			encoded, err := json.Marshal(report)
			if err != nil {
				logger.Printf("status: encode: %v", err)
				continue
			}
			logger.Printf("status: %s", encoded)
		}
	}
}

func stopGroups(ctx context.Context, logger *log.Logger, manager *syncgroup.Manager) {
	for _, grp := range manager.ListGroups() {
		switch grp.State {
		case schema.GroupRunning, schema.GroupPaused, schema.GroupError:
			if err := manager.StopSynchronized(ctx, grp.GroupID); err != nil {
				logger.Printf("shutdown: group %s: %v", grp.GroupID, err)
			}
		}
	}
}
