// Package cmd holds the camlink CLI commands.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/smazurov/camlink/internal/bridge"
	"github.com/smazurov/camlink/internal/config"
	"github.com/smazurov/camlink/internal/devices"
	"github.com/smazurov/camlink/internal/discovery"
	"github.com/smazurov/camlink/internal/events"
	"github.com/smazurov/camlink/internal/link"
	"github.com/smazurov/camlink/internal/logging"
	"github.com/smazurov/camlink/internal/metrics"
	"github.com/smazurov/camlink/internal/pipeline"
	"github.com/smazurov/camlink/internal/service"
	"github.com/smazurov/camlink/internal/streams"
	"github.com/smazurov/camlink/internal/supervisor"
)

// CreateServeCmd creates the serve command, the service's main entry
// point.
func CreateServeCmd() *cobra.Command {
	opts := config.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the camera streaming service",
		Long: `Runs the full service: device discovery, stream pipelines, ` +
			`mDNS advertisement, and the vehicle control-link bridge.`,
		Run: func(cmd *cobra.Command, _ []string) {
			runServe(cmd, &opts)
		},
	}
	config.RegisterFlags(cmd.Flags(), &opts)
	return cmd
}

func runServe(cmd *cobra.Command, opts *config.Options) {
	if err := config.LoadConfig(opts, cmd); err != nil {
		logging.GetLogger("main").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Initialize(logging.Config{
		Level:  opts.LoggingLevel,
		Format: opts.LoggingFormat,
		Modules: moduleLevels(map[string]string{
			"devices":    opts.LoggingDevices,
			"pipeline":   opts.LoggingPipeline,
			"streams":    opts.LoggingStreams,
			"bridge":     opts.LoggingBridge,
			"link":       opts.LoggingLink,
			"discovery":  opts.LoggingDiscovery,
			"supervisor": opts.LoggingSupervisor,
		}),
	})
	logger := logging.GetLogger("main")

	bus := events.New()
	deviceRegistry := devices.NewRegistry(devices.NewSource(), bus)

	manager := pipeline.NewManager(pipeline.NewGstBackend(), deviceRegistry, bus, pipeline.Config{
		SinkHost:     opts.RTSPHost,
		SinkPort:     opts.RTSPPort,
		StartTimeout: config.Duration(opts.PipelineStartTimeout, 10*time.Second),
		StopTimeout:  config.Duration(opts.PipelineStopTimeout, 5*time.Second),
	})

	streamRegistry := streams.NewRegistry(manager, bus)
	deviceRegistry.SetTeardown(streamRegistry.HandleDeviceRemoval)

	// The control link is the service's reason to exist; failing to
	// bind it is fatal.
	linkServer := link.NewServer(link.ServerOptions{Host: opts.LinkHost, Port: opts.LinkPort})
	if err := linkServer.Start(); err != nil {
		logger.Error("Failed to start control-link server", "error", err)
		os.Exit(1)
	}
	defer linkServer.Stop()

	controlLink := link.NewLink(linkServer.ClientURL())
	protocolBridge := bridge.New(deviceRegistry, streamRegistry, controlLink, bridge.Config{
		SessionTimeout: config.Duration(opts.BridgeSessionTimeout, 60*time.Second),
	})
	controlLink.SetHandler(protocolBridge)
	if err := controlLink.Start(); err != nil {
		logger.Error("Failed to attach control link", "error", err)
		os.Exit(1)
	}
	defer controlLink.Close()

	if opts.MetricsAddr != "" {
		metricsServer := metrics.NewServer(opts.MetricsAddr)
		if err := metricsServer.Start(); err != nil {
			logger.Warn("Metrics endpoint disabled", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := metricsServer.Stop(shutdownCtx); err != nil {
					logger.Warn("Metrics server shutdown", "error", err)
				}
			}()
		}
	}

	publisher := discovery.NewPublisher(bus, opts.RTSPPort,
		config.Duration(opts.DiscoveryReannounceInterval, 30*time.Second))

	recovery := supervisor.New(manager, bus, supervisor.Config{
		PollInterval: config.Duration(opts.SupervisorPollInterval, time.Second),
		BaseDelay:    config.Duration(opts.SupervisorBaseDelay, 500*time.Millisecond),
		MaxAttempts:  opts.SupervisorMaxAttempts,
	})

	facade := service.New(deviceRegistry, streamRegistry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := deviceRegistry.Run(ctx); err != nil {
			logger.Error("Device registry stopped", "error", err)
		}
	}()
	go protocolBridge.Run(ctx)
	go publisher.Run(ctx)
	go recovery.Run(ctx)
	go publishDeviceCounts(ctx, facade)

	startDefaultStreams(ctx, opts, streamRegistry, deviceRegistry)

	policyWatcher := config.NewWatcher(opts.StreamsConfigFile, streams.LoadDefaults,
		logging.GetLogger("streams"))
	policyWatcher.OnReload(func(defaults *streams.DefaultsConfig) {
		defaults.Apply(ctx, streamRegistry, deviceRegistry)
	})
	if err := policyWatcher.Start(); err != nil {
		logger.Warn("Stream policy file not watched", "path", opts.StreamsConfigFile, "error", err)
	} else {
		defer policyWatcher.Stop()
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Debug("Systemd readiness notification skipped", "error", err)
	}
	logger.Info("camlink running",
		"rtsp", opts.RTSPHost, "rtsp_port", opts.RTSPPort,
		"link", linkServer.ClientURL())

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, desc := range streamRegistry.List() {
		if err := streamRegistry.Remove(shutdownCtx, desc.Name); err != nil {
			logger.Warn("Failed to stop stream during shutdown", "stream", desc.Name, "error", err)
		}
	}
}

// startDefaultStreams applies the streams.toml policy once the initial
// device enumeration has had a moment to land.
func startDefaultStreams(ctx context.Context, opts *config.Options, streamRegistry *streams.Registry, deviceRegistry *devices.Registry) {
	defaults, err := streams.LoadDefaults(opts.StreamsConfigFile)
	if err != nil {
		logging.GetLogger("streams").Warn("Stream policy not loaded",
			"path", opts.StreamsConfigFile, "error", err)
		return
	}
	if len(defaults.Streams) == 0 {
		return
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && len(deviceRegistry.List()) == 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	defaults.Apply(ctx, streamRegistry, deviceRegistry)
}

// publishDeviceCounts keeps the device gauges current.
func publishDeviceCounts(ctx context.Context, facade *service.Service) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts := make(map[string]int)
			for _, dev := range facade.ListDevices() {
				counts[string(dev.Status)]++
			}
			metrics.SetDeviceCounts(counts)
		}
	}
}

// moduleLevels drops unset per-module overrides.
func moduleLevels(levels map[string]string) map[string]string {
	out := make(map[string]string, len(levels))
	for module, level := range levels {
		if level != "" {
			out[module] = level
		}
	}
	return out
}
