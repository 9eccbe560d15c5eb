package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Options is the flat configuration surface for the camlink service.
// Precedence: CLI flags > CAMLINK_* env vars > TOML config file.
type Options struct {
	Config string

	// Sink endpoint advertised for streams.
	RTSPHost string `toml:"server.rtsp_host" env:"SERVER_RTSP_HOST"`
	RTSPPort int    `toml:"server.rtsp_port" env:"SERVER_RTSP_PORT"`

	// Control-link listener.
	LinkHost string `toml:"link.host" env:"LINK_HOST"`
	LinkPort int    `toml:"link.port" env:"LINK_PORT"`

	// Metrics exposition endpoint, empty disables it.
	MetricsAddr string `toml:"metrics.addr" env:"METRICS_ADDR"`

	// Default-stream policy file.
	StreamsConfigFile string `toml:"streams.config_file" env:"STREAMS_CONFIG_FILE"`

	// Pipeline lifecycle budgets.
	PipelineStartTimeout string `toml:"pipeline.start_timeout" env:"PIPELINE_START_TIMEOUT"`
	PipelineStopTimeout  string `toml:"pipeline.stop_timeout" env:"PIPELINE_STOP_TIMEOUT"`

	// Supervisor policy.
	SupervisorPollInterval string `toml:"supervisor.poll_interval" env:"SUPERVISOR_POLL_INTERVAL"`
	SupervisorBaseDelay    string `toml:"supervisor.base_delay" env:"SUPERVISOR_BASE_DELAY"`
	SupervisorMaxAttempts  int    `toml:"supervisor.max_attempts" env:"SUPERVISOR_MAX_ATTEMPTS"`

	// Protocol bridge.
	BridgeSessionTimeout string `toml:"bridge.session_timeout" env:"BRIDGE_SESSION_TIMEOUT"`

	// Discovery.
	DiscoveryReannounceInterval string `toml:"discovery.reannounce_interval" env:"DISCOVERY_REANNOUNCE_INTERVAL"`

	// Logging.
	LoggingLevel      string `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingDevices    string `toml:"logging.devices" env:"LOGGING_DEVICES"`
	LoggingPipeline   string `toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingStreams    string `toml:"logging.streams" env:"LOGGING_STREAMS"`
	LoggingBridge     string `toml:"logging.bridge" env:"LOGGING_BRIDGE"`
	LoggingLink       string `toml:"logging.link" env:"LOGGING_LINK"`
	LoggingDiscovery  string `toml:"logging.discovery" env:"LOGGING_DISCOVERY"`
	LoggingSupervisor string `toml:"logging.supervisor" env:"LOGGING_SUPERVISOR"`
}

// DefaultOptions returns Options with documented defaults.
func DefaultOptions() Options {
	return Options{
		Config:                      "config.toml",
		RTSPHost:                    "0.0.0.0",
		RTSPPort:                    8554,
		LinkHost:                    "0.0.0.0",
		LinkPort:                    4222,
		MetricsAddr:                 ":9090",
		StreamsConfigFile:           "streams.toml",
		PipelineStartTimeout:        "10s",
		PipelineStopTimeout:         "5s",
		SupervisorPollInterval:      "1s",
		SupervisorBaseDelay:         "500ms",
		SupervisorMaxAttempts:       3,
		BridgeSessionTimeout:        "60s",
		DiscoveryReannounceInterval: "30s",
		LoggingLevel:                "info",
		LoggingFormat:               "text",
	}
}

// RegisterFlags binds Options fields to CLI flags.
func RegisterFlags(flags *pflag.FlagSet, opts *Options) {
	flags.StringVarP(&opts.Config, "config", "c", opts.Config, "Path to configuration file")
	flags.StringVar(&opts.RTSPHost, "rtsp-host", opts.RTSPHost, "Advertised RTSP sink host")
	flags.IntVar(&opts.RTSPPort, "rtsp-port", opts.RTSPPort, "RTSP sink port")
	flags.StringVar(&opts.LinkHost, "link-host", opts.LinkHost, "Control-link listen host")
	flags.IntVar(&opts.LinkPort, "link-port", opts.LinkPort, "Control-link listen port")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "Metrics listen address, empty disables")
	flags.StringVar(&opts.StreamsConfigFile, "streams-config-file", opts.StreamsConfigFile, "Stream definitions file")
	flags.StringVar(&opts.PipelineStartTimeout, "pipeline-start-timeout", opts.PipelineStartTimeout, "Pipeline start budget")
	flags.StringVar(&opts.PipelineStopTimeout, "pipeline-stop-timeout", opts.PipelineStopTimeout, "Pipeline stop budget")
	flags.StringVar(&opts.SupervisorPollInterval, "supervisor-poll-interval", opts.SupervisorPollInterval, "Pipeline health poll interval")
	flags.StringVar(&opts.SupervisorBaseDelay, "supervisor-base-delay", opts.SupervisorBaseDelay, "Retry backoff base delay")
	flags.IntVar(&opts.SupervisorMaxAttempts, "supervisor-max-attempts", opts.SupervisorMaxAttempts, "Retry attempts before a stream is marked degraded")
	flags.StringVar(&opts.BridgeSessionTimeout, "bridge-session-timeout", opts.BridgeSessionTimeout, "Protocol session inactivity timeout")
	flags.StringVar(&opts.DiscoveryReannounceInterval, "discovery-reannounce-interval", opts.DiscoveryReannounceInterval, "mDNS re-announce interval")
	flags.StringVar(&opts.LoggingLevel, "logging-level", opts.LoggingLevel, "Global logging level (debug, info, warn, error)")
	flags.StringVar(&opts.LoggingFormat, "logging-format", opts.LoggingFormat, "Logging format (text, json)")
	flags.StringVar(&opts.LoggingDevices, "logging-devices", opts.LoggingDevices, "Devices logging level")
	flags.StringVar(&opts.LoggingPipeline, "logging-pipeline", opts.LoggingPipeline, "Pipeline logging level")
	flags.StringVar(&opts.LoggingStreams, "logging-streams", opts.LoggingStreams, "Streams logging level")
	flags.StringVar(&opts.LoggingBridge, "logging-bridge", opts.LoggingBridge, "Protocol bridge logging level")
	flags.StringVar(&opts.LoggingLink, "logging-link", opts.LoggingLink, "Control link logging level")
	flags.StringVar(&opts.LoggingDiscovery, "logging-discovery", opts.LoggingDiscovery, "Discovery logging level")
	flags.StringVar(&opts.LoggingSupervisor, "logging-supervisor", opts.LoggingSupervisor, "Supervisor logging level")
}

// Duration parses a duration-valued option, falling back when unset or
// malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
