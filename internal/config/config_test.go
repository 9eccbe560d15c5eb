package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFieldNameToFlag(t *testing.T) {
	cases := map[string]string{
		"Config":                "config",
		"LoggingLevel":          "logging-level",
		"RTSPPort":              "rtsp-port",
		"RTSPHost":              "rtsp-host",
		"SupervisorMaxAttempts": "supervisor-max-attempts",
	}
	for in, want := range cases {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadConfigFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[server]
rtsp_host = "10.0.0.2"
rtsp_port = 9554

[supervisor]
max_attempts = 5

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.Config = path
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.RTSPHost != "10.0.0.2" {
		t.Errorf("RTSPHost = %q", opts.RTSPHost)
	}
	if opts.RTSPPort != 9554 {
		t.Errorf("RTSPPort = %d", opts.RTSPPort)
	}
	if opts.SupervisorMaxAttempts != 5 {
		t.Errorf("SupervisorMaxAttempts = %d", opts.SupervisorMaxAttempts)
	}
	if opts.LoggingLevel != "debug" {
		t.Errorf("LoggingLevel = %q", opts.LoggingLevel)
	}
}

func TestEnvOverridesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[server]\nrtsp_port = 9554\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CAMLINK_SERVER_RTSP_PORT", "7554")

	opts := DefaultOptions()
	opts.Config = path
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.RTSPPort != 7554 {
		t.Errorf("RTSPPort = %d, want env override 7554", opts.RTSPPort)
	}
}

func TestLoadConfigMissingFileIsNotFatal(t *testing.T) {
	opts := DefaultOptions()
	opts.Config = "/nonexistent/config.toml"
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("missing config file should not error: %v", err)
	}
	if opts.RTSPPort != 8554 {
		t.Errorf("defaults should survive, RTSPPort = %d", opts.RTSPPort)
	}
}

func TestDurationFallback(t *testing.T) {
	if d := Duration("250ms", time.Second); d != 250*time.Millisecond {
		t.Errorf("Duration = %v", d)
	}
	if d := Duration("garbage", time.Second); d != time.Second {
		t.Errorf("fallback = %v", d)
	}
	if d := Duration("", 2*time.Second); d != 2*time.Second {
		t.Errorf("empty fallback = %v", d)
	}
}
