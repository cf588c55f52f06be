package config

import (
	"os"
	"strings"
	"testing"
	"time"

	comms "github.com/nats-io/nats.go"
)

var envVars = []string{
	"SERVEAPI_PROTOCOL", "SERVEAPI_HOST", "SERVEAPI_PORT", "SERVEAPI_READ_BUFFER",
	"SERVEAPI_CODEC", "SERVEAPI_FIRE_AND_FORGET", "SERVEAPI_ACK", "SERVEAPI_REQUEST_TIMEOUT",
	"COMMS_URL", "SERVICE_NAME", "SERVEAPI_SUBJECT", "SERVEAPI_EVENTS_SUBJECT",
	"SERVEAPI_HTTP_ADDR", "SERVEAPI_SHUTDOWN_TIMEOUT", "LOG_LEVEL", "COMMS_CREDS",
}

func clearEnv() {
	for _, env := range envVars {
		os.Unsetenv(env)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.Protocol != ProtocolTCP {
		t.Errorf("config:config_test - Protocol = %q, want %q", cfg.Protocol, ProtocolTCP)
	}
	if cfg.Addr() != "127.0.0.1:8765" {
		t.Errorf("config:config_test - Addr = %q, want 127.0.0.1:8765", cfg.Addr())
	}
	if cfg.ReadBuffer != 1024 {
		t.Errorf("config:config_test - ReadBuffer = %d, want 1024", cfg.ReadBuffer)
	}
	if cfg.Codec != CodecSimple {
		t.Errorf("config:config_test - Codec = %q, want %q", cfg.Codec, CodecSimple)
	}
	if cfg.FireAndForget {
		t.Error("config:config_test - expected FireAndForget=false by default")
	}
	if !cfg.Ack {
		t.Error("config:config_test - expected Ack=true by default")
	}
	if cfg.RequestTimeout != 0 {
		t.Errorf("config:config_test - RequestTimeout = %v, want 0", cfg.RequestTimeout)
	}
	if cfg.COMMSURL != "" || cfg.EventsEnabled() {
		t.Errorf("config:config_test - COMMSURL = %q, want empty", cfg.COMMSURL)
	}
	if cfg.COMMSName != "serveapi" {
		t.Errorf("config:config_test - COMMSName = %q, want %q", cfg.COMMSName, "serveapi")
	}
	if cfg.HTTPAddr != "" {
		t.Errorf("config:config_test - HTTPAddr = %q, want empty", cfg.HTTPAddr)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("config:config_test - ShutdownTimeout = %v, want 5s", cfg.ShutdownTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - defaults should validate: %v", err)
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv()
	overrides := map[string]string{
		"SERVEAPI_PROTOCOL":        "udp",
		"SERVEAPI_HOST":            "0.0.0.0",
		"SERVEAPI_PORT":            "9000",
		"SERVEAPI_READ_BUFFER":     "4096",
		"SERVEAPI_CODEC":           "id",
		"SERVEAPI_FIRE_AND_FORGET": "true",
		"SERVEAPI_ACK":             "false",
		"SERVEAPI_REQUEST_TIMEOUT": "3s",
		"COMMS_URL":                "nats://custom:4222",
		"SERVICE_NAME":             "billing",
		"SERVEAPI_SUBJECT":         "billing.rpc",
		"SERVEAPI_EVENTS_SUBJECT":  "billing.outcomes",
		"SERVEAPI_HTTP_ADDR":       "127.0.0.1:9090",
		"LOG_LEVEL":                "debug",
	}
	for key, val := range overrides {
		os.Setenv(key, val)
	}
	defer clearEnv()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.Protocol != ProtocolUDP || cfg.Addr() != "0.0.0.0:9000" {
		t.Errorf("config:config_test - transport = %s %s", cfg.Protocol, cfg.Addr())
	}
	if cfg.ReadBuffer != 4096 {
		t.Errorf("config:config_test - ReadBuffer = %d, want 4096", cfg.ReadBuffer)
	}
	if cfg.Codec != CodecID {
		t.Errorf("config:config_test - Codec = %q, want %q", cfg.Codec, CodecID)
	}
	if !cfg.FireAndForget || cfg.Ack {
		t.Errorf("config:config_test - FireAndForget=%v Ack=%v", cfg.FireAndForget, cfg.Ack)
	}
	if cfg.RequestTimeout != 3*time.Second {
		t.Errorf("config:config_test - RequestTimeout = %v, want 3s", cfg.RequestTimeout)
	}
	if cfg.COMMSURL != "nats://custom:4222" || !cfg.EventsEnabled() {
		t.Errorf("config:config_test - COMMSURL = %q", cfg.COMMSURL)
	}
	if cfg.COMMSName != "billing" || cfg.Subject != "billing.rpc" || cfg.EventsSubject != "billing.outcomes" {
		t.Errorf("config:config_test - COMMS settings = %q %q %q", cfg.COMMSName, cfg.Subject, cfg.EventsSubject)
	}
	if cfg.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("config:config_test - HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	clearEnv()
	os.Setenv("SERVEAPI_REQUEST_TIMEOUT", "soon")
	defer clearEnv()

	if _, err := LoadConfig(); err == nil {
		t.Error("config:config_test - expected error for invalid duration")
	}
}

func TestLoadConfig_LogLevels(t *testing.T) {
	clearEnv()
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, level := range validLevels {
		os.Setenv("LOG_LEVEL", level)
		cfg, err := LoadConfig()
		os.Unsetenv("LOG_LEVEL")

		if err != nil {
			t.Fatalf("config:config_test - unexpected error for level %q: %v", level, err)
		}
		if cfg.LogLevel != level {
			t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, level)
		}
	}
}

func validConfig() Config {
	return Config{
		Protocol:        ProtocolTCP,
		Host:            "127.0.0.1",
		Port:            8765,
		ReadBuffer:      1024,
		Codec:           CodecSimple,
		ShutdownTimeout: time.Second,
	}
}

func TestValidateForServe(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown protocol", mutate: func(c *Config) { c.Protocol = "sctp" }, wantErr: "SERVEAPI_PROTOCOL"},
		{name: "port out of range", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "SERVEAPI_PORT"},
		{name: "nats without url", mutate: func(c *Config) { c.Protocol = ProtocolNATS }, wantErr: "COMMS_URL"},
		{name: "nats with url", mutate: func(c *Config) { c.Protocol = ProtocolNATS; c.COMMSURL = "nats://x:4222" }},
		{name: "unknown codec", mutate: func(c *Config) { c.Codec = "xml" }, wantErr: "SERVEAPI_CODEC"},
		{name: "zero read buffer", mutate: func(c *Config) { c.ReadBuffer = 0 }, wantErr: "SERVEAPI_READ_BUFFER"},
		{name: "negative timeout", mutate: func(c *Config) { c.RequestTimeout = -time.Second }, wantErr: "SERVEAPI_REQUEST_TIMEOUT"},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.ShutdownTimeout = 0 }, wantErr: "SERVEAPI_SHUTDOWN_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.ValidateForServe()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("config:config_test - unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("config:config_test - error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestCOMMSOptions(t *testing.T) {
	c := &Config{}
	if got := len(c.COMMSOptions()); got != 0 {
		t.Errorf("config:config_test - options without creds = %d, want 0", got)
	}

	c.COMMSCreds = "/etc/serveapi/service.creds"
	opts := c.COMMSOptions()
	if len(opts) != 1 {
		t.Fatalf("config:config_test - options with creds = %d, want 1", len(opts))
	}
	o := comms.GetDefaultOptions()
	if err := opts[0](&o); err != nil {
		t.Fatalf("config:config_test - apply option: %v", err)
	}
	if o.UserJWT == nil || o.SignatureCB == nil {
		t.Errorf("config:config_test - credentials callbacks not set")
	}
}
