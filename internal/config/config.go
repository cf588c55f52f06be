// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	comms "github.com/nats-io/nats.go"
)

const logPrefix = "config:LoadConfig"

// Transport protocols.
const (
	ProtocolTCP  = "tcp"
	ProtocolUDP  = "udp"
	ProtocolNATS = "nats"
)

// Wire codecs selectable with SERVEAPI_CODEC.
const (
	CodecSimple     = "simple"
	CodecID         = "id"
	CodecHashed     = "hashed"
	CodecHeader     = "header"
	CodecJSONHeader = "json-header"
	CodecJSON       = "json"
	CodecCBOR       = "cbor"
)

// Config holds serveapi configuration.
type Config struct {
	// Transport
	Protocol   string `envconfig:"SERVEAPI_PROTOCOL" default:"tcp"`
	Host       string `envconfig:"SERVEAPI_HOST" default:"127.0.0.1"`
	Port       int    `envconfig:"SERVEAPI_PORT" default:"8765"`
	ReadBuffer int    `envconfig:"SERVEAPI_READ_BUFFER" default:"1024"`

	// Pipeline
	Codec          string        `envconfig:"SERVEAPI_CODEC" default:"simple"`
	FireAndForget  bool          `envconfig:"SERVEAPI_FIRE_AND_FORGET" default:"false"`
	Ack            bool          `envconfig:"SERVEAPI_ACK" default:"true"`
	RequestTimeout time.Duration `envconfig:"SERVEAPI_REQUEST_TIMEOUT" default:"0s"`

	// COMMS: connect to standalone NATS at COMMSURL. Used by the nats
	// protocol and by outcome events.
	COMMSURL      string `envconfig:"COMMS_URL"`
	COMMSName     string `envconfig:"SERVICE_NAME" default:"serveapi"`
	COMMSCreds    string `envconfig:"COMMS_CREDS"`
	Subject       string `envconfig:"SERVEAPI_SUBJECT"`
	EventsSubject string `envconfig:"SERVEAPI_EVENTS_SUBJECT"`

	// HTTP status endpoint (empty = disabled, e.g. "127.0.0.1:8080")
	HTTPAddr string `envconfig:"SERVEAPI_HTTP_ADDR"`

	ShutdownTimeout time.Duration `envconfig:"SERVEAPI_SHUTDOWN_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Addr returns the host:port the tcp and udp transports listen on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// COMMSOptions returns the connection options set by the environment, applied
// on top of the commsutil defaults.
func (c *Config) COMMSOptions() []comms.Option {
	var opts []comms.Option
	if c.COMMSCreds != "" {
		opts = append(opts, comms.UserCredentials(c.COMMSCreds))
	}
	return opts
}

// EventsEnabled reports whether outcome events are published to COMMS.
func (c *Config) EventsEnabled() bool {
	return c.COMMSURL != ""
}

// ValidateForServe checks required config when running the server.
func (c *Config) ValidateForServe() error {
	switch c.Protocol {
	case ProtocolTCP, ProtocolUDP:
		if c.Port < 0 || c.Port > 65535 {
			return fmt.Errorf("%s - SERVEAPI_PORT %d out of range", logPrefix, c.Port)
		}
	case ProtocolNATS:
		if c.COMMSURL == "" {
			return fmt.Errorf("%s - COMMS_URL is required for protocol nats", logPrefix)
		}
	default:
		return fmt.Errorf("%s - unknown SERVEAPI_PROTOCOL %q", logPrefix, c.Protocol)
	}
	switch c.Codec {
	case CodecSimple, CodecID, CodecHashed, CodecHeader, CodecJSONHeader, CodecJSON, CodecCBOR:
	default:
		return fmt.Errorf("%s - unknown SERVEAPI_CODEC %q", logPrefix, c.Codec)
	}
	if c.ReadBuffer <= 0 {
		return fmt.Errorf("%s - SERVEAPI_READ_BUFFER must be positive", logPrefix)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%s - SERVEAPI_REQUEST_TIMEOUT must not be negative", logPrefix)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%s - SERVEAPI_SHUTDOWN_TIMEOUT must be positive", logPrefix)
	}
	return nil
}
