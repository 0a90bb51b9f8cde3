package server

import (
	"strings"
	"time"

	"github.com/StricklySoft/authorizer/pkg/auth"
	sserr "github.com/StricklySoft/authorizer/pkg/errors"
)

// EnvPrefix is the environment variable prefix for [Config], e.g.
// AUTHORIZER_ADDR or AUTHORIZER_AUTH_ISSUER.
const EnvPrefix = "AUTHORIZER"

// Log formats accepted by Config.LogFormat.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config is the process configuration of the forward-auth service. It is
// loaded with [config.Loader] using [EnvPrefix].
type Config struct {
	// Addr is the listen address.
	Addr string `json:"addr" yaml:"addr" env:"ADDR" envDefault:":8080"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is json or text.
	LogFormat string `json:"log_format" yaml:"log_format" env:"LOG_FORMAT" envDefault:"json"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// ReadHeaderTimeout bounds how long a client may take to send headers.
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT" envDefault:"5s"`

	// Auth configures token verification.
	Auth auth.Config `json:"auth" yaml:"auth" env:"AUTH"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return sserr.New(sserr.CodeValidationRequired, "server: listen address must not be empty")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case LogFormatJSON, LogFormatText:
	default:
		return sserr.Newf(sserr.CodeValidationFormat, "server: log format %q is not json or text", c.LogFormat)
	}
	if c.ShutdownTimeout <= 0 || c.ReadHeaderTimeout <= 0 {
		return sserr.Validation("server: timeouts must be positive")
	}
	return c.Auth.Validate()
}
