// Package logging builds the zap logger used across prload.
package logging

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EncodingConsole = "console"
	EncodingJSON    = "json"
)

// Options select the logger's output.
type Options struct {
	Level    string
	Encoding string
	NoColor  bool

	// OutputPaths defaults to stderr so logs never mix with the summary on
	// stdout.
	OutputPaths []string
}

// New returns a sugared logger for opts.
func New(opts Options) (*zap.SugaredLogger, error) {
	if opts.Level == "" {
		opts.Level = "info"
	}
	if opts.Encoding == "" {
		opts.Encoding = EncodingConsole
	}
	if len(opts.OutputPaths) == 0 {
		opts.OutputPaths = []string{"stderr"}
	}

	if _, err := zapcore.ParseLevel(opts.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}
	if opts.Encoding != EncodingConsole && opts.Encoding != EncodingJSON {
		return nil, fmt.Errorf("invalid log format %q: want console or json", opts.Encoding)
	}

	outputs, err := jsoniter.Marshal(opts.OutputPaths)
	if err != nil {
		return nil, err
	}

	rawJSON := []byte(fmt.Sprintf(`{
	  "level": %q,
	  "encoding": %q,
	  "outputPaths": %s,
	  "errorOutputPaths": ["stderr"],
	  "encoderConfig": {
	    "messageKey": "message",
	    "levelKey": "level",
	    "levelEncoder": "uppercase",
	    "timeKey": "time",
	    "timeEncoder": "ISO8601",
	    "callerKey": "caller",
	    "callerEncoder": "short"
	  }
	}`, opts.Level, opts.Encoding, outputs))

	var cfg zap.Config
	if err := jsoniter.Unmarshal(rawJSON, &cfg); err != nil {
		return nil, fmt.Errorf("logger config: %w", err)
	}
	if opts.Encoding == EncodingConsole && !opts.NoColor {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}
