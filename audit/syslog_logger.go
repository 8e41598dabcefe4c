//go:build !windows

package audit

import (
	"encoding/json"
	"fmt"
	"log/syslog"
)

var _ Logger = (*SyslogLogger)(nil)

type SyslogOptions struct {
	Network string `json:"network,omitempty"` // "tcp", "udp", or empty for local
	Address string `json:"address,omitempty"` // e.g. "localhost:514"
	Tag     string `json:"tag,omitempty"`
}

// SyslogLogger forwards audit events to syslog. Syslog is write-only,
// so there is no query support.
type SyslogLogger struct {
	writer *syslog.Writer
}

func NewSyslogLogger(config *Config) (*SyslogLogger, error) {
	var opts SyslogOptions
	if err := decodeOptions(config.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid syslog logger options: %w", err)
	}
	if opts.Tag == "" {
		opts.Tag = "sealbox-audit"
	}

	var writer *syslog.Writer
	var err error
	if opts.Network != "" && opts.Address != "" {
		writer, err = syslog.Dial(opts.Network, opts.Address, syslog.LOG_INFO|syslog.LOG_USER, opts.Tag)
	} else {
		writer, err = syslog.New(syslog.LOG_INFO|syslog.LOG_USER, opts.Tag)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create syslog writer: %w", err)
	}
	return &SyslogLogger{writer: writer}, nil
}

func (s *SyslogLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	if s.writer == nil {
		return fmt.Errorf("syslog writer not initialized")
	}

	line, err := json.Marshal(newEvent(action, success, metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	message := "SEALBOX_AUDIT: " + string(line)

	if !success {
		return s.writer.Warning(message)
	}
	return s.writer.Info(message)
}

func (s *SyslogLogger) Close() error {
	if s.writer != nil {
		err := s.writer.Close()
		s.writer = nil
		return err
	}
	return nil
}
