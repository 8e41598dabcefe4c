//go:build windows

package audit

import "fmt"

func NewSyslogLogger(config *Config) (Logger, error) {
	return nil, fmt.Errorf("syslog audit logging is not supported on windows")
}
