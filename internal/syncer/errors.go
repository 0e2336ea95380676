package syncer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mindwtr/mindwtr/internal/config"
)

// maxErrorLength caps settings.lastSyncError.
const maxErrorLength = 500

// ConfigError reports a backend that cannot be used as configured. It is
// raised before any I/O and is never retried.
type ConfigError struct {
	Backend config.Backend
	Msg     string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// StepError is a failure at a named step of a sync run.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

var redactions = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9._~+/=-]+`), "$1 [redacted]"},
	{regexp.MustCompile(`(?i)\b(password|passwd|token|apikey|api_key|secret)(["']?\s*[:=]\s*["']?)[^\s&"',}]+`), "$1$2[redacted]"},
	{regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://)[^/\s@]+@`), "$1[redacted]@"},
}

// SanitizeErrorMessage removes credentials from msg, caps its length and
// points at the log file when logPath is set.
func SanitizeErrorMessage(msg, logPath string) string {
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.repl)
	}
	msg = strings.TrimSpace(msg)
	if runes := []rune(msg); len(runes) > maxErrorLength {
		msg = string(runes[:maxErrorLength-3]) + "..."
	}
	if logPath != "" {
		msg += " (see log: " + logPath + ")"
	}
	return msg
}
