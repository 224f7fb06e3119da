package engineargs

import (
	"errors"
	"fmt"
)

// ConfigurationError reports malformed or missing engine configuration.
// It is fatal at startup.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return "engine configuration: " + e.Reason
	}
	return fmt.Sprintf("engine configuration: --%s: %s", e.Key, e.Reason)
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func configErr(key, format string, args ...any) error {
	return &ConfigurationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}
