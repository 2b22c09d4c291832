package services

import "fmt"

// ConfigError reports a caller mistake detected before any download, file
// write or process start.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
