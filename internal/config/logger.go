package config

import (
	"fmt"

	"lessonsync/internal/logging"
)

// NewLogger builds a logger from the logging section.
func (c *Config) NewLogger(component string) (*logging.Logger, error) {
	c.mu.RLock()
	lc := c.Logging
	c.mu.RUnlock()

	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    lc.Output,
		FilePath:  lc.FilePath,
		Component: component,
	})
}
