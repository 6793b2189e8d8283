package config

import (
	"fmt"

	"github.com/marmos91/oncrpc/internal/logger"
)

// ConfigureLogging applies the logging section to the global logger.
func ConfigureLogging(cfg *LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	if err := logger.SetOutput(cfg.Output); err != nil {
		return fmt.Errorf("failed to set log output %q: %w", cfg.Output, err)
	}
	return nil
}
