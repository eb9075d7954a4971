package sandbox

import (
	"fmt"

	"github.com/taskbench/taskbench/internal/common/config"
	"github.com/taskbench/taskbench/internal/common/logger"
)

// New creates the provider selected by the configuration.
func New(cfg config.SandboxConfig, log *logger.Logger) (Provider, error) {
	switch cfg.Provider {
	case "sprites":
		return NewSpritesProvider(cfg, log)
	case "docker":
		return NewDockerProvider(cfg, log)
	default:
		return nil, fmt.Errorf("unknown sandbox provider: %s", cfg.Provider)
	}
}
