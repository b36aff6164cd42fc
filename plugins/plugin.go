package plugins

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/adrv-manager/internal/ad9152"
	"github.com/linht/adrv-manager/internal/adrv9001"
	"github.com/linht/adrv-manager/internal/config"
)

// Plugin interface that all plugins must implement
type Plugin interface {
	// Name returns the plugin identifier
	Name() string

	// RegisterRoutes adds the plugin's HTTP routes to the app
	RegisterRoutes(app *fiber.App)

	// Shutdown performs cleanup when the plugin is stopped
	Shutdown() error
}

// Env is what a plugin factory is given. Device is shared by every plugin.
type Env struct {
	Device     *adrv9001.Device
	Config     *config.Config
	ConfigPath string
	DAC        ad9152.Bus // nil unless device.ad9152 is configured
	Logger     *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Env) initCalsTimeout() time.Duration {
	if e.Config == nil {
		return 0
	}
	return e.Config.Device.Timeouts.InitCals
}

// PluginFactory creates a new plugin instance
type PluginFactory func(env *Env) (Plugin, error)

var registry = make(map[string]PluginFactory)

// Register adds a plugin factory to the registry
func Register(name string, factory PluginFactory) {
	registry[name] = factory
}

// Get retrieves a plugin factory by name
func Get(name string) (PluginFactory, bool) {
	factory, exists := registry[name]
	return factory, exists
}
