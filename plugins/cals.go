package plugins

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/adrv-manager/internal/adrv9001"
)

// CalsPlugin runs initial calibrations and manages tracking calibrations
// and the Tx external path delay.
type CalsPlugin struct {
	dev     *adrv9001.Device
	log     *slog.Logger
	timeout time.Duration
}

// NewCalsPlugin creates a new calibration plugin instance
func NewCalsPlugin(env *Env) (*CalsPlugin, error) {
	if env.Device == nil {
		return nil, fmt.Errorf("cals plugin requires a device")
	}
	return &CalsPlugin{
		dev:     env.Device,
		log:     env.logger(),
		timeout: env.initCalsTimeout(),
	}, nil
}

// Name returns the plugin identifier
func (p *CalsPlugin) Name() string {
	return "cals"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *CalsPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/cals")

	api.Post("/init", p.handleInitCals)
	api.Get("/tracking", p.handleGetTracking)
	api.Post("/tracking", p.handleSetTracking)

	api.Post("/path-delay/:ch/calibrate", p.handleCalibratePathDelay)
	api.Get("/path-delay/:ch", p.handleGetPathDelay)
	api.Post("/path-delay/:ch", p.handleSetPathDelay)

	slog.Info("Cals plugin routes registered")
}

// Shutdown performs cleanup
func (p *CalsPlugin) Shutdown() error {
	return nil
}

func txChannelParam(c *fiber.Ctx) (adrv9001.ChannelNumber, error) {
	n, err := c.ParamsInt("ch")
	if err != nil || (n != 1 && n != 2) {
		return 0, fmt.Errorf("invalid channel %q", c.Params("ch"))
	}
	return adrv9001.ChannelNumber(n), nil
}

// handleInitCals handles POST /api/cals/init. An empty body runs every
// calibration.
func (p *CalsPlugin) handleInitCals(c *fiber.Ctx) error {
	cals := adrv9001.InitCalsBuildDefault()
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&cals); err != nil {
			return SendErrorMessage(c, 400, "Invalid request body")
		}
	}

	start := time.Now()
	flag, err := p.dev.InitCalsRun(cals, p.timeout)
	if err != nil {
		p.log.Error("Initial calibrations failed", "error", err, "error_flag", flag)
		return SendDeviceError(c, err)
	}

	elapsed := time.Since(start)
	p.log.Info("Initial calibrations complete", "duration", elapsed)
	return SendSuccess(c, map[string]interface{}{
		"error_flag":  flag,
		"duration_ms": elapsed.Milliseconds(),
	}, "Initial calibrations complete")
}

func (p *CalsPlugin) handleGetTracking(c *fiber.Ctx) error {
	masks, err := p.dev.TrackingGet()
	if err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, map[string]interface{}{"masks": masks}, "")
}

func (p *CalsPlugin) handleSetTracking(c *fiber.Ctx) error {
	var req struct {
		Masks [2]uint32 `json:"masks"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	if err := p.dev.TrackingSet(req.Masks); err != nil {
		return SendDeviceError(c, err)
	}

	p.log.Info("Tracking calibrations set", "masks", fmt.Sprintf("0x%06X/0x%06X", req.Masks[0], req.Masks[1]))
	return SendSuccess(c, nil, "Tracking calibrations set")
}

func (p *CalsPlugin) handleCalibratePathDelay(c *fiber.Ctx) error {
	ch, err := txChannelParam(c)
	if err != nil {
		return SendError(c, 400, err)
	}

	flag, ps, err := p.dev.ExternalPathDelayCalibrate(ch, 0)
	if err != nil {
		return SendDeviceError(c, err)
	}

	p.log.Info("External path delay calibrated", "channel", int(ch), "delay_ps", ps)
	return SendSuccess(c, map[string]interface{}{
		"error_flag": flag,
		"delay_ps":   ps,
	}, "External path delay calibrated")
}

func (p *CalsPlugin) handleGetPathDelay(c *fiber.Ctx) error {
	ch, err := txChannelParam(c)
	if err != nil {
		return SendError(c, 400, err)
	}
	ps, err := p.dev.ExternalPathDelayGet(ch)
	if err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, map[string]interface{}{"delay_ps": ps}, "")
}

func (p *CalsPlugin) handleSetPathDelay(c *fiber.Ctx) error {
	ch, err := txChannelParam(c)
	if err != nil {
		return SendError(c, 400, err)
	}
	var req struct {
		DelayPs uint32 `json:"delay_ps"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	if err := p.dev.ExternalPathDelaySet(ch, req.DelayPs); err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, nil, "External path delay set")
}

// Register the plugin
func init() {
	Register("cals", func(env *Env) (Plugin, error) {
		return NewCalsPlugin(env)
	})
}
