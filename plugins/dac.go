package plugins

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/adrv-manager/internal/ad9152"
)

// dacLanes is the lane mask of the 4-lane link set up by ad9152.Setup
const dacLanes = 0x0f

// DACPlugin brings up the AD9152 companion DAC and reports its JESD204B
// link
type DACPlugin struct {
	bus      ad9152.Bus
	laneRate uint32
	log      *slog.Logger

	// held across Setup so a status read never sees a half written link
	mu sync.Mutex
}

// NewDACPlugin creates a new DAC plugin instance
func NewDACPlugin(env *Env) (*DACPlugin, error) {
	if env.DAC == nil || env.Config == nil || env.Config.Device.AD9152 == nil {
		return nil, fmt.Errorf("dac plugin requires device.ad9152")
	}
	return &DACPlugin{
		bus:      env.DAC,
		laneRate: env.Config.Device.AD9152.LaneRateKbps,
		log:      env.logger(),
	}, nil
}

// Name returns the plugin identifier
func (p *DACPlugin) Name() string {
	return "dac"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *DACPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/dac")

	api.Post("/setup", p.handleSetup)
	api.Get("/status", p.handleStatus)
}

// Shutdown performs cleanup
func (p *DACPlugin) Shutdown() error {
	return nil
}

// handleSetup handles POST /api/dac/setup. The body may override the
// configured lane rate.
func (p *DACPlugin) handleSetup(c *fiber.Ctx) error {
	req := struct {
		LaneRateKbps uint32 `json:"lane_rate_kbps"`
	}{LaneRateKbps: p.laneRate}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return SendErrorMessage(c, 400, "Invalid request body")
		}
	}

	p.mu.Lock()
	err := ad9152.Setup(p.bus, ad9152.InitParam{LaneRateKbps: req.LaneRateKbps, Logger: p.log})
	p.mu.Unlock()

	switch {
	case errors.Is(err, ad9152.ErrLaneRate):
		return SendError(c, 400, err)
	case err != nil:
		p.log.Error("DAC setup failed", "error", err)
		return SendError(c, 502, err)
	}
	return SendSuccess(c, map[string]interface{}{"lane_rate_kbps": req.LaneRateKbps}, "DAC setup complete")
}

func (p *DACPlugin) handleStatus(c *fiber.Ctx) error {
	p.mu.Lock()
	status, err := ad9152.Status(p.bus)
	p.mu.Unlock()
	if err != nil {
		return SendError(c, 502, err)
	}

	return SendSuccess(c, map[string]interface{}{
		"link":    status,
		"link_up": status.Up(dacLanes),
	}, "")
}

// Register the plugin
func init() {
	Register("dac", func(env *Env) (Plugin, error) {
		return NewDACPlugin(env)
	})
}
