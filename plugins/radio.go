package plugins

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/adrv-manager/internal/adrv9001"
)

// RadioPlugin exposes the channel state machine and the per-channel RF
// settings of the shared device.
type RadioPlugin struct {
	dev *adrv9001.Device
	log *slog.Logger
}

// NewRadioPlugin creates a new radio plugin instance
func NewRadioPlugin(env *Env) (*RadioPlugin, error) {
	if env.Device == nil {
		return nil, fmt.Errorf("radio plugin requires a device")
	}
	return &RadioPlugin{dev: env.Device, log: env.logger()}, nil
}

// Name returns the plugin identifier
func (p *RadioPlugin) Name() string {
	return "radio"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *RadioPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/radio")

	api.Get("/state", p.handleRadioState)

	// Synthesizers
	api.Get("/pll/:pll/loop-filter", p.handleGetLoopFilter)
	api.Post("/pll/:pll/loop-filter", p.handleSetLoopFilter)

	// Channel state machine
	api.Get("/:port/:ch/state", p.handleGetChannelState)
	api.Post("/:port/:ch/state", p.handleToState)
	api.Post("/:port/:ch/prime", p.handlePrime)
	api.Post("/:port/:ch/enable-rf", p.handleEnableRf)
	api.Post("/:port/:ch/power-down", p.handlePowerDown)
	api.Post("/:port/:ch/power-up", p.handlePowerUp)

	// Channel settings
	api.Get("/:port/:ch/carrier", p.handleGetCarrier)
	api.Post("/:port/:ch/carrier", p.handleSetCarrier)
	api.Get("/:port/:ch/bbdc-loop-gain", p.handleGetBbdcLoopGain)
	api.Post("/:port/:ch/bbdc-loop-gain", p.handleSetBbdcLoopGain)

	slog.Info("Radio plugin routes registered")
}

// Shutdown performs cleanup
func (p *RadioPlugin) Shutdown() error {
	// The device is owned by main
	return nil
}

// channelParams parses the :port and :ch route parameters.
func channelParams(c *fiber.Ctx) (adrv9001.Port, adrv9001.ChannelNumber, error) {
	port, err := adrv9001.ParsePort(c.Params("port"))
	if err != nil {
		return 0, 0, err
	}
	n, err := c.ParamsInt("ch")
	if err != nil || (n != 1 && n != 2) {
		return 0, 0, fmt.Errorf("invalid channel %q", c.Params("ch"))
	}
	return port, adrv9001.ChannelNumber(n), nil
}

func parsePll(s string) (adrv9001.Pll, error) {
	switch strings.ToLower(s) {
	case "lo1":
		return adrv9001.PllLo1, nil
	case "lo2":
		return adrv9001.PllLo2, nil
	case "aux":
		return adrv9001.PllAux, nil
	}
	return 0, fmt.Errorf("unknown pll %q", s)
}

func (p *RadioPlugin) handleRadioState(c *fiber.Ctx) error {
	rs, err := p.dev.RadioState()
	if err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, rs, "")
}

func (p *RadioPlugin) handleGetChannelState(c *fiber.Ctx) error {
	port, ch, err := channelParams(c)
	if err != nil {
		return SendError(c, 400, err)
	}

	state, err := p.dev.ChannelState(port, ch)
	if err != nil {
		return SendDeviceError(c, err)
	}
	mode, err := p.dev.ChannelEnableMode(port, ch)
	if err != nil {
		return SendDeviceError(c, err)
	}

	return SendSuccess(c, map[string]interface{}{
		"channel":     adrv9001.Channel{Port: port, Number: ch}.String(),
		"state":       state,
		"enable_mode": mode.String(),
	}, "")
}

func (p *RadioPlugin) handleToState(c *fiber.Ctx) error {
	port, ch, err := channelParams(c)
	if err != nil {
		return SendError(c, 400, err)
	}
	var req struct {
		State string `json:"state"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}
	target, err := adrv9001.ParseChannelState(req.State)
	if err != nil {
		return SendDeviceError(c, err)
	}

	if err := p.dev.ToState(port, ch, target); err != nil {
		return SendDeviceError(c, err)
	}

	p.log.Info("Channel state changed", "port", port, "channel", int(ch), "state", target)
	return SendSuccess(c, map[string]interface{}{"state": target}, "Channel state changed")
}

func (p *RadioPlugin) handlePrime(c *fiber.Ctx) error {
	port, ch, err := channelParams(c)
	if err != nil {
		return SendError(c, 400, err)
	}
	var req struct {
		Prime bool `json:"prime"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	if err := p.dev.Prime(port, ch, req.Prime); err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, nil, fmt.Sprintf("Prime set to %t", req.Prime))
}

func (p *RadioPlugin) handleEnableRf(c *fiber.Ctx) error {
	port, ch, err := channelParams(c)
	if err != nil {
		return SendError(c, 400, err)
	}
	var req struct {
		Enable bool `json:"enable"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	if err := p.dev.EnableRf(port, ch, req.Enable); err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, nil, fmt.Sprintf("RF enable set to %t", req.Enable))
}

func (p *RadioPlugin) handlePowerDown(c *fiber.Ctx) error {
	port, ch, err := channelParams(c)
	if err != nil {
		return SendError(c, 400, err)
	}
	if err := p.dev.PowerDown(port, ch); err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, nil, "Channel powered down")
}

func (p *RadioPlugin) handlePowerUp(c *fiber.Ctx) error {
	port, ch, err := channelParams(c)
	if err != nil {
		return SendError(c, 400, err)
	}
	if err := p.dev.PowerUp(port, ch); err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, nil, "Channel powered up")
}

// Channel settings handlers

func (p *RadioPlugin) handleGetCarrier(c *fiber.Ctx) error {
	port, ch, err := channelParams(c)
	if err != nil {
		return SendError(c, 400, err)
	}
	carrier, err := p.dev.CarrierInspect(port, ch)
	if err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, carrier, "")
}

func (p *RadioPlugin) handleSetCarrier(c *fiber.Ctx) error {
	port, ch, err := channelParams(c)
	if err != nil {
		return SendError(c, 400, err)
	}
	var carrier adrv9001.Carrier
	if err := c.BodyParser(&carrier); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	if err := p.dev.CarrierConfigure(port, ch, carrier); err != nil {
		return SendDeviceError(c, err)
	}

	p.log.Info("Carrier configured", "port", port, "channel", int(ch), "frequency_hz", carrier.FrequencyHz)
	return SendSuccess(c, carrier, "Carrier configured")
}

func (p *RadioPlugin) handleGetBbdcLoopGain(c *fiber.Ctx) error {
	port, ch, err := channelParams(c)
	if err != nil {
		return SendError(c, 400, err)
	}
	gain, err := p.dev.BbdcLoopGainGet(port, ch)
	if err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, map[string]interface{}{"loop_gain": gain}, "")
}

func (p *RadioPlugin) handleSetBbdcLoopGain(c *fiber.Ctx) error {
	port, ch, err := channelParams(c)
	if err != nil {
		return SendError(c, 400, err)
	}
	var req struct {
		LoopGain uint32 `json:"loop_gain"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	if err := p.dev.BbdcLoopGainSet(port, ch, req.LoopGain); err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, map[string]interface{}{"loop_gain": req.LoopGain}, "BBDC loop gain set")
}

func (p *RadioPlugin) handleGetLoopFilter(c *fiber.Ctx) error {
	pll, err := parsePll(c.Params("pll"))
	if err != nil {
		return SendError(c, 400, err)
	}
	lf, err := p.dev.PllLoopFilterGet(pll)
	if err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, lf, "")
}

func (p *RadioPlugin) handleSetLoopFilter(c *fiber.Ctx) error {
	pll, err := parsePll(c.Params("pll"))
	if err != nil {
		return SendError(c, 400, err)
	}
	var lf adrv9001.PllLoopFilter
	if err := c.BodyParser(&lf); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	if err := p.dev.PllLoopFilterSet(pll, lf); err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, nil, fmt.Sprintf("%s loop filter set", pll))
}

// Register the plugin
func init() {
	Register("radio", func(env *Env) (Plugin, error) {
		return NewRadioPlugin(env)
	})
}
