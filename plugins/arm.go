package plugins

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/adrv-manager/internal/adrv9001"
	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// Memory dump limits
const (
	DefaultDumpBytes = 64
	MaxDumpBytes     = 4096
)

// ArmPlugin exposes the ARM firmware state, raw SPI registers and ARM
// memory for diagnostics.
type ArmPlugin struct {
	dev *adrv9001.Device
	log *slog.Logger
}

// NewArmPlugin creates a new ARM plugin instance
func NewArmPlugin(env *Env) (*ArmPlugin, error) {
	if env.Device == nil {
		return nil, fmt.Errorf("arm plugin requires a device")
	}
	return &ArmPlugin{dev: env.Device, log: env.logger()}, nil
}

// Name returns the plugin identifier
func (p *ArmPlugin) Name() string {
	return "arm"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *ArmPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/arm")

	api.Get("/version", p.handleVersion)
	api.Get("/status", p.handleStatus)
	api.Get("/system-error", p.handleSystemError)
	api.Get("/memory/:addr", p.handleReadMemory)

	// Register access endpoints
	api.Get("/registers", p.handleReadAllRegisters)
	api.Get("/register/:addr", p.handleReadRegister)
	api.Post("/register/:addr", p.handleWriteRegister)

	slog.Info("ARM plugin routes registered")
}

// Shutdown performs cleanup
func (p *ArmPlugin) Shutdown() error {
	return nil
}

// parseAddress accepts decimal or 0x-prefixed hex.
func parseAddress(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return v, nil
}

func (p *ArmPlugin) handleVersion(c *fiber.Ctx) error {
	v, err := p.dev.ArmVersion()
	if err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, map[string]interface{}{
		"version": v.String(),
		"detail":  v,
	}, "")
}

func (p *ArmPlugin) handleStatus(c *fiber.Ctx) error {
	errWord, statusWord, err := p.dev.CommandStatusAll()
	if err != nil {
		return SendDeviceError(c, err)
	}
	busy, err := p.dev.MailboxBusy()
	if err != nil {
		return SendDeviceError(c, err)
	}

	status := map[string]interface{}{
		"dev_state":    fmt.Sprintf("0x%02X", uint32(p.dev.DevState())),
		"mailbox_busy": busy,
		"error_word":   fmt.Sprintf("0x%04X", errWord),
		"status_word":  fmt.Sprintf("0x%04X", statusWord),
	}
	if action, lastErr := p.dev.LastError(); lastErr != nil {
		status["last_error"] = lastErr.Error()
		status["last_action"] = action.String()
	}
	return SendSuccess(c, status, "")
}

func (p *ArmPlugin) handleSystemError(c *fiber.Ctx) error {
	obj, code, err := p.dev.SystemError()
	if err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, map[string]interface{}{
		"object": obj.String(),
		"code":   code,
	}, "")
}

// handleReadMemory handles GET /api/arm/memory/:addr?count=N
func (p *ArmPlugin) handleReadMemory(c *fiber.Ctx) error {
	addr, err := parseAddress(c.Params("addr"), 32)
	if err != nil {
		return SendError(c, 400, err)
	}
	count := c.QueryInt("count", DefaultDumpBytes)
	if count <= 0 || count > MaxDumpBytes {
		return SendErrorMessage(c, 400, fmt.Sprintf("count must be 1..%d", MaxDumpBytes))
	}

	buf := make([]byte, count)
	if err := p.dev.MemoryRead(uint32(addr), buf, true); err != nil {
		return SendDeviceError(c, err)
	}

	return SendSuccess(c, map[string]interface{}{
		"address": fmt.Sprintf("0x%08X", addr),
		"count":   count,
		"hex":     hex.EncodeToString(buf),
		"dump":    hex.Dump(buf),
	}, "")
}

func registerEntry(addr uint16, value uint8) map[string]interface{} {
	desc := regs.RegisterDescriptions[addr]
	if desc == "" {
		desc = "Unknown register"
	}
	return map[string]interface{}{
		"address":     fmt.Sprintf("0x%04X", addr),
		"value":       fmt.Sprintf("0x%02X", value),
		"value_dec":   value,
		"description": desc,
	}
}

func (p *ArmPlugin) handleReadRegister(c *fiber.Ctx) error {
	addr, err := parseAddress(c.Params("addr"), 16)
	if err != nil {
		return SendError(c, 400, err)
	}

	value, err := p.dev.SPIReadByte(uint16(addr))
	if err != nil {
		return SendDeviceError(c, err)
	}
	return SendSuccess(c, registerEntry(uint16(addr), value), "")
}

func (p *ArmPlugin) handleWriteRegister(c *fiber.Ctx) error {
	addr, err := parseAddress(c.Params("addr"), 16)
	if err != nil {
		return SendError(c, 400, err)
	}
	var req struct {
		Value uint8 `json:"value"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	if err := p.dev.SPIWriteByte(uint16(addr), req.Value); err != nil {
		return SendDeviceError(c, err)
	}

	p.log.Info("Register write", "address", fmt.Sprintf("0x%04X", addr), "value", fmt.Sprintf("0x%02X", req.Value))
	return SendSuccess(c, nil, "Register written successfully")
}

// handleReadAllRegisters reads every register with a description.
func (p *ArmPlugin) handleReadAllRegisters(c *fiber.Ctx) error {
	addrs := make([]uint16, 0, len(regs.RegisterDescriptions))
	for addr := range regs.RegisterDescriptions {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	list := make([]map[string]interface{}, 0, len(addrs))
	for _, addr := range addrs {
		value, err := p.dev.SPIReadByte(addr)
		if err != nil {
			return SendDeviceError(c, err)
		}
		list = append(list, registerEntry(addr, value))
	}

	return SendSuccess(c, map[string]interface{}{
		"registers": list,
		"count":     len(list),
	}, "")
}

// Register the plugin
func init() {
	Register("arm", func(env *Env) (Plugin, error) {
		return NewArmPlugin(env)
	})
}
