package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/linht/adrv-manager/internal/adrv9001"
)

// DefaultMonitorInterval is used when the config leaves monitor.interval unset
const DefaultMonitorInterval = 500 * time.Millisecond

// MonitorPlugin streams the radio state to websocket subscribers
type MonitorPlugin struct {
	dev      *adrv9001.Device
	log      *slog.Logger
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	subscribersMu sync.RWMutex
	subscribers   map[string]time.Time
}

// StateUpdate is one message sent to a subscriber
type StateUpdate struct {
	Subscriber string               `json:"subscriber"`
	Time       time.Time            `json:"time"`
	State      *adrv9001.RadioState `json:"state,omitempty"`
	DevState   string               `json:"dev_state"`
	Error      string               `json:"error,omitempty"`
}

// NewMonitorPlugin creates a new monitor plugin instance
func NewMonitorPlugin(env *Env) (*MonitorPlugin, error) {
	if env.Device == nil {
		return nil, fmt.Errorf("monitor plugin requires a device")
	}

	interval := DefaultMonitorInterval
	if env.Config != nil && env.Config.Monitor.Interval > 0 {
		interval = env.Config.Monitor.Interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &MonitorPlugin{
		dev:         env.Device,
		log:         env.logger(),
		interval:    interval,
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[string]time.Time),
	}, nil
}

// Name returns the plugin identifier
func (p *MonitorPlugin) Name() string {
	return "monitor"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *MonitorPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/monitor")

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(p.handleWebSocket))
	api.Get("/subscribers", p.listSubscribers)
}

// Shutdown stops every stream
func (p *MonitorPlugin) Shutdown() error {
	p.cancel()
	return nil
}

func (p *MonitorPlugin) snapshot(id string) StateUpdate {
	u := StateUpdate{
		Subscriber: id,
		Time:       time.Now().UTC(),
		DevState:   fmt.Sprintf("0x%02X", uint32(p.dev.DevState())),
	}
	rs, err := p.dev.RadioState()
	if err != nil {
		u.Error = err.Error()
		return u
	}
	u.State = &rs
	return u
}

// handleWebSocket sends a StateUpdate every interval until the client
// disconnects or the plugin shuts down.
func (p *MonitorPlugin) handleWebSocket(c *websocket.Conn) {
	id := uuid.New().String()

	p.subscribersMu.Lock()
	p.subscribers[id] = time.Now()
	p.subscribersMu.Unlock()
	defer func() {
		p.subscribersMu.Lock()
		delete(p.subscribers, id)
		p.subscribersMu.Unlock()
		p.log.Info("Monitor subscriber left", "subscriber", id)
	}()
	p.log.Info("Monitor subscriber joined", "subscriber", id)

	// Incoming messages are ignored; a read error means the peer is gone.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := c.WriteJSON(p.snapshot(id)); err != nil {
			return
		}
		select {
		case <-p.ctx.Done():
			c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-gone:
			return
		case <-ticker.C:
		}
	}
}

func (p *MonitorPlugin) listSubscribers(c *fiber.Ctx) error {
	p.subscribersMu.RLock()
	defer p.subscribersMu.RUnlock()

	list := make([]fiber.Map, 0, len(p.subscribers))
	for id, since := range p.subscribers {
		list = append(list, fiber.Map{"id": id, "since": since})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i]["since"].(time.Time).Before(list[j]["since"].(time.Time))
	})

	return SendSuccess(c, list, "")
}

// Register the plugin
func init() {
	Register("monitor", func(env *Env) (Plugin, error) {
		return NewMonitorPlugin(env)
	})
}
