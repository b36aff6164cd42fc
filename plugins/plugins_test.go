package plugins

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/adrv-manager/internal/adrv9001"
	"github.com/linht/adrv-manager/internal/adrv9001/regs"
	"github.com/linht/adrv-manager/internal/config"
	"github.com/linht/adrv-manager/internal/emulator"
)

const allChannels = regs.ChannelBitRx1 | regs.ChannelBitRx2 | regs.ChannelBitTx1 | regs.ChannelBitTx2

type testBench struct {
	app *fiber.App
	dev *adrv9001.Device
	emu *emulator.Emulator
	env *Env
}

func newBench(t *testing.T, names ...string) *testBench {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	emu := emulator.New(emulator.Options{InitializedChannels: allChannels, Logger: log})
	dev := adrv9001.New(emu, adrv9001.Options{
		Logger:              log,
		InitializedChannels: allChannels,
		ProfileMasks:        [2]uint32{0x1, 0x0},
	})
	t.Cleanup(func() { dev.Close() })

	env := &Env{
		Device: dev,
		Config: &config.Config{WarmBoot: config.WarmBootConfig{Dir: t.TempDir()}},
		Logger: log,
	}
	app := fiber.New()
	for _, name := range names {
		factory, ok := Get(name)
		if !ok {
			t.Fatalf("plugin %q not registered", name)
		}
		p, err := factory(env)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p.RegisterRoutes(app)
		t.Cleanup(func() { p.Shutdown() })
	}
	return &testBench{app: app, dev: dev, emu: emu, env: env}
}

// call sends a JSON request and decodes the response envelope.
func (b *testBench) call(t *testing.T, method, path string, body interface{}) (int, APIResponse) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (b *testBench) initCals(t *testing.T) {
	t.Helper()
	if code, resp := b.call(t, "POST", "/api/cals/init", nil); code != 200 {
		t.Fatalf("init cals: %d %s", code, resp.Error)
	}
}

func dataMap(t *testing.T, resp APIResponse) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data is %T, want object", resp.Data)
	}
	return m
}

func TestRadioStateFlow(t *testing.T) {
	b := newBench(t, "radio", "cals")

	code, resp := b.call(t, "GET", "/api/radio/state", nil)
	if code != 200 || !resp.Success {
		t.Fatalf("state: %d %s", code, resp.Error)
	}
	channels := dataMap(t, resp)["channels"].(map[string]interface{})
	if channels["rx1"] != "STANDBY" {
		t.Errorf("rx1 = %v, want STANDBY", channels["rx1"])
	}

	// STANDBY channels need init cals first
	code, resp = b.call(t, "POST", "/api/radio/rx/1/state", map[string]string{"state": "PRIMED"})
	if code != 409 {
		t.Fatalf("to PRIMED from STANDBY: status %d, want 409", code)
	}
	if resp.Action != "check_state" {
		t.Errorf("action = %q, want check_state", resp.Action)
	}

	b.initCals(t)

	code, resp = b.call(t, "POST", "/api/radio/rx/1/state", map[string]string{"state": "primed"})
	if code != 200 {
		t.Fatalf("to PRIMED: %d %s", code, resp.Error)
	}
	code, resp = b.call(t, "GET", "/api/radio/rx/1/state", nil)
	if code != 200 {
		t.Fatalf("channel state: %d %s", code, resp.Error)
	}
	got := dataMap(t, resp)
	if got["state"] != "PRIMED" || got["channel"] != "RX1" {
		t.Errorf("channel state = %v", got)
	}

	// the other channels stay calibrated
	_, resp = b.call(t, "GET", "/api/radio/state", nil)
	channels = dataMap(t, resp)["channels"].(map[string]interface{})
	if channels["tx2"] != "CALIBRATED" {
		t.Errorf("tx2 = %v, want CALIBRATED", channels["tx2"])
	}
}

func TestRadioRejectsBadParameters(t *testing.T) {
	b := newBench(t, "radio")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"unknown port", "GET", "/api/radio/ab/1/state", nil, 400},
		{"channel 3", "GET", "/api/radio/rx/3/state", nil, 400},
		{"unknown state", "POST", "/api/radio/tx/1/state", map[string]string{"state": "ON"}, 400},
		{"standby target", "POST", "/api/radio/tx/1/state", map[string]string{"state": "STANDBY"}, 400},
		{"unknown pll", "GET", "/api/radio/pll/lo3/loop-filter", nil, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := b.call(t, tt.method, tt.path, tt.body)
			if code != tt.want {
				t.Errorf("status %d, want %d (%s)", code, tt.want, resp.Error)
			}
			if resp.Success {
				t.Error("expected success=false")
			}
		})
	}
}

func TestBbdcLoopGainEndpoints(t *testing.T) {
	b := newBench(t, "radio", "cals")
	b.initCals(t)

	code, resp := b.call(t, "POST", "/api/radio/rx/2/bbdc-loop-gain", map[string]uint32{"loop_gain": 12345})
	if code != 200 {
		t.Fatalf("set: %d %s", code, resp.Error)
	}
	code, resp = b.call(t, "GET", "/api/radio/rx/2/bbdc-loop-gain", nil)
	if code != 200 {
		t.Fatalf("get: %d %s", code, resp.Error)
	}
	if got := dataMap(t, resp)["loop_gain"]; got != float64(12345) {
		t.Errorf("loop_gain = %v, want 12345", got)
	}
}

func TestArmRegisters(t *testing.T) {
	b := newBench(t, "arm")

	code, resp := b.call(t, "GET", "/api/arm/register/0x003", nil)
	if code != 200 {
		t.Fatalf("read: %d %s", code, resp.Error)
	}
	if got := dataMap(t, resp)["value"]; got != "0x0F" {
		t.Errorf("chip type = %v, want 0x0F", got)
	}

	code, _ = b.call(t, "GET", "/api/arm/register/0x1ffff", nil)
	if code != 400 {
		t.Errorf("out of range address: status %d, want 400", code)
	}

	// version needs the firmware to be known as loaded
	code, _ = b.call(t, "GET", "/api/arm/version", nil)
	if code != 409 {
		t.Errorf("version before probe: status %d, want 409", code)
	}
	if _, err := b.dev.Probe(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	code, resp = b.call(t, "GET", "/api/arm/version", nil)
	if code != 200 {
		t.Fatalf("version: %d %s", code, resp.Error)
	}

	code, resp = b.call(t, "GET", "/api/arm/memory/0x20000000?count=16", nil)
	if code != 200 {
		t.Fatalf("memory: %d %s", code, resp.Error)
	}
	if got := dataMap(t, resp)["hex"].(string); len(got) != 32 {
		t.Errorf("hex = %q, want 16 bytes", got)
	}
	code, _ = b.call(t, "GET", "/api/arm/memory/0x20000000?count=0", nil)
	if code != 400 {
		t.Errorf("count=0: status %d, want 400", code)
	}
}

func TestWarmBootSaveAndRestore(t *testing.T) {
	b := newBench(t, "cals", "warmboot")
	b.initCals(t)
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	b.emu.LoadWarmBootTable([]emulator.WarmBootBlock{
		{Address: 0x20001000, InitMask: adrv9001.InitCalTxQec, ProfileMask: 0x1, Data: data},
	})

	code, resp := b.call(t, "GET", "/api/warmboot/entries", nil)
	if code != 200 {
		t.Fatalf("entries: %d %s", code, resp.Error)
	}
	if entries := resp.Data.([]interface{}); len(entries) != 1 {
		t.Fatalf("entries = %v", entries)
	}

	code, resp = b.call(t, "POST", "/api/warmboot/save/bench", nil)
	if code != 200 {
		t.Fatalf("save: %d %s", code, resp.Error)
	}

	code, resp = b.call(t, "GET", "/api/warmboot/", nil)
	if code != 200 {
		t.Fatalf("list: %d %s", code, resp.Error)
	}
	list := resp.Data.([]interface{})
	if len(list) != 1 || list[0].(map[string]interface{})["name"] != "bench" {
		t.Fatalf("list = %v", list)
	}

	b.emu.SetMemory(0x20001000, make([]byte, len(data)))
	code, resp = b.call(t, "POST", "/api/warmboot/restore/bench", nil)
	if code != 200 {
		t.Fatalf("restore: %d %s", code, resp.Error)
	}
	if got := b.emu.Memory(0x20001000, len(data)); !bytes.Equal(got, data) {
		t.Errorf("restored % X, want % X", got, data)
	}

	if code, _ = b.call(t, "POST", "/api/warmboot/restore/missing", nil); code != 404 {
		t.Errorf("restore missing: status %d, want 404", code)
	}
	if code, _ = b.call(t, "POST", "/api/warmboot/save/-bad", nil); code != 400 {
		t.Errorf("save bad name: status %d, want 400", code)
	}
	if code, _ = b.call(t, "DELETE", "/api/warmboot/bench", nil); code != 200 {
		t.Errorf("delete: status %d", code)
	}
	if code, _ = b.call(t, "DELETE", "/api/warmboot/bench", nil); code != 404 {
		t.Errorf("delete twice: status %d, want 404", code)
	}
}

func TestWarmBootStoreRejectsTraversal(t *testing.T) {
	store, err := NewWarmBootStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"", "..", "a/b", "a..b", ".hidden"} {
		if _, err := store.path(name); !errors.Is(err, ErrSnapshotName) {
			t.Errorf("path(%q) = %v, want ErrSnapshotName", name, err)
		}
	}
	if _, err := store.Load("absent"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Load(absent) = %v, want ErrSnapshotNotFound", err)
	}
}

const profileYAML = `server:
  port: "8080"
auth:
  password_hash: "$2a$10$abcdefghijklmnopqrstuv"
# radio side
device:
  transport: emulator # no hardware on the bench
  initialized_channels: [rx1, rx2, tx1, tx2]
  timeouts:
    init_cals: 30s
plugins: [radio, profile]
`

func TestProfileLoadAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(profileYAML), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := newBench(t)
	b.env.ConfigPath = path
	p, err := NewProfilePlugin(b.env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.RegisterRoutes(b.app)

	code, resp := b.call(t, "GET", "/api/profile", nil)
	if code != 200 {
		t.Fatalf("load: %d %s", code, resp.Error)
	}
	if got := dataMap(t, resp)["transport"]; got != "emulator" {
		t.Errorf("transport = %v, want emulator", got)
	}

	code, resp = b.call(t, "PUT", "/api/profile", map[string]interface{}{
		"initialized_channels": []string{"rx1", "tx1"},
	})
	if code != 200 {
		t.Fatalf("save: %d %s", code, resp.Error)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Device.ChannelMask(); got != regs.ChannelBitRx1|regs.ChannelBitTx1 {
		t.Errorf("channel mask = 0x%02X", got)
	}
	saved, _ := os.ReadFile(path)
	if !bytes.Contains(saved, []byte("# no hardware on the bench")) {
		t.Errorf("comments lost:\n%s", saved)
	}

	// invalid profiles never reach the file
	code, _ = b.call(t, "PUT", "/api/profile", map[string]interface{}{"transport": "carrier-pigeon"})
	if code != 400 {
		t.Errorf("invalid transport: status %d, want 400", code)
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(saved, after) {
		t.Errorf("file changed by rejected update")
	}
}

func TestDeviceErrorStatus(t *testing.T) {
	tests := []struct {
		kind error
		want int
	}{
		{adrv9001.ErrInvalidParameter, 400},
		{adrv9001.ErrInvalidState, 409},
		{adrv9001.ErrMailboxBusy, 409},
		{adrv9001.ErrTimeout, 504},
		{adrv9001.ErrTransport, 502},
		{adrv9001.ErrArmCommand, 502},
		{errors.New("other"), 500},
	}

	for _, tt := range tests {
		err := &adrv9001.Error{Kind: tt.kind, Op: "test"}
		if got := deviceErrorStatus(err); got != tt.want {
			t.Errorf("%v: status %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestDACPluginNeedsBus(t *testing.T) {
	b := newBench(t)
	if _, err := NewDACPlugin(b.env); err == nil {
		t.Fatal("expected error without device.ad9152")
	}
}
