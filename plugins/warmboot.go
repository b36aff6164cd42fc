package plugins

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/adrv-manager/internal/adrv9001"
	"gopkg.in/yaml.v3"
)

const warmBootExt = ".yaml"

var warmBootNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Store errors
var (
	ErrSnapshotNotFound = errors.New("warm boot snapshot not found")
	ErrSnapshotName     = errors.New("invalid snapshot name")
)

// WarmBootBlock is one stored coefficient block
type WarmBootBlock struct {
	Index       int    `yaml:"index" json:"index"`
	Address     uint32 `yaml:"address" json:"address"`
	Size        uint32 `yaml:"size" json:"size"`
	InitMask    uint32 `yaml:"init_mask" json:"init_mask"`
	ProfileMask uint32 `yaml:"profile_mask" json:"profile_mask"`
	Data        string `yaml:"data" json:"-"` // hex
}

// WarmBootSnapshot is the yaml document stored per name
type WarmBootSnapshot struct {
	Name       string            `yaml:"name" json:"name"`
	SavedAt    time.Time         `yaml:"saved_at" json:"saved_at"`
	ArmVersion string            `yaml:"arm_version,omitempty" json:"arm_version,omitempty"`
	InitCals   adrv9001.InitCals `yaml:"init_cals" json:"init_cals"`
	Blocks     []WarmBootBlock   `yaml:"blocks" json:"blocks"`
}

func snapshotOf(name string, cals adrv9001.InitCals, coeffs []adrv9001.WarmBootCoefficients) WarmBootSnapshot {
	s := WarmBootSnapshot{Name: name, SavedAt: time.Now().UTC(), InitCals: cals}
	for _, c := range coeffs {
		s.Blocks = append(s.Blocks, WarmBootBlock{
			Index:       c.Entry.Index,
			Address:     c.Entry.Address,
			Size:        c.Entry.Size,
			InitMask:    c.Entry.InitMask,
			ProfileMask: c.Entry.ProfileMask,
			Data:        hex.EncodeToString(c.Data),
		})
	}
	return s
}

// Coefficients decodes the stored blocks.
func (s WarmBootSnapshot) Coefficients() ([]adrv9001.WarmBootCoefficients, error) {
	out := make([]adrv9001.WarmBootCoefficients, 0, len(s.Blocks))
	for _, b := range s.Blocks {
		data, err := hex.DecodeString(b.Data)
		if err != nil {
			return nil, fmt.Errorf("block %d: invalid data: %w", b.Index, err)
		}
		out = append(out, adrv9001.WarmBootCoefficients{
			Entry: adrv9001.WarmBootEntry{
				Index:       b.Index,
				Address:     b.Address,
				Size:        b.Size,
				InitMask:    b.InitMask,
				ProfileMask: b.ProfileMask,
			},
			Data: data,
		})
	}
	return out, nil
}

// WarmBootStore keeps snapshots as yaml files in one directory
type WarmBootStore struct {
	dir string
}

// NewWarmBootStore creates dir if needed.
func NewWarmBootStore(dir string) (*WarmBootStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("warmboot.dir is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create warm boot directory: %w", err)
	}
	return &WarmBootStore{dir: dir}, nil
}

// path validates name and returns its file. Names never contain a path
// separator, so the result stays inside the store directory.
func (s *WarmBootStore) path(name string) (string, error) {
	if !warmBootNamePattern.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w %q", ErrSnapshotName, name)
	}
	return filepath.Join(s.dir, name+warmBootExt), nil
}

func (s *WarmBootStore) Save(snap WarmBootSnapshot) error {
	path, err := s.path(snap.Name)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	// temp file renamed into place
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (s *WarmBootStore) Load(name string) (WarmBootSnapshot, error) {
	var snap WarmBootSnapshot
	path, err := s.path(name)
	if err != nil {
		return snap, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, ErrSnapshotNotFound
		}
		return snap, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return snap, nil
}

func (s *WarmBootStore) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrSnapshotNotFound
		}
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// SnapshotInfo is a list entry
type SnapshotInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// List returns the stored snapshots sorted by name.
func (s *WarmBootStore) List() ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	items := make([]SnapshotInfo, 0, len(entries))
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), warmBootExt)
		if !ok || entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, SnapshotInfo{Name: name, Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// WarmBootPlugin saves calibration coefficients from the device and writes
// them back so init cals can be skipped on the next boot
type WarmBootPlugin struct {
	dev   *adrv9001.Device
	store *WarmBootStore
	log   *slog.Logger
}

// NewWarmBootPlugin creates a new warm boot plugin instance
func NewWarmBootPlugin(env *Env) (*WarmBootPlugin, error) {
	if env.Device == nil {
		return nil, fmt.Errorf("warmboot plugin requires a device")
	}
	dir := ""
	if env.Config != nil {
		dir = env.Config.WarmBoot.Dir
	}
	store, err := NewWarmBootStore(dir)
	if err != nil {
		return nil, err
	}
	return &WarmBootPlugin{dev: env.Device, store: store, log: env.logger()}, nil
}

// Name returns the plugin identifier
func (p *WarmBootPlugin) Name() string {
	return "warmboot"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *WarmBootPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/warmboot")

	api.Get("/", p.listSnapshots)
	api.Get("/entries", p.listEntries)
	api.Get("/:name", p.downloadSnapshot)
	api.Post("/save/:name", p.saveSnapshot)
	api.Post("/restore/:name", p.restoreSnapshot)
	api.Delete("/:name", p.deleteSnapshot)
}

// Shutdown performs cleanup
func (p *WarmBootPlugin) Shutdown() error {
	return nil
}

func sendStoreError(c *fiber.Ctx, err error) error {
	if errors.Is(err, ErrSnapshotNotFound) {
		return SendErrorMessage(c, 404, err.Error())
	}
	if errors.Is(err, ErrSnapshotName) {
		return SendErrorMessage(c, 400, err.Error())
	}
	return SendError(c, 500, err)
}

// listSnapshots handles GET /api/warmboot
func (p *WarmBootPlugin) listSnapshots(c *fiber.Ctx) error {
	items, err := p.store.List()
	if err != nil {
		return SendError(c, 500, err)
	}
	return SendSuccess(c, items, "")
}

// listEntries handles GET /api/warmboot/entries, the live table in ARM
// memory
func (p *WarmBootPlugin) listEntries(c *fiber.Ctx) error {
	entries := make([]adrv9001.WarmBootEntry, 0)
	for e, err := range p.dev.WarmBootEntries() {
		if err != nil {
			return SendDeviceError(c, err)
		}
		entries = append(entries, e)
	}
	return SendSuccess(c, entries, "")
}

// downloadSnapshot handles GET /api/warmboot/:name
func (p *WarmBootPlugin) downloadSnapshot(c *fiber.Ctx) error {
	path, err := p.store.path(c.Params("name"))
	if err != nil {
		return SendErrorMessage(c, 400, err.Error())
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return SendErrorMessage(c, 404, ErrSnapshotNotFound.Error())
		}
		return SendError(c, 500, err)
	}

	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	return c.SendFile(path)
}

// saveSnapshot handles POST /api/warmboot/save/:name. The body selects the
// calibrations whose coefficients are saved; an empty body saves all.
func (p *WarmBootPlugin) saveSnapshot(c *fiber.Ctx) error {
	name := c.Params("name")
	if _, err := p.store.path(name); err != nil {
		return SendErrorMessage(c, 400, err.Error())
	}

	cals := adrv9001.InitCalsBuildDefault()
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&cals); err != nil {
			return SendErrorMessage(c, 400, "Invalid request body")
		}
	}

	coeffs, err := p.dev.WarmBootCoefficientsGet(cals)
	if err != nil {
		return SendDeviceError(c, err)
	}

	snap := snapshotOf(name, cals, coeffs)
	if v, err := p.dev.ArmVersion(); err == nil {
		snap.ArmVersion = v.String()
	}
	if err := p.store.Save(snap); err != nil {
		return SendError(c, 500, err)
	}

	p.log.Info("Warm boot snapshot saved", "name", name, "blocks", len(snap.Blocks))
	return SendSuccess(c, snap, fmt.Sprintf("Saved %d blocks", len(snap.Blocks)))
}

// restoreSnapshot handles POST /api/warmboot/restore/:name
func (p *WarmBootPlugin) restoreSnapshot(c *fiber.Ctx) error {
	snap, err := p.store.Load(c.Params("name"))
	if err != nil {
		return sendStoreError(c, err)
	}

	coeffs, err := snap.Coefficients()
	if err != nil {
		return SendError(c, 500, err)
	}
	if err := p.dev.WarmBootCoefficientsSet(coeffs); err != nil {
		return SendDeviceError(c, err)
	}

	p.log.Info("Warm boot snapshot restored", "name", snap.Name, "blocks", len(coeffs))
	return SendSuccess(c, nil, fmt.Sprintf("Restored %d blocks", len(coeffs)))
}

// deleteSnapshot handles DELETE /api/warmboot/:name
func (p *WarmBootPlugin) deleteSnapshot(c *fiber.Ctx) error {
	if err := p.store.Delete(c.Params("name")); err != nil {
		return sendStoreError(c, err)
	}
	return SendSuccess(c, nil, "Deleted successfully")
}

// Register the plugin
func init() {
	Register("warmboot", func(env *Env) (Plugin, error) {
		return NewWarmBootPlugin(env)
	})
}
