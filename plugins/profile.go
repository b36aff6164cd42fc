package plugins

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/adrv-manager/internal/config"
	"gopkg.in/yaml.v3"
)

// profileSection is the top level key of config.yaml the profile editor works on
const profileSection = "device"

// orderedObject is a yaml mapping rendered as a JSON object with its keys
// in file order
type orderedObject struct {
	keys   []string
	values map[string]interface{}
}

func (o *orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// nodeValue converts a yaml node into JSON-ready values, keeping mapping
// order.
func nodeValue(n *yaml.Node) interface{} {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil
		}
		return nodeValue(n.Content[0])
	case yaml.AliasNode:
		if n.Alias == nil {
			return nil
		}
		return nodeValue(n.Alias)
	case yaml.MappingNode:
		obj := &orderedObject{values: make(map[string]interface{}, len(n.Content)/2)}
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i].Value
			obj.keys = append(obj.keys, k)
			obj.values[k] = nodeValue(n.Content[i+1])
		}
		return obj
	case yaml.SequenceNode:
		items := make([]interface{}, 0, len(n.Content))
		for _, c := range n.Content {
			items = append(items, nodeValue(c))
		}
		return items
	}

	var v interface{}
	if err := n.Decode(&v); err != nil {
		return n.Value
	}
	return v
}

// mappingValue returns the value node of key in a mapping node
func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

// scalarNode builds a node for a JSON scalar
func scalarNode(v interface{}) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode}
	switch v := v.(type) {
	case nil:
		n.Tag, n.Value = "!!null", "null"
	case bool:
		n.Tag, n.Value = "!!bool", strconv.FormatBool(v)
	case float64:
		if v == float64(int64(v)) {
			n.Tag, n.Value = "!!int", strconv.FormatInt(int64(v), 10)
		} else {
			n.Tag, n.Value = "!!float", strconv.FormatFloat(v, 'g', -1, 64)
		}
	case string:
		n.Tag, n.Value = "!!str", v
	default:
		n.Value = fmt.Sprint(v)
	}
	return n
}

// valueNode builds a node tree for a decoded JSON value
func valueNode(v interface{}) *yaml.Node {
	switch v := v.(type) {
	case map[string]interface{}:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for k, item := range v {
			n.Content = append(n.Content, scalarNode(k), valueNode(item))
		}
		return n
	case []interface{}:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v {
			n.Content = append(n.Content, valueNode(item))
		}
		return n
	}
	return scalarNode(v)
}

// mergeInto writes update into the mapping node n. Existing keys keep their
// position and comments; unknown keys are appended.
func mergeInto(n *yaml.Node, update map[string]interface{}) {
	for key, v := range update {
		existing := mappingValue(n, key)
		if existing == nil {
			n.Content = append(n.Content, scalarNode(key), valueNode(v))
			continue
		}
		if m, ok := v.(map[string]interface{}); ok && existing.Kind == yaml.MappingNode {
			mergeInto(existing, m)
			continue
		}
		repl := valueNode(v)
		repl.HeadComment, repl.LineComment, repl.FootComment = existing.HeadComment, existing.LineComment, existing.FootComment
		if repl.Kind == yaml.SequenceNode {
			repl.Style = existing.Style
		}
		*existing = *repl
	}
}

// ProfilePlugin edits the device section of config.yaml. Changes apply on
// the next start of the service.
type ProfilePlugin struct {
	path string
	log  *slog.Logger
	mu   sync.Mutex
}

// NewProfilePlugin creates a new profile plugin instance
func NewProfilePlugin(env *Env) (*ProfilePlugin, error) {
	if env.ConfigPath == "" {
		return nil, fmt.Errorf("profile plugin requires the config file path")
	}
	return &ProfilePlugin{path: env.ConfigPath, log: env.logger()}, nil
}

// Name returns the plugin identifier
func (p *ProfilePlugin) Name() string {
	return "profile"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *ProfilePlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/profile")

	api.Get("/", p.loadProfile)
	api.Put("/", p.saveProfile)
}

// Shutdown performs cleanup
func (p *ProfilePlugin) Shutdown() error {
	return nil
}

func (p *ProfilePlugin) readDocument() (*yaml.Node, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &doc, nil
}

// loadProfile handles GET /api/profile
func (p *ProfilePlugin) loadProfile(c *fiber.Ctx) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := p.readDocument()
	if err != nil {
		return SendError(c, 500, err)
	}
	section := mappingValue(doc, profileSection)
	if section == nil {
		return SendSuccess(c, fiber.Map{}, "")
	}
	return SendSuccess(c, nodeValue(section), "")
}

// saveProfile handles PUT /api/profile. The merged file must pass config
// validation before it replaces the original.
func (p *ProfilePlugin) saveProfile(c *fiber.Ctx) error {
	var update map[string]interface{}
	if err := json.Unmarshal(c.Body(), &update); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := p.readDocument()
	if err != nil {
		return SendError(c, 500, err)
	}
	root := doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return SendErrorMessage(c, 500, "config file is not a mapping")
	}

	section := mappingValue(root, profileSection)
	if section == nil {
		section = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		root.Content = append(root.Content, scalarNode(profileSection), section)
	}
	mergeInto(section, update)

	data, err := yaml.Marshal(doc)
	if err != nil {
		return SendError(c, 500, fmt.Errorf("failed to serialize config: %w", err))
	}
	if _, err := config.Parse(data); err != nil {
		return SendError(c, 400, err)
	}
	if err := os.WriteFile(p.path, data, 0644); err != nil {
		return SendError(c, 500, fmt.Errorf("failed to write config file: %w", err))
	}

	p.log.Info("Device profile updated", "path", p.path)
	return SendSuccess(c, nil, "Profile saved, restart the service to apply it")
}

// Register the plugin
func init() {
	Register("profile", func(env *Env) (Plugin, error) {
		return NewProfilePlugin(env)
	})
}
