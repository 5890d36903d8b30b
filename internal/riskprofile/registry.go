package riskprofile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"griddca/internal/logger"
	"griddca/internal/risk"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Preset 是一组可一次性套用的风控覆盖值。未填写的字段保持当前设置。
type Preset struct {
	Name             string   `yaml:"-" json:"-"`
	Description      string   `yaml:"description" json:"description,omitempty"`
	TradeAmount      *float64 `yaml:"trade_amount" json:"trade_amount,omitempty"`
	MaxDrawdown      *float64 `yaml:"max_drawdown" json:"max_drawdown,omitempty"`
	MaxPositions     *int     `yaml:"max_positions" json:"max_positions,omitempty"`
	MaxOrders        *int     `yaml:"max_orders" json:"max_orders,omitempty"`
	MaxSpread        *float64 `yaml:"max_spread" json:"max_spread,omitempty"`
	MaxReduceBalance *float64 `yaml:"max_reduce_balance" json:"max_reduce_balance,omitempty"`
	MaxExposure      *float64 `yaml:"max_exposure" json:"max_exposure,omitempty"`
	// Blackout is "HH-HH", "HH:MM-HH:MM" or "off".
	Blackout    *string  `yaml:"blackout" json:"blackout,omitempty"`
	Quiet       *string  `yaml:"quiet" json:"quiet,omitempty"`
	QuietFactor *float64 `yaml:"quiet_factor" json:"quiet_factor,omitempty"`
	Halt        *bool    `yaml:"halt" json:"halt,omitempty"`
}

// FileConfig 映射 profiles。
type FileConfig struct {
	Profiles map[string]Preset `yaml:"profiles"`
}

type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Presets  map[string]Preset
}

// ChangeListener 在 registry 重载时触发。
type ChangeListener func(Snapshot)

// Registry 管理风控预设，文件变更时自动重载。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

var presetSchema = mustCompileSchema(`{
  "type": "object",
  "properties": {
    "description": {"type": "string"},
    "trade_amount": {"type": "number", "exclusiveMinimum": 0},
    "max_drawdown": {"type": "number", "minimum": 0},
    "max_positions": {"type": "integer", "minimum": 0},
    "max_orders": {"type": "integer", "minimum": 0},
    "max_spread": {"type": "number", "minimum": 0},
    "max_reduce_balance": {"type": "number", "exclusiveMinimum": 0},
    "max_exposure": {"type": "number", "minimum": 0},
    "blackout": {"type": "string", "pattern": "^(off|\\d{1,2}(:\\d{2})?-\\d{1,2}(:\\d{2})?)$"},
    "quiet": {"type": "string", "pattern": "^(off|\\d{1,2}(:\\d{2})?-\\d{1,2}(:\\d{2})?)$"},
    "quiet_factor": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
    "halt": {"type": "boolean"}
  },
  "additionalProperties": false
}`)

// NewRegistry 读取配置文件并监听更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("risk profile registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read risk profiles failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			// 保留上一份可用快照
			logger.Errorf("risk profile reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// OnChange registers fn to run after every successful reload.
func (r *Registry) OnChange(fn ChangeListener) {
	if r == nil || fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Names returns preset names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.snapshot.Presets))
	for name := range r.snapshot.Presets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Preset(name string) (Preset, bool) {
	if r == nil {
		return Preset{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Presets[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Apply copies the named preset's values onto o.
func (r *Registry) Apply(name string, o *risk.Overrides) (Preset, error) {
	p, ok := r.Preset(name)
	if !ok {
		return Preset{}, fmt.Errorf("unknown profile %q", name)
	}
	if err := p.ApplyTo(o); err != nil {
		return Preset{}, err
	}
	return p, nil
}

// ApplyTo writes every set field of p into o. o is left untouched on error.
func (p Preset) ApplyTo(o *risk.Overrides) error {
	next := o.Clone()
	if p.TradeAmount != nil {
		next.TradeAmount = decPtr(*p.TradeAmount)
	}
	if p.MaxDrawdown != nil {
		next.MaxDrawdown = decPtr(*p.MaxDrawdown)
	}
	if p.MaxPositions != nil {
		v := *p.MaxPositions
		next.MaxPositions = &v
	}
	if p.MaxOrders != nil {
		v := *p.MaxOrders
		next.MaxOrders = &v
	}
	if p.MaxSpread != nil {
		next.MaxSpread = decPtr(*p.MaxSpread)
	}
	if p.MaxReduceBalance != nil {
		next.MaxReduceBalance = decPtr(*p.MaxReduceBalance)
	}
	if p.MaxExposure != nil {
		next.MaxExposure = decPtr(*p.MaxExposure)
	}
	if p.Blackout != nil {
		ws, err := parseSetting(*p.Blackout)
		if err != nil {
			return fmt.Errorf("profile %s blackout: %w", p.Name, err)
		}
		next.Blackout = &ws
	}
	if p.Quiet != nil || p.QuietFactor != nil {
		q := risk.QuietSetting{}
		if next.Quiet != nil {
			q = *next.Quiet
		}
		if p.Quiet != nil {
			ws, err := parseSetting(*p.Quiet)
			if err != nil {
				return fmt.Errorf("profile %s quiet: %w", p.Name, err)
			}
			q.Enabled, q.Window = ws.Enabled, ws.Window
		}
		if p.QuietFactor != nil {
			q.Factor = decimal.NewFromFloat(*p.QuietFactor)
		}
		next.Quiet = &q
	}
	if p.Halt != nil {
		v := *p.Halt
		next.HaltEnabled = &v
	}
	*o = next
	return nil
}

func (r *Registry) reload() error {
	cfg, err := readProfileFile(r.path)
	if err != nil {
		return err
	}
	presets := make(map[string]Preset, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if err := validatePreset(p); err != nil {
			return fmt.Errorf("profile %s: %w", key, err)
		}
		p.Name = key
		presets[key] = p
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Presets:  presets,
	}
	r.mu.Unlock()
	logger.Infof("Risk profile registry loaded %d presets from %s", len(presets), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("risk profile listener")
			cb(snap)
		}(fn)
	}
}

func validatePreset(p Preset) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := presetSchema.Validate(doc); err != nil {
		return err
	}
	for _, w := range []*string{p.Blackout, p.Quiet} {
		if w == nil {
			continue
		}
		if _, err := parseSetting(*w); err != nil {
			return err
		}
	}
	return nil
}

func parseSetting(raw string) (risk.WindowSetting, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "off") {
		return risk.WindowSetting{}, nil
	}
	w, err := risk.ParseWindow(raw)
	if err != nil {
		return risk.WindowSetting{}, err
	}
	return risk.WindowSetting{Enabled: true, Window: w}, nil
}

func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read risk profiles failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse risk profiles failed: %w", err)
	}
	return cfg, nil
}

func mustCompileSchema(src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("preset.json", strings.NewReader(src)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("preset.json")
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Presets:  make(map[string]Preset, len(src.Presets)),
	}
	for k, v := range src.Presets {
		dst.Presets[k] = v
	}
	return dst
}

func decPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
