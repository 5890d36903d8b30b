package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvConfigPath selects the config file when no explicit path is given.
const EnvConfigPath = "GRIDDCA_CONFIG"

const defaultConfigPath = "configs/griddca.yaml"

// ResolvePath returns the explicit path, then $GRIDDCA_CONFIG, then the default.
func ResolvePath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return defaultConfigPath
}

func Load(path string) (*Config, error) {
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	return decode(v)
}

// LoadBytes parses an in-memory yaml document without include support.
func LoadBytes(raw []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	collectSettingsKeys(v.AllSettings(), setKeys)
	cfg.applyEnvOverrides()
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides 让密钥只存在于环境变量 (.env) 中。
func (c *Config) applyEnvOverrides() {
	if tok := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); tok != "" {
		c.Notify.Telegram.BotToken = tok
	}
	if chat := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); chat != "" {
		c.Notify.Telegram.ChatID = chat
	}
	if addr := strings.TrimSpace(os.Getenv("GRIDDCA_HTTP_ADDR")); addr != "" {
		c.App.HTTPAddr = addr
	}
}

func mergeConfigFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

func resolveConfigIncludes(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := includeWalker{seen: map[string]bool{}, stack: map[string]bool{}}
	if err := w.walk(abs); err != nil {
		return nil, err
	}
	if len(w.ordered) == 0 {
		return []string{abs}, nil
	}
	return w.ordered, nil
}

// includeWalker 深度优先展开 include，被包含文件先于包含者合并。
type includeWalker struct {
	seen    map[string]bool
	stack   map[string]bool
	ordered []string
}

func (w *includeWalker) walk(path string) error {
	path = filepath.Clean(path)
	if w.stack[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if w.seen[path] {
		return nil
	}
	w.stack[path] = true
	includes, err := parseIncludeList(path)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	dir := filepath.Dir(path)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(dir, inc)
		}
		if err := w.walk(inc); err != nil {
			return err
		}
	}
	delete(w.stack, path)
	w.seen[path] = true
	w.ordered = append(w.ordered, path)
	return nil
}

func parseIncludeList(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	var items []string
	switch val := raw.(type) {
	case string:
		items = []string{val}
	case []string:
		items = val
	case []any:
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include only supports strings")
			}
			items = append(items, str)
		}
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

func collectSettingsKeys(settings map[string]any, dest keySet) {
	if dest == nil || len(settings) == 0 {
		return
	}
	flattenConfigKeys("", settings, dest)
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			flattenConfigKeys(joinKey(prefix, k), v, dest)
		}
	case map[any]any:
		for k, v := range val {
			if ks, ok := k.(string); ok {
				flattenConfigKeys(joinKey(prefix, ks), v, dest)
			}
		}
	default:
		// lists count as a single leaf
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}

func joinKey(prefix, key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return prefix
	}
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
