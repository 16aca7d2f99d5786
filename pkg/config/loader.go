package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "CRAWLER_"

// Defaults applied by Load, so a zero seen by Validate was set explicitly.
const (
	DefaultDelay  = time.Second
	DefaultJitter = 500 * time.Millisecond
)

// Load reads the YAML file at path (optional) and applies environment overrides.
// The result is not validated; callers apply flag overrides first and then call Validate.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{Delay: DefaultDelay, Jitter: DefaultJitter}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files (default ".env") into the process
// environment without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(files ...string) (loaded bool, err error) {
	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("load .env: %w", err)
	}
	return true, nil
}

type envBinding struct {
	key   string
	apply func(c *AppConfig, v string) error
}

var envBindings = []envBinding{
	{"BASE_URL", func(c *AppConfig, v string) error { c.Site.BaseURL = v; return nil }},
	{"CATEGORIES", func(c *AppConfig, v string) error { c.Site.Categories = splitList(v); return nil }},
	{"USER_AGENT", func(c *AppConfig, v string) error { c.Site.UserAgent = v; return nil }},
	{"MAX_LISTINGS", intSetter(func(c *AppConfig) *int { return &c.MaxListings })},
	{"MAX_PAGES", intSetter(func(c *AppConfig) *int { return &c.MaxPages })},
	{"MAX_RETRIES", intSetter(func(c *AppConfig) *int { return &c.MaxRetries })},
	{"DELAY", durationSetter(func(c *AppConfig) *time.Duration { return &c.Delay })},
	{"JITTER", durationSetter(func(c *AppConfig) *time.Duration { return &c.Jitter })},
	{"TIMEOUT", durationSetter(func(c *AppConfig) *time.Duration { return &c.HTTPClientSettings.Timeout })},
	{"NO_SITEMAP", boolSetter(func(c *AppConfig) *bool { return &c.NoSitemap })},
	{"SITEMAP_VIA_BROWSER", boolSetter(func(c *AppConfig) *bool { return &c.SitemapViaBrowser })},
	{"USE_BROWSER_STRATEGY", boolSetter(func(c *AppConfig) *bool { return &c.UseBrowserStrategy })},
	{"BROWSER_ONLY", boolSetter(func(c *AppConfig) *bool { return &c.BrowserOnly })},
	{"HEADFUL", boolSetter(func(c *AppConfig) *bool { return &c.Headful })},
	{"STORE_HTML", boolSetter(func(c *AppConfig) *bool { return &c.StoreHTML })},
	{"FORCE", boolSetter(func(c *AppConfig) *bool { return &c.Force })},
	{"SOURCE_PRIORITY", func(c *AppConfig, v string) error { c.SourcePriority = splitList(v); return nil }},
	{"STORAGE_STATE", func(c *AppConfig, v string) error { c.StorageState = v; return nil }},
	{"SAVE_STORAGE_STATE", func(c *AppConfig, v string) error { c.SaveStorageState = v; return nil }},
	{"DATABASE_URL", func(c *AppConfig, v string) error { c.Database = v; return nil }},
	{"DEBUG_DIR", func(c *AppConfig, v string) error { c.DebugDir = v; return nil }},
	{"STATE_DIR", func(c *AppConfig, v string) error { c.StateDir = v; return nil }},
	{"BROWSER_PATH", func(c *AppConfig, v string) error { c.BrowserSettings.ExecPath = v; return nil }},
}

// ApplyEnv overrides fields from CRAWLER_* variables found through lookup.
func (c *AppConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := b.apply(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, b.key, err)
		}
	}
	return nil
}

func intSetter(field func(*AppConfig) *int) func(*AppConfig, string) error {
	return func(c *AppConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolSetter(field func(*AppConfig) *bool) func(*AppConfig, string) error {
	return func(c *AppConfig, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func durationSetter(field func(*AppConfig) *time.Duration) func(*AppConfig, string) error {
	return func(c *AppConfig, v string) error {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

// ParseDuration accepts Go durations ("1.5s") and bare seconds ("1.5").
func ParseDuration(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
