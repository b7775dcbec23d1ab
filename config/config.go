package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAPIURL        = "http://localhost:8080/api"
	DefaultFormat        = "wav"
	DefaultUploadTimeout = 30 * time.Second
	DefaultLongPress     = 350 * time.Millisecond
)

type Config struct {
	APIURL        string
	Format        string // wav or flac
	Device        string // empty means system default
	UploadTimeout time.Duration
	MetricsAddr   string // empty disables the metrics listener
	Beep          bool
	Hybrid        bool
	LongPress     time.Duration
}

type fileConfig struct {
	APIURL        string `toml:"api_url"`
	Format        string `toml:"format"`
	Device        string `toml:"device"`
	UploadTimeout string `toml:"upload_timeout"`
	MetricsAddr   string `toml:"metrics_addr"`
	Beep          *bool  `toml:"beep"`
	Hybrid        *bool  `toml:"hybrid"`
	LongPress     string `toml:"long_press"`
}

func Default() *Config {
	return &Config{
		APIURL:        DefaultAPIURL,
		Format:        DefaultFormat,
		UploadTimeout: DefaultUploadTimeout,
		Beep:          true,
		LongPress:     DefaultLongPress,
	}
}

// Load reads defaults, then the config file if present, then HOLDTALK_*
// environment variables. Flags are applied by the caller.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile is Load with an explicit file. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		var fc fileConfig
		_, err := toml.DecodeFile(path, &fc)
		switch {
		case err == nil:
			if err := fc.apply(cfg); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	if fc.APIURL != "" {
		cfg.APIURL = fc.APIURL
	}
	if fc.Format != "" {
		cfg.Format = fc.Format
	}
	if fc.Device != "" {
		cfg.Device = fc.Device
	}
	if fc.UploadTimeout != "" {
		d, err := time.ParseDuration(fc.UploadTimeout)
		if err != nil {
			return fmt.Errorf("upload_timeout: %w", err)
		}
		cfg.UploadTimeout = d
	}
	cfg.MetricsAddr = fc.MetricsAddr
	if fc.Beep != nil {
		cfg.Beep = *fc.Beep
	}
	if fc.Hybrid != nil {
		cfg.Hybrid = *fc.Hybrid
	}
	if fc.LongPress != "" {
		d, err := time.ParseDuration(fc.LongPress)
		if err != nil {
			return fmt.Errorf("long_press: %w", err)
		}
		cfg.LongPress = d
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("HOLDTALK_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("HOLDTALK_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("HOLDTALK_DEVICE"); v != "" {
		cfg.Device = v
	}
	if v := os.Getenv("HOLDTALK_UPLOAD_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HOLDTALK_UPLOAD_TIMEOUT: %w", err)
		}
		cfg.UploadTimeout = d
	}
	if v := os.Getenv("HOLDTALK_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("HOLDTALK_BEEP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("HOLDTALK_BEEP: %w", err)
		}
		cfg.Beep = b
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Format {
	case "wav", "flac":
	default:
		return fmt.Errorf("unknown format %q (use wav or flac)", c.Format)
	}
	if c.APIURL == "" {
		return errors.New("api_url is empty")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("api_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url %q must be an absolute http(s) URL", c.APIURL)
	}
	if c.UploadTimeout < 0 {
		return fmt.Errorf("upload_timeout must not be negative, got %s", c.UploadTimeout)
	}
	if c.LongPress <= 0 {
		return fmt.Errorf("long_press must be positive, got %s", c.LongPress)
	}
	return nil
}

// Save writes cfg to path as TOML, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	beep, hybrid := cfg.Beep, cfg.Hybrid
	fc := fileConfig{
		APIURL:        cfg.APIURL,
		Format:        cfg.Format,
		Device:        cfg.Device,
		UploadTimeout: cfg.UploadTimeout.String(),
		MetricsAddr:   cfg.MetricsAddr,
		Beep:          &beep,
		Hybrid:        &hybrid,
		LongPress:     cfg.LongPress.String(),
	}
	if err := toml.NewEncoder(f).Encode(fc); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return f.Close()
}

// Path is $XDG_CONFIG_HOME/holdtalk/config.toml, falling back to
// ~/.config. The file may not exist.
func Path() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "holdtalk", "config.toml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "holdtalk", "config.toml")
	}
	return ""
}
