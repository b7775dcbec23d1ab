package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HOLDTALK_API_URL", "HOLDTALK_FORMAT", "HOLDTALK_DEVICE",
		"HOLDTALK_UPLOAD_TIMEOUT", "HOLDTALK_METRICS_ADDR", "HOLDTALK_BEEP",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestFileValues(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
api_url = "https://voice.example.com/api"
format = "flac"
device = "USB Mic"
upload_timeout = "5s"
metrics_addr = ":9100"
beep = false
hybrid = true
long_press = "500ms"
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, &Config{
		APIURL:        "https://voice.example.com/api",
		Format:        "flac",
		Device:        "USB Mic",
		UploadTimeout: 5 * time.Second,
		MetricsAddr:   ":9100",
		Beep:          false,
		Hybrid:        true,
		LongPress:     500 * time.Millisecond,
	}, cfg)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `api_url = "https://file.example.com"`)
	t.Setenv("HOLDTALK_API_URL", "https://env.example.com")
	t.Setenv("HOLDTALK_UPLOAD_TIMEOUT", "0s")
	t.Setenv("HOLDTALK_BEEP", "false")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.APIURL)
	assert.Zero(t, cfg.UploadTimeout)
	assert.False(t, cfg.Beep)
}

func TestMalformedFile(t *testing.T) {
	clearEnv(t)
	_, err := LoadFile(writeFile(t, `api_url = `))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, `upload_timeout = "soon"`))
	assert.Error(t, err)
}

func TestBadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOLDTALK_BEEP", "loud")
	_, err := LoadFile("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"flac", func(c *Config) { c.Format = "flac" }, true},
		{"mp3", func(c *Config) { c.Format = "mp3" }, false},
		{"empty url", func(c *Config) { c.APIURL = "" }, false},
		{"relative url", func(c *Config) { c.APIURL = "/api" }, false},
		{"no timeout", func(c *Config) { c.UploadTimeout = 0 }, true},
		{"negative timeout", func(c *Config) { c.UploadTimeout = -time.Second }, false},
		{"zero long press", func(c *Config) { c.LongPress = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "holdtalk", "config.toml")
	cfg := Default()
	cfg.Device = "Blue Yeti"
	cfg.Hybrid = true

	require.NoError(t, Save(path, cfg))
	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestPathUsesXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, "/tmp/xdg/holdtalk/config.toml", Path())
}
