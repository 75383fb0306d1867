package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/xblink/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "go-ble", cfg.Backend)
	assert.Equal(t, 20*time.Second, cfg.Timeouts.Connect)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Disconnect)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.Subscribe)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.Service)
	assert.Equal(t, time.Second, cfg.Timeouts.Settle)
	assert.Equal(t, 512, cfg.MTU.Request)
	assert.Equal(t, 23, cfg.MTU.Floor)
	assert.True(t, cfg.LowLatency)
	assert.Equal(t, 10*time.Second, cfg.Scan.Duration)
	assert.Equal(t, 4096, cfg.PTY.ReadCap)
	require.NoError(t, cfg.Validate())
}

func TestDefaultsMatchTransport(t *testing.T) {
	opts := DefaultConfig().TransportOptions()
	assert.Equal(t, transport.DefaultOptions(), opts)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
backend: tinygo
low_latency: false
timeouts:
  connect: 45s
  settle: 0s
mtu:
  request: 247
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "tinygo", cfg.Backend)
	assert.False(t, cfg.LowLatency, "explicit false survives defaults")
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Connect)
	assert.Zero(t, cfg.Timeouts.Settle)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Disconnect, "unset fields keep defaults")
	assert.Equal(t, 247, cfg.MTU.Request)

	opts := cfg.TransportOptions()
	assert.Equal(t, 45*time.Second, opts.ConnectTimeout)
	assert.Zero(t, opts.SettleDelay)
	assert.Equal(t, 247, opts.RequestMTU)
	assert.False(t, opts.LowLatency)
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := Load(missing, false)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = Load(missing, true)
	assert.ErrorContains(t, err, "failed to read config")

	cfg, err = Load("", true)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "timeouts: [", "failed to parse config"},
		{"bad duration", "timeouts:\n  connect: soon\n", "failed to parse config"},
		{"bad level", "log_level: chatty\n", "log_level"},
		{"bad backend", "backend: bluez-raw\n", `backend: unknown "bluez-raw"`},
		{"zero timeout", "timeouts:\n  write: 0s\n", "timeouts.write must be positive"},
		{"negative settle", "timeouts:\n  settle: -1s\n", "timeouts.settle"},
		{"tiny mtu floor", "mtu:\n  floor: 3\n", "leaves no room for payload"},
		{"request below floor", "mtu:\n  request: 20\n", "requested MTU 20"},
		{"pty caps", "pty:\n  read_cap: 0\n", "pty capacities"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), true)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"garbage", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := (&Config{LogLevel: tt.level}).NewLogger()

			assert.Equal(t, tt.want, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("HOME", "/home/xbee")
	assert.Equal(t, "/home/xbee/.config/xblink/config.yaml", DefaultPath())
}
