package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/xblink/internal/radiofactory"
	"github.com/srg/xblink/internal/transport"
	"github.com/srg/xblink/pkg/config"
)

// settings is the effective configuration of one command run.
type settings struct {
	cfg      *config.Config
	fromFile bool
}

// loadSettings reads --config and applies --backend. A config path given
// explicitly on the command line must exist.
func loadSettings(cmd *cobra.Command) (*settings, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}

	s := &settings{cfg: cfg}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			s.fromFile = true
		}
	}

	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		backend = strings.ToLower(backend)
		if !slices.Contains(radiofactory.Names(), backend) {
			return nil, fmt.Errorf("invalid backend %q: must be one of %v", backend, radiofactory.Names())
		}
		s.cfg.Backend = backend
	}
	return s, nil
}

// prepare loads settings and the logger shared by every subcommand.
func prepare(cmd *cobra.Command) (*settings, *logrus.Logger, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := configureLogger(cmd, s)
	if err != nil {
		return nil, nil, err
	}
	return s, logger, nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// keyMaterial is externally negotiated AES-CTR key material.
type keyMaterial struct {
	key, txNonce, rxNonce []byte
}

func addKeyFlags(cmd *cobra.Command) {
	cmd.Flags().String("key", "", "AES key, hex (16, 24 or 32 bytes); enables encryption")
	cmd.Flags().String("tx-nonce", "", "Nonce for host-to-device data, hex (up to 12 bytes)")
	cmd.Flags().String("rx-nonce", "", "Nonce for device-to-host data, hex (up to 12 bytes)")
}

// parseKeyFlags returns nil when no key flag is set. The three flags go
// together.
func parseKeyFlags(cmd *cobra.Command) (*keyMaterial, error) {
	var raw [3]string
	for i, name := range []string{"key", "tx-nonce", "rx-nonce"} {
		raw[i], _ = cmd.Flags().GetString(name)
	}
	if raw == [3]string{} {
		return nil, nil
	}
	if raw[0] == "" || raw[1] == "" || raw[2] == "" {
		return nil, fmt.Errorf("--key, --tx-nonce and --rx-nonce must be given together")
	}

	var km keyMaterial
	for i, dst := range []*[]byte{&km.key, &km.txNonce, &km.rxNonce} {
		b, err := parseHex(raw[i])
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", []string{"--key", "--tx-nonce", "--rx-nonce"}[i], err)
		}
		*dst = b
	}
	return &km, nil
}

// parseHex accepts hex with optional spaces, colons, dashes and 0x prefixes.
func parseHex(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "").Replace(s)
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

// openChannel connects to address with the configured backend and options
// and applies km when set. The caller owns the returned channel.
func openChannel(ctx context.Context, s *settings, logger *logrus.Logger, address string, km *keyMaterial) (*transport.Channel, error) {
	backend, err := radiofactory.AdapterFactory(s.cfg.Backend, logger)
	if err != nil {
		return nil, err
	}

	ch, err := transport.New(backend, address, s.cfg.TransportOptions(), logger)
	if err != nil {
		return nil, err
	}
	if err := ch.Open(ctx); err != nil {
		return nil, err
	}

	if km != nil {
		if err := ch.SetEncryptionKeys(km.key, km.txNonce, km.rxNonce); err != nil {
			closeChannel(ch, logger)
			return nil, err
		}
	}
	return ch, nil
}

func closeChannel(ch *transport.Channel, logger *logrus.Logger) {
	if err := ch.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close connection cleanly")
	}
}
