package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/xblink/bridge"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge <address>",
	Short: "Expose an XBee module's serial stream on a PTY",
	Long: `Connects to the module and creates a pseudo-terminal. Anything written to
the terminal is sent to the module and the module's stream is copied back, so
serial tools (screen, minicom, XCTU, pyserial) can talk to it.

Examples:
  xblink bridge 00:11:22:33:AA:BB
  xblink bridge 00:11:22:33:AA:BB --symlink /tmp/xbee
  screen /tmp/xbee`,
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().String("symlink", "", "Create a symlink to the PTY at this path")
	addKeyFlags(bridgeCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
	address := args[0]
	symlink, _ := cmd.Flags().GetString("symlink")

	km, err := parseKeyFlags(cmd)
	if err != nil {
		return err
	}
	s, logger, err := prepare(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", address), 0)
	progress.Start()
	ch, err := openChannel(ctx, s, logger, address, km)
	progress.Stop()
	if err != nil {
		return err
	}
	defer closeChannel(ch, logger)

	stats, err := bridge.Run(ctx, ch, bridge.Options{
		ReadCap:  s.cfg.PTY.ReadCap,
		WriteCap: s.cfg.PTY.WriteCap,
		Symlink:  symlink,
		Logger:   logger,
	}, func(info bridge.Info) {
		w := cmd.ErrOrStderr()
		_, _ = okColor.Fprintf(w, "Bridging %s <-> %s\n", ch.Peer(), info.TTYName)
		if info.Symlink != "" {
			_, _ = okColor.Fprintf(w, "Symlink: %s\n", info.Symlink)
		}
		_, _ = dimColor.Fprintln(w, "Press Ctrl+C to stop")
	})

	_, _ = dimColor.Fprintf(cmd.ErrOrStderr(), "Sent %d bytes, received %d bytes\n", stats.ToPeer, stats.FromPeer)
	if errors.Is(err, bridge.ErrStreamEnded) {
		return ErrConnectionLost
	}
	return err
}
