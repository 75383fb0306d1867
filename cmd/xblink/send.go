package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <address> <data>",
	Short: "Send data to an XBee module",
	Long: `Connects to the module, writes data to its serial stream and disconnects.

Examples:
  # Send text
  xblink send 00:11:22:33:AA:BB "hello"

  # Send hex and wait two seconds for a reply
  xblink send 00:11:22:33:AA:BB "7E 00 04 08 01 56 52 4E" --hex --wait 2s

  # Encrypt with key material negotiated elsewhere
  xblink send 00:11:22:33:AA:BB "hello" --key <32 hex> --tx-nonce <24 hex> --rx-nonce <24 hex>`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().Bool("hex", false, "Parse data as hex (e.g. 'FF01'); raw bytes by default")
	sendCmd.Flags().Duration("wait", 0, "After sending, print the reply received within this time")
	addKeyFlags(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	address := args[0]
	asHex, _ := cmd.Flags().GetBool("hex")
	wait, _ := cmd.Flags().GetDuration("wait")

	data := []byte(args[1])
	if asHex {
		var err error
		if data, err = parseHex(args[1]); err != nil {
			return fmt.Errorf("failed to parse data: %w", err)
		}
	}
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

	n, err := ch.Write(data)
	if err != nil {
		return err
	}
	_, _ = okColor.Fprintf(cmd.ErrOrStderr(), "Sent %d bytes (MTU %d)\n", n, ch.MTU())

	if wait <= 0 {
		return nil
	}

	deadline := time.Now().Add(wait)
	buf := make([]byte, 1024)
	for ctx.Err() == nil {
		left := time.Until(deadline)
		if left <= 0 {
			return nil
		}
		n, err := ch.ReadTimeout(buf, left)
		if n > 0 {
			if asHex {
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(buf[:n]))
			} else {
				_, _ = cmd.OutOrStdout().Write(buf[:n])
			}
		}
		if err != nil {
			return readStopReason(err)
		}
	}
	return nil
}
