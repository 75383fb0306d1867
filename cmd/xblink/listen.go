package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/srg/xblink/internal/bytestream"
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen <address>",
	Short: "Print the byte stream sent by an XBee module",
	Long: `Connects to the module and copies its serial stream to stdout until the
duration elapses, the module disconnects or Ctrl+C is pressed.`,
	Args: cobra.ExactArgs(1),
	RunE: runListen,
}

func init() {
	listenCmd.Flags().DurationP("duration", "d", 0, "Stop after this long (0 = until Ctrl+C)")
	listenCmd.Flags().Bool("hex", false, "Print each received chunk as hex")
	addKeyFlags(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	address := args[0]
	duration, _ := cmd.Flags().GetDuration("duration")
	asHex, _ := cmd.Flags().GetBool("hex")

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

	ch, err := openChannel(ctx, s, logger, address, km)
	if err != nil {
		return err
	}
	defer closeChannel(ch, logger)

	_, _ = okColor.Fprintf(cmd.ErrOrStderr(), "Listening to %s (Ctrl+C to stop)\n", ch.Peer())

	if duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, duration)
		defer stop()
	}

	out := cmd.OutOrStdout()
	buf := make([]byte, 4096)
	for {
		n, err := ch.ReadContext(ctx, buf)
		if n > 0 {
			if asHex {
				fmt.Fprintln(out, hex.EncodeToString(buf[:n]))
			} else {
				_, _ = out.Write(buf[:n])
			}
		}
		if err != nil {
			return readStopReason(err)
		}
	}
}

// readStopReason maps the error that ended a read loop to the command result:
// a deadline or Ctrl+C is a normal stop, a closed stream is a lost link.
func readStopReason(err error) error {
	switch {
	case errors.Is(err, bytestream.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, io.EOF):
		return ErrConnectionLost
	default:
		return err
	}
}
