package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/xblink/internal/radiofactory"
	"github.com/srg/xblink/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for XBee modules",
	Long: `Scan for Bluetooth LE devices advertising the XBee serial service and
print their address, name and signal strength, strongest first.

The printed address is what send, listen and bridge expect. On macOS it is
the CoreBluetooth identifier of the device rather than its MAC.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationP("duration", "d", 0, "Scan duration (default from config, 10s)")
	scanCmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().Bool("all", false, "Show every advertiser, not only XBee modules")
	scanCmd.Flags().StringSlice("allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSlice("block", nil, "Hide devices with these addresses")
}

func runScan(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}

	s, logger, err := prepare(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	duration, _ := cmd.Flags().GetDuration("duration")
	if duration <= 0 {
		duration = s.cfg.Scan.Duration
	}
	all, _ := cmd.Flags().GetBool("all")
	allow, _ := cmd.Flags().GetStringSlice("allow")
	block, _ := cmd.Flags().GetStringSlice("block")

	backend, err := radiofactory.AdapterFactory(s.cfg.Backend, logger)
	if err != nil {
		return err
	}
	radioScanner, err := backend.NewScanner()
	if err != nil {
		return fmt.Errorf("failed to start scanner: %w", err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for XBee modules", duration)
	progress.Start()
	devices, err := scanner.NewScanner(radioScanner, logger).Scan(ctx, &scanner.ScanOptions{
		Duration:        duration,
		DuplicateFilter: true,
		AnyService:      all,
		AllowList:       allow,
		BlockList:       block,
	}, nil)
	progress.Stop()
	if err != nil {
		return err
	}
	if ctx.Err() != nil && cmd.Context().Err() == nil {
		_, _ = warnColor.Fprintln(cmd.ErrOrStderr(), "Scan interrupted")
	}

	if format == "json" {
		return writeDevicesJSON(cmd.OutOrStdout(), devices)
	}
	return writeDevicesTable(cmd.OutOrStdout(), devices)
}

type deviceJSON struct {
	Address     string    `json:"address"`
	Name        string    `json:"name,omitempty"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	Services    []string  `json:"services,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

func writeDevicesJSON(w io.Writer, devices []scanner.Device) error {
	out := make([]deviceJSON, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceJSON{
			Address:     d.Address,
			Name:        d.Name,
			RSSI:        d.RSSI,
			Connectable: d.Connectable,
			Services:    d.Services,
			LastSeen:    d.LastSeen,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeDevicesTable(w io.Writer, devices []scanner.Device) error {
	if len(devices) == 0 {
		_, err := warnColor.Fprintln(w, "No devices found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tRSSI")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\n", d.Address, name, d.RSSI)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := okColor.Fprintf(w, "\n%d device(s) found\n", len(devices))
	return err
}

