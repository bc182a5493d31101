package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/faceid/internal/device"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, closePlatform, err := buildPlatform(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closePlatform()

		devices, err := device.NewManager(platform, device.Resolution{}, logger).ListDevices(cmd.Context())
		if err != nil {
			return err
		}
		printDevices(os.Stdout, devices)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func printDevices(out io.Writer, devices []device.CaptureDevice) {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No capture devices found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL")
	fmt.Fprintln(w, "--\t-----")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\n", d.ID, d.Label)
	}
	w.Flush()
}
