package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/camlink/internal/devices"
	"github.com/smazurov/camlink/internal/logging"
)

// CreateDevicesCmd creates the devices command, a diagnostic that
// enumerates capture devices and their capability sets without
// starting the service.
func CreateDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List detected capture devices",
		Run: func(_ *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})

			found, err := devices.NewSource().List()
			if err != nil {
				fmt.Fprintf(os.Stderr, "device enumeration failed: %v\n", err)
				os.Exit(1)
			}
			if len(found) == 0 {
				fmt.Println("no capture devices found")
				return
			}

			for _, dev := range found {
				fmt.Printf("%s\t%s\t%s (%s)\n", dev.ID, dev.Path, dev.Name, dev.Driver)
				for _, f := range dev.Formats {
					fmt.Printf("\t%s\n", f)
				}
			}
		},
	}
}
