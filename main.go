package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/camlink/cmd"
	"github.com/smazurov/camlink/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:     "camlink",
		Short:   "Companion-computer camera streaming service",
		Version: version.String(),
	}
	root.SetVersionTemplate(fmt.Sprintf("camlink %s (commit %s, built %s)\n",
		version.Version, version.GitCommit, version.BuildDate))

	serveCmd := cmd.CreateServeCmd()
	root.AddCommand(serveCmd)
	root.AddCommand(cmd.CreateDevicesCmd())

	// Bare invocation runs the service.
	root.RunE = func(c *cobra.Command, args []string) error {
		serveCmd.Run(serveCmd, args)
		return nil
	}
	root.Flags().AddFlagSet(serveCmd.Flags())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
