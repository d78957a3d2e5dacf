package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var root = &cobra.Command{
		Use:          "resourcefinder",
		Short:        "Conversational assistant for finding homeless services",
		SilenceUsage: true,
		Version:      version,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	root.AddCommand(serveCMD(), migrateCMD(), findCMD(), chatCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

var cfgPath string
