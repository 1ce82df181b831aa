// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fleetforge/fleet-engine/cli/api"
	"github.com/fleetforge/fleet-engine/cli/config"
	"github.com/fleetforge/fleet-engine/cli/subcommands/catalog"
	"github.com/fleetforge/fleet-engine/cli/subcommands/devices"
	"github.com/fleetforge/fleet-engine/cli/subcommands/sessions"
)

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "A command line interface to the fleet engine",
	Long: `fleetctl is a command-line interface for managing devices, OTA update
sessions and the firmware catalog on a fleet engine server.

Configuration is stored in $HOME/.config/fleetctl.yaml`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := cmd.Flags().GetString("config")
		if err != nil {
			return fmt.Errorf("failed to get config flag: %w", err)
		}
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		contextName, err := cmd.Flags().GetString("context")
		if err != nil {
			return fmt.Errorf("failed to get context flag: %w", err)
		}

		appctx, err := cfg.GetContext(contextName)
		if err != nil {
			return fmt.Errorf("failed to get current context: %w", err)
		}

		client := api.NewClient(*appctx)

		ctx := api.CtxWithApi(cmd.Context(), client)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("context", "c", "", "Specify the context to use from the configuration file")
	rootCmd.PersistentFlags().StringP("config", "f", "", "Specify the configuration file to use")

	rootCmd.AddCommand(devices.DevicesCmd)
	rootCmd.AddCommand(sessions.SessionsCmd)
	rootCmd.AddCommand(catalog.CatalogCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
