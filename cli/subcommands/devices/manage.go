// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package devices

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetforge/fleet-engine/cli/api"
)

var pinCmd = &cobra.Command{
	Use:   "pin <device-id> [version]",
	Short: "Pin a device to a firmware version",
	Long:  `Pin a device so targeting offers the given version instead of the latest; omit the version to clear the pin`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := api.CtxGetApi(cmd.Context())
		version := ""
		if len(args) > 1 {
			version = args[1]
		}
		cobra.CheckErr(api.PinDevice(args[0], version))
		if version == "" {
			fmt.Printf("Cleared pin on %s\n", args[0])
		} else {
			fmt.Printf("Pinned %s to %s\n", args[0], version)
		}
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <device-id> <name>",
	Short: "Set the display name of a device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := api.CtxGetApi(cmd.Context())
		cobra.CheckErr(api.RenameDevice(args[0], args[1]))
		fmt.Printf("Renamed %s to %q\n", args[0], args[1])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <device-id>",
	Short: "Soft-delete a device",
	Long:  `Hide a device from listings; any later message from the device restores it`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := api.CtxGetApi(cmd.Context())
		cobra.CheckErr(api.DeleteDevice(args[0]))
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <device-id>",
	Short: "Restore a soft-deleted device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := api.CtxGetApi(cmd.Context())
		cobra.CheckErr(api.RestoreDevice(args[0]))
		fmt.Printf("Restored %s\n", args[0])
		return nil
	},
}

var commandCmd = &cobra.Command{
	Use:   "command <device-id> <command>",
	Short: "Publish a command to a device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cmd.Flags().GetString("env")
		if err != nil {
			return err
		}
		api := api.CtxGetApi(cmd.Context())
		cobra.CheckErr(api.SendCommand(args[0], args[1], env))
		fmt.Printf("Sent %q to %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	commandCmd.Flags().String("env", "", "Environment to publish into (dev or prod); defaults to the server scope")
	DevicesCmd.AddCommand(pinCmd, renameCmd, deleteCmd, restoreCmd, commandCmd)
}
