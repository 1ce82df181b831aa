// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package devices

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetforge/fleet-engine/cli/api"
)

var showCmd = &cobra.Command{
	Use:   "show <device-id>",
	Short: "Show details for one device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := api.CtxGetApi(cmd.Context())
		return showDevice(api, args[0])
	},
}

func init() {
	DevicesCmd.AddCommand(showCmd)
}

func showDevice(api *api.Api, id string) error {
	d, err := api.Device(id)
	cobra.CheckErr(err)

	fmt.Printf("Device: %s\n", d.DeviceID)
	if d.DisplayName != "" {
		fmt.Printf("Name: %s\n", d.DisplayName)
	}
	fmt.Printf("Product: %s (%s)\n", d.Product, d.BoardType)
	fmt.Printf("Firmware: %s\n", d.FirmwareVersion)
	if d.PinnedVersion != "" {
		fmt.Printf("Pinned: %s\n", d.PinnedVersion)
	}
	fmt.Printf("Status: %s\n", d.Status)
	fmt.Printf("Last seen: %s\n", time.Unix(d.LastSeen, 0).Format(time.RFC3339))
	fmt.Printf("Network: rssi=%d ssid=%s ip=%s\n", d.Rssi, d.Ssid, d.IPAddress)
	fmt.Printf("Runtime: uptime=%ds free-heap=%d\n", d.Uptime, d.FreeHeap)
	if len(d.SupportedCommands) > 0 {
		fmt.Printf("Commands: %s\n", strings.Join(d.SupportedCommands, ", "))
	}
	if d.DeletedAt != nil {
		fmt.Printf("Deleted: %s\n", time.Unix(*d.DeletedAt, 0).Format(time.RFC3339))
	}
	return nil
}
