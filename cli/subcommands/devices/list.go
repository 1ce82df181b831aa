// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package devices

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fleetforge/fleet-engine/cli/api"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all devices",
	Long:  `List all active devices known to the server, most recently seen first`,
	RunE: func(cmd *cobra.Command, args []string) error {
		api := api.CtxGetApi(cmd.Context())
		return listDevices(api)
	},
}

func init() {
	DevicesCmd.AddCommand(listCmd)
}

func listDevices(api *api.Api) error {
	devices, err := api.Devices()
	cobra.CheckErr(err)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tNAME\tPRODUCT\tBOARD\tVERSION\tSTATUS\tPIN")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.DeviceID, d.DisplayName, d.Product, d.BoardType, d.FirmwareVersion, d.Status, d.PinnedVersion)
	}
	return w.Flush()
}
