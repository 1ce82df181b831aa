// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package sessions

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetforge/fleet-engine/cli/api"
)

var SessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect OTA update sessions",
	Long:  `Commands for inspecting the OTA update session history`,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List OTA sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		deviceID, err := cmd.Flags().GetString("device")
		if err != nil {
			return err
		}
		status, err := cmd.Flags().GetString("status")
		if err != nil {
			return err
		}
		api := api.CtxGetApi(cmd.Context())
		return listSessions(api, deviceID, status)
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show details for one OTA session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := api.CtxGetApi(cmd.Context())
		return showSession(api, args[0])
	},
}

func init() {
	listCmd.Flags().String("device", "", "Only sessions for this device")
	listCmd.Flags().String("status", "", "Only sessions in this status: started, downloading, success or failed")
	SessionsCmd.AddCommand(listCmd, showCmd)
}

func listSessions(api *api.Api, deviceID, status string) error {
	sessions, err := api.Sessions(deviceID, status)
	cobra.CheckErr(err)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tDEVICE\tFROM\tTO\tSTATUS\tPROGRESS\tSTARTED")
	for _, s := range sessions {
		device := ""
		if s.DeviceID != nil {
			device = *s.DeviceID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d%%\t%s\n",
			s.SessionID, device, s.OldVersion, s.NewVersion, s.Status,
			s.DownloadProgress, time.Unix(s.StartedAt, 0).Format(time.RFC3339))
	}
	return w.Flush()
}

func showSession(api *api.Api, id string) error {
	s, err := api.Session(id)
	cobra.CheckErr(err)

	fmt.Printf("Session: %s\n", s.SessionID)
	if s.DeviceID != nil {
		fmt.Printf("Device: %s\n", *s.DeviceID)
	}
	fmt.Printf("Update: %s -> %s (%s, %s)\n", s.OldVersion, s.NewVersion, s.Product, s.UpdateType)
	fmt.Printf("Status: %s (%d%%)\n", s.Status, s.DownloadProgress)
	fmt.Printf("Started: %s\n", time.Unix(s.StartedAt, 0).Format(time.RFC3339))
	if s.LastProgressAt != nil {
		fmt.Printf("Last progress: %s\n", time.Unix(*s.LastProgressAt, 0).Format(time.RFC3339))
	}
	if s.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", time.Unix(*s.CompletedAt, 0).Format(time.RFC3339))
	}
	if s.ErrorMessage != "" {
		fmt.Printf("Error: %s\n", s.ErrorMessage)
	}
	return nil
}
