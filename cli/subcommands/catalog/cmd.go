// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package catalog

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetforge/fleet-engine/cli/api"
)

var CatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the firmware catalog",
	Long:  `Commands for listing and publishing firmware versions`,
}

var versionsCmd = &cobra.Command{
	Use:   "versions <product> <platform>",
	Short: "List published versions for a product/platform",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := api.CtxGetApi(cmd.Context())
		versions, err := api.CatalogVersions(args[0], args[1])
		cobra.CheckErr(err)
		for _, v := range versions {
			fmt.Println(v)
		}
		return nil
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest <product> <platform>",
	Short: "Show the version currently targeted for a product/platform",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		apiClient := api.CtxGetApi(cmd.Context())
		info, err := apiClient.CatalogLatest(args[0], args[1])
		cobra.CheckErr(err)
		fmt.Printf("Version: %s\n", info.Version)
		if info.DownloadURL != "" {
			fmt.Printf("Download: %s\n", info.DownloadURL)
		}
		if info.Checksum != "" {
			fmt.Printf("Checksum: %s\n", info.Checksum)
		}
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <product> <platform> <version>",
	Short: "Publish a firmware version and make it the target",
	Long:  `Publish a version manifest; duplicates and downgrades of the current latest are refused`,
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		downloadURL, err := cmd.Flags().GetString("download-url")
		if err != nil {
			return err
		}
		checksum, err := cmd.Flags().GetString("checksum")
		if err != nil {
			return err
		}
		apiClient := api.CtxGetApi(cmd.Context())
		cobra.CheckErr(apiClient.PublishVersion(api.VersionInfo{
			Product:     args[0],
			Platform:    args[1],
			Version:     args[2],
			DownloadURL: downloadURL,
			Checksum:    checksum,
		}))
		fmt.Printf("Published %s for %s/%s\n", args[2], args[0], args[1])
		return nil
	},
}

func init() {
	publishCmd.Flags().String("download-url", "", "Where devices fetch the firmware binary")
	publishCmd.Flags().String("checksum", "", "Firmware binary checksum")
	CatalogCmd.AddCommand(versionsCmd, latestCmd, publishCmd)
}
