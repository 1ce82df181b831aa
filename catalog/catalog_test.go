// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetforge/fleet-engine/storage"
	"github.com/fleetforge/fleet-engine/version"
)

func newTestCatalog(t *testing.T) *FsCatalog {
	fs, err := storage.NewFs(t.TempDir())
	require.Nil(t, err)
	return New(fs)
}

func TestCatalogEmpty(t *testing.T) {
	c := newTestCatalog(t)

	info, err := c.Target("clock", "esp32")
	require.Nil(t, err)
	assert.Nil(t, info)

	info, err = c.Specific("clock", "esp32", "v1.0.0")
	require.Nil(t, err)
	assert.Nil(t, info)

	versions, err := c.List("clock", "esp32")
	require.Nil(t, err)
	assert.Empty(t, versions)
}

func TestCatalogPublish(t *testing.T) {
	c := newTestCatalog(t)

	require.Nil(t, c.Publish(VersionInfo{
		Product: "clock", Platform: "esp32", Version: "v1.0.0",
		DownloadURL: "https://fw.example.com/clock-1.0.0.bin", Checksum: "abc",
	}))

	info, err := c.Target("clock", "esp32")
	require.Nil(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "v1.0.0", info.Version)
	assert.Equal(t, "https://fw.example.com/clock-1.0.0.bin", info.DownloadURL)
	assert.NotZero(t, info.PublishedAt)

	info, err = c.Specific("clock", "esp32", "v1.0.0")
	require.Nil(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "abc", info.Checksum)

	// Other platforms stay untouched
	info, err = c.Target("clock", "esp8266")
	require.Nil(t, err)
	assert.Nil(t, info)
}

func TestCatalogPublishValidation(t *testing.T) {
	c := newTestCatalog(t)

	require.NotNil(t, c.Publish(VersionInfo{Product: "clock", Platform: "esp32"}))

	require.Nil(t, c.Publish(VersionInfo{Product: "clock", Platform: "esp32", Version: "v1.1.0"}))

	err := c.Publish(VersionInfo{Product: "clock", Platform: "esp32", Version: "v1.1.0"})
	require.ErrorIs(t, err, version.ErrRejected)

	err = c.Publish(VersionInfo{Product: "clock", Platform: "esp32", Version: "v1.0.9"})
	require.ErrorIs(t, err, version.ErrRejected)

	err = c.Publish(VersionInfo{Product: "clock", Platform: "esp32", Version: "garbage"})
	require.ErrorIs(t, err, version.ErrMalformed)

	// Failed publishes never move the latest pointer
	info, err := c.Target("clock", "esp32")
	require.Nil(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "v1.1.0", info.Version)
}

func TestCatalogPublishInvalidatesReads(t *testing.T) {
	c := newTestCatalog(t)
	require.Nil(t, c.Publish(VersionInfo{Product: "clock", Platform: "esp32", Version: "v1.0.0"}))

	// Prime the read cache
	info, err := c.Target("clock", "esp32")
	require.Nil(t, err)
	require.Equal(t, "v1.0.0", info.Version)

	// A publish must be visible immediately, well inside the cache TTL
	require.Nil(t, c.Publish(VersionInfo{Product: "clock", Platform: "esp32", Version: "v1.1.0"}))
	info, err = c.Target("clock", "esp32")
	require.Nil(t, err)
	require.Equal(t, "v1.1.0", info.Version)
}

func TestCatalogList(t *testing.T) {
	c := newTestCatalog(t)
	for _, v := range []string{"v1.0.0", "v1.1.0", "v2.0.0"} {
		require.Nil(t, c.Publish(VersionInfo{Product: "clock", Platform: "esp32", Version: v}))
	}

	versions, err := c.List("clock", "esp32")
	require.Nil(t, err)
	assert.Equal(t, []string{"v1.0.0", "v1.1.0", "v2.0.0"}, versions)

	// Every listed version remains individually readable
	for _, v := range versions {
		info, err := c.Specific("clock", "esp32", v)
		require.Nil(t, err)
		require.NotNil(t, info)
		assert.Equal(t, v, info.Version)
	}
}

func TestCatalogTimestampVersions(t *testing.T) {
	c := newTestCatalog(t)

	require.Nil(t, c.Publish(VersionInfo{Product: "badge", Platform: "rp2040", Version: "2026.08.25.1"}))
	require.Nil(t, c.Publish(VersionInfo{Product: "badge", Platform: "rp2040", Version: "2026.08.25.2"}))

	err := c.Publish(VersionInfo{Product: "badge", Platform: "rp2040", Version: "2026.08.24.9"})
	require.ErrorIs(t, err, version.ErrRejected)

	info, err := c.Target("badge", "rp2040")
	require.Nil(t, err)
	assert.Equal(t, "2026.08.25.2", info.Version)
}
