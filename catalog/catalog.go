// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package catalog is the firmware catalog: which version should a given
// product/platform pair be running. The engine only ever reads it; writes
// happen at the publish boundary (REST API or tooling). Firmware binaries
// are stored elsewhere - the catalog holds version manifests only.
package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"

	"github.com/fleetforge/fleet-engine/storage"
	"github.com/fleetforge/fleet-engine/version"
)

// VersionInfo is one published firmware version for a product/platform.
type VersionInfo struct {
	Product     string `json:"product"`
	Platform    string `json:"platform"`
	Version     string `json:"version"`
	DownloadURL string `json:"download_url,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	PublishedAt int64  `json:"published_at"`
}

// Catalog is the read-side contract the engine consumes.
type Catalog interface {
	// Target returns the version the product/platform should be running,
	// or nil when nothing has been published.
	Target(product, platform string) (*VersionInfo, error)
	// Specific returns one exact published version, or nil when absent.
	Specific(product, platform, version string) (*VersionInfo, error)
}

const readCacheTTL = 30 * time.Second

// FsCatalog is the file-backed catalog index with a per-process read cache.
// The cache is a latency aid only: it is invalidated on every publish and
// never treated as authoritative.
type FsCatalog struct {
	fs    storage.CatalogFsHandle
	reads cache.Cache[string, *VersionInfo]
}

func New(fs *storage.FsHandle) *FsCatalog {
	return &FsCatalog{
		fs:    fs.Catalog,
		reads: cache.NewCache[string, *VersionInfo]().WithTTL(readCacheTTL),
	}
}

func (c *FsCatalog) Target(product, platform string) (*VersionInfo, error) {
	key := product + "/" + platform + "/latest"
	if info, ok := c.reads.Get(key); ok {
		return info, nil
	}
	latest, err := c.fs.ReadLatest(product, platform)
	if err != nil {
		return nil, err
	}
	if latest == "" {
		return nil, nil
	}
	info, err := c.readManifest(product, platform, latest)
	if err == nil && info != nil {
		c.reads.Set(key, info, 0)
	}
	return info, err
}

func (c *FsCatalog) Specific(product, platform, ver string) (*VersionInfo, error) {
	key := product + "/" + platform + "/" + ver
	if info, ok := c.reads.Get(key); ok {
		return info, nil
	}
	info, err := c.readManifest(product, platform, ver)
	if err == nil && info != nil {
		c.reads.Set(key, info, 0)
	}
	return info, err
}

func (c *FsCatalog) List(product, platform string) ([]string, error) {
	return c.fs.ListVersions(product, platform)
}

// Publish adds a version to the catalog and moves the latest pointer to it.
// Exact duplicates and downgrades of the current latest are rejected; this
// is the only place version ordinals are compared.
func (c *FsCatalog) Publish(info VersionInfo) error {
	if info.Product == "" || info.Platform == "" || info.Version == "" {
		return fmt.Errorf("catalog publish requires product, platform and version")
	}
	current, err := c.fs.ReadLatest(info.Product, info.Platform)
	if err != nil {
		return err
	}
	if err = version.CheckUpload(current, info.Version); err != nil {
		return err
	}
	if info.PublishedAt == 0 {
		info.PublishedAt = time.Now().Unix()
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("unexpected error marshalling version manifest: %w", err)
	}
	if err = c.fs.WriteManifest(info.Product, info.Platform, info.Version, string(data)); err != nil {
		return err
	}
	if err = c.fs.WriteLatest(info.Product, info.Platform, info.Version); err != nil {
		return err
	}
	// Wipe the read cache so the next targeting decision sees the new latest.
	c.reads.Purge()
	return nil
}

func (c *FsCatalog) readManifest(product, platform, ver string) (*VersionInfo, error) {
	content, err := c.fs.ReadManifest(product, platform, ver)
	if err != nil {
		// An absent manifest is not an error for the engine - pinned
		// versions may point at versions that were never published.
		return nil, nil
	}
	var info VersionInfo
	if err = json.Unmarshal([]byte(content), &info); err != nil {
		return nil, fmt.Errorf("corrupted manifest for %s/%s version %s: %w", product, platform, ver, err)
	}
	return &info, nil
}
