// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
)

const (
	// Global files/dirs
	AuditDir   = "audit"
	CatalogDir = "catalog"
	DbFile     = "db.sqlite"

	partialFileSuffix = "..part"

	// Per product/platform catalog files
	LatestFile     = "latest"
	ManifestSuffix = ".json"
)

type FsConfig string

func (c FsConfig) RootDir() string {
	return string(c)
}

func (c FsConfig) DbFile() string {
	return filepath.Join(string(c), DbFile)
}

func (c FsConfig) AuditDir() string {
	return filepath.Join(string(c), AuditDir)
}

func (c FsConfig) CatalogDir() string {
	return filepath.Join(string(c), CatalogDir)
}

type FsHandle struct {
	Config FsConfig

	Audit   AuditLogsFsHandle
	Catalog CatalogFsHandle
}

func NewFs(root string) (*FsHandle, error) {
	fs := &FsHandle{Config: FsConfig(root)}
	fs.Audit.root = fs.Config.AuditDir()
	fs.Catalog.root = fs.Config.CatalogDir()

	for _, h := range []struct {
		handle baseFsHandle
		mode   os.FileMode
	}{
		{fs.Audit.baseFsHandle, 0o740},
		{fs.Catalog.baseFsHandle, 0o744},
	} {
		if err := h.handle.mkdirs(h.mode, true); err != nil {
			return nil, fmt.Errorf("unable to initialize file storage: %w", err)
		}
	}
	return fs, nil
}

// CatalogFsHandle stores the firmware catalog index: one directory per
// product/platform pair holding version manifest files and a "latest"
// pointer. Firmware binaries themselves live elsewhere; only the index is
// kept here.
type CatalogFsHandle struct {
	baseFsHandle
}

func (s CatalogFsHandle) ReadManifest(product, platform, version string) (string, error) {
	h, _ := s.platformLocalHandle(product, platform, false)
	content, err := h.readFile(version+ManifestSuffix, false)
	if err != nil {
		err = fmt.Errorf("error reading manifest %s for %s/%s: %w", version, product, platform, err)
	}
	return content, err
}

func (s CatalogFsHandle) WriteManifest(product, platform, version, content string) error {
	if h, err := s.platformLocalHandle(product, platform, true); err != nil {
		return err
	} else if err = h.writeFile(version+ManifestSuffix, content, 0o644); err != nil {
		return fmt.Errorf("error writing manifest %s for %s/%s: %w", version, product, platform, err)
	}
	return nil
}

func (s CatalogFsHandle) ReadLatest(product, platform string) (string, error) {
	h, _ := s.platformLocalHandle(product, platform, false)
	content, err := h.readFile(LatestFile, true)
	if err != nil {
		err = fmt.Errorf("error reading latest pointer for %s/%s: %w", product, platform, err)
	}
	return strings.TrimSpace(content), err
}

func (s CatalogFsHandle) WriteLatest(product, platform, version string) error {
	if h, err := s.platformLocalHandle(product, platform, true); err != nil {
		return err
	} else if err = h.writeFile(LatestFile, version+"\n", 0o644); err != nil {
		return fmt.Errorf("error writing latest pointer for %s/%s: %w", product, platform, err)
	}
	return nil
}

func (s CatalogFsHandle) ListVersions(product, platform string) ([]string, error) {
	h, _ := s.platformLocalHandle(product, platform, false)
	names, err := h.matchFiles("", false)
	if err != nil {
		return nil, fmt.Errorf("error listing manifests for %s/%s: %w", product, platform, err)
	}
	versions := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasSuffix(name, ManifestSuffix) {
			versions = append(versions, strings.TrimSuffix(name, ManifestSuffix))
		}
	}
	slices.Sort(versions)
	return versions, nil
}

func (s CatalogFsHandle) platformLocalHandle(product, platform string, forUpdate bool) (h baseFsHandle, err error) {
	h.root = filepath.Join(s.root, product, platform)
	if forUpdate {
		if err = h.mkdirs(0o744, true); err != nil {
			err = fmt.Errorf("unable to create catalog storage for %s/%s: %w", product, platform, err)
		}
	}
	return
}

// AuditLogsFsHandle keeps an append-only journal of operator actions
// (pin, rename, delete, manual publish) per actor identity.
type AuditLogsFsHandle struct {
	baseFsHandle
}

func (h AuditLogsFsHandle) AppendEvent(actor, event string) error {
	if err := h.appendFile("actions-"+actor, event+"\n", 0o740); err != nil {
		return fmt.Errorf("failed to append audit log for %s: %w", actor, err)
	}
	return nil
}

func (h AuditLogsFsHandle) ReadEvents(actor string) (string, error) {
	data, err := h.readFile("actions-"+actor, true)
	if err != nil {
		return "", fmt.Errorf("reading audit log for %s: %w", actor, err)
	}
	return data, nil
}

type baseFsHandle struct {
	root string
}

func (s baseFsHandle) mkdirs(mode os.FileMode, ignoreExists bool) error {
	if ignoreExists {
		return os.MkdirAll(s.root, mode)
	} else {
		return os.Mkdir(s.root, mode)
	}
}

func (s baseFsHandle) readFile(name string, ignoreNotExist bool) (string, error) {
	if content, err := os.ReadFile(filepath.Join(s.root, name)); err == nil {
		return string(content), nil
	} else if ignoreNotExist && errors.Is(err, os.ErrNotExist) {
		return "", nil
	} else {
		return "", err
	}
}

func (s baseFsHandle) writeFile(name, content string, mode os.FileMode) error {
	path := filepath.Join(s.root, name)
	partial := filepath.Join(s.root, name+partialFileSuffix)
	if fd, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode); err != nil {
		return err
	} else if _, err = fd.WriteString(content); err != nil {
		_ = fd.Close()
		return err
	} else if err = fd.Sync(); err != nil {
		_ = fd.Close()
		return err
	} else if err = fd.Close(); err != nil {
		return err
	} else {
		return os.Rename(partial, path)
	}
}

func (s baseFsHandle) appendFile(name, content string, mode os.FileMode) error {
	// O_APPEND + O_SYNC on Linux warrants that concurrent file appends up to 1MB are serialized.
	fd, err := os.OpenFile(filepath.Join(s.root, name),
		os.O_CREATE|os.O_APPEND|syscall.O_SYNC|os.O_WRONLY, mode)
	if err == nil {
		_, err = fd.Write([]byte(content))
		if err != nil {
			_ = fd.Close()
		} else {
			err = fd.Close()
		}
	}
	return err
}

func (s baseFsHandle) matchFiles(prefix string, sortByModTime bool) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if info, err := entry.Info(); err != nil {
			return nil, err
		} else {
			name := info.Name()
			if strings.HasSuffix(name, partialFileSuffix) {
				// Filter out partial files - writes in progress or data corruptions
				continue
			} else if len(prefix) == 0 || strings.HasPrefix(name, prefix) {
				infos = append(infos, info)
			}
		}
	}
	if sortByModTime {
		slices.SortFunc(infos, func(a, b os.FileInfo) int {
			return int(a.ModTime().UnixMilli() - b.ModTime().UnixMilli())
		})
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}
