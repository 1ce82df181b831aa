// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformed marks version strings that fit neither numbering format.
	ErrMalformed = errors.New("malformed version")
	// ErrRejected marks uploads refused by the duplicate/downgrade guard.
	ErrRejected = errors.New("version rejected")
)

// Firmware versions come in two incompatible formats:
//   - semantic: "v1.2.3", "2.0", "3" (up to three numeric components)
//   - timestamp: "2025.11.19.1" (exactly four components: year.month.day.build)
//
// Ordinal maps both onto a single int64 scale so that versions can be
// ordered across formats. The ordering is only used by the upload guard;
// update-availability and reconciliation decisions use NormalizedEqual,
// which detects exact equality and nothing else. The two must never be
// interchanged: NormalizedEqual("1.2.0", "v1.2") is false even though the
// ordinals match.

const baselineYear = 2025

// Ordinal parses a version string into a comparable ordinal.
// Returns an error for empty input or non-numeric components.
func Ordinal(s string) (int64, error) {
	parts := strings.Split(normalize(s), ".")
	nums := make([]int64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: invalid component %q in %q", ErrMalformed, p, s)
		}
		nums[i] = n
	}
	switch len(parts) {
	case 4:
		// Timestamp versioning: year.month.day.build
		return (nums[0]-baselineYear)*1e8 + nums[1]*1e6 + nums[2]*1e4 + nums[3], nil
	case 1, 2, 3:
		// Semantic versioning, missing components default to 0
		for len(nums) < 3 {
			nums = append(nums, 0)
		}
		return nums[0]*1e6 + nums[1]*1e3 + nums[2], nil
	default:
		return 0, fmt.Errorf("%w: %q has %d components, expected 1-4", ErrMalformed, s, len(parts))
	}
}

// NormalizedEqual reports whether two version strings are the same after
// stripping one optional leading 'v'/'V'. It does not order versions and
// does not understand either numbering format.
func NormalizedEqual(a, b string) bool {
	return normalize(a) == normalize(b)
}

// CheckUpload validates a proposed version against the current one at the
// firmware publish boundary. Duplicates (equal ordinal) and downgrades
// (lower ordinal) are rejected. An empty current version accepts anything
// parseable.
func CheckUpload(current, proposed string) error {
	newOrd, err := Ordinal(proposed)
	if err != nil {
		return err
	}
	if current == "" {
		return nil
	}
	curOrd, err := Ordinal(current)
	if err != nil {
		return fmt.Errorf("stored version is malformed: %w", err)
	}
	if newOrd == curOrd {
		return fmt.Errorf("%w: version %s is already published", ErrRejected, proposed)
	}
	if newOrd < curOrd {
		return fmt.Errorf("%w: version %s is a downgrade from %s", ErrRejected, proposed, current)
	}
	return nil
}

func normalize(s string) string {
	if len(s) > 0 && (s[0] == 'v' || s[0] == 'V') {
		return s[1:]
	}
	return s
}
