// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"fmt"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"
)

// entryNames maps each file to its archive name, its basename. Collisions
// are resolved in input order according to policy.
func entryNames(files []ProbedFile, policy DuplicatePolicy) ([]string, error) {
	names := make([]string, len(files))
	taken := make(map[string]struct{}, len(files))

	for i, f := range files {
		name := filepath.Base(f.Path)

		if _, dup := taken[name]; dup {
			if policy == DuplicateReject {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
			}
			renamed := uniqueName(name, taken)
			klog.InfoS("Renamed duplicate entry", "path", f.Path, "from", name, "to", renamed)
			name = renamed
		}

		taken[name] = struct{}{}
		names[i] = name
	}
	return names, nil
}

// uniqueName returns "stem (N).ext" with the smallest N not in taken.
func uniqueName(name string, taken map[string]struct{}) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		// dotfiles such as ".env" have no stem
		stem, ext = name, ""
	}

	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
