// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"path/filepath"
	"regexp"
	"strings"
)

// versionSuffix matches a base name ending in a year-led version:
// "Installer v2026.03.14", "Setup 2025.1".
var versionSuffix = regexp.MustCompile(`(?i)^(.*\s+v?)(\d{4})(\.\d+)?(\.\d+)?$`)

// VersionedName returns name with its version replaced by version. A
// base name already ending in a version has that version swapped; any
// other name gets " v<version>" inserted before the extension. An empty
// version returns name unchanged.
func VersionedName(name, version string) string {
	if version == "" {
		return name
	}
	extension := filepath.Ext(name)
	base := strings.TrimSuffix(name, extension)
	if match := versionSuffix.FindStringSubmatch(base); match != nil {
		return match[1] + version + extension
	}
	return base + " v" + version + extension
}

// VersionFromName returns the version at the end of a file's base name,
// or "" when it carries none.
func VersionFromName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	match := versionSuffix.FindStringSubmatch(base)
	if match == nil {
		return ""
	}
	return match[2] + match[3] + match[4]
}
