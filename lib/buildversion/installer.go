// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildversion

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Installer project rows. The product code row is the English (1033)
// one; other languages are left alone.
var (
	productVersionRow = regexp.MustCompile(`(<ROW Property="ProductVersion" Value=")([^"]+)(")`)
	productCodeRow    = regexp.MustCompile(`(<ROW Property="ProductCode" Value="1033:)(\{[A-F0-9\-]+\})(" Type="16"/>)`)
)

const (
	upgradeDisabled = `<ROW Property="AI_UPGRADE" Value="No"/>`
	upgradeEnabled  = `<ROW Property="AI_UPGRADE" Value="Yes"/>`
)

// InstallerUpdate describes one synchronization of an installer
// project.
type InstallerUpdate struct {
	Update

	// ProductCode is the regenerated product code, empty when the
	// project has no 1033 product code row or the version was already
	// current.
	ProductCode string
}

// NewProductCode returns a fresh upper-case braced GUID.
func NewProductCode() string {
	return "{" + strings.ToUpper(uuid.NewString()) + "}"
}

// syncInstaller sets the installer project's ProductVersion to version.
// A new version also gets a new ProductCode (each release is a major
// upgrade) and has AI_UPGRADE enabled. A project already at version is
// not modified.
func syncInstaller(path, version string, newProductCode func() string) (InstallerUpdate, error) {
	return rewriteLocked(path, func(content []byte) ([]byte, InstallerUpdate, error) {
		text := string(content)
		match := productVersionRow.FindStringSubmatch(text)
		if match == nil {
			return nil, InstallerUpdate{}, fmt.Errorf("no ProductVersion row in %s", path)
		}
		update := InstallerUpdate{Update: Update{Previous: match[2], Version: version, Changed: match[2] != version}}
		if !update.Changed {
			return nil, update, nil
		}

		text = productVersionRow.ReplaceAllLiteralString(text, match[1]+version+match[3])
		if codeMatch := productCodeRow.FindStringSubmatch(text); codeMatch != nil {
			update.ProductCode = newProductCode()
			text = productCodeRow.ReplaceAllLiteralString(text, codeMatch[1]+update.ProductCode+codeMatch[3])
		}
		text = strings.ReplaceAll(text, upgradeDisabled, upgradeEnabled)
		return []byte(text), update, nil
	})
}
