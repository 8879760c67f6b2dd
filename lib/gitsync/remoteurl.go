// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gitsync

import (
	"net/url"
	"strings"
)

// NormalizeRemoteURL returns the SSH form of an http(s) remote URL and
// whether it differs from rawURL. Non-http URLs are returned
// unchanged.
//
// Lookup order: an exact entry in remoteMap, the same entry without a
// trailing ".git" or "/", then the generic rewrite
// "https://[user@]host/path" → "git@host:path".
func NormalizeRemoteURL(rawURL string, remoteMap map[string]string) (string, bool) {
	trimmed := strings.TrimSpace(rawURL)
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return trimmed, false
	}

	if mapped, ok := lookupRemote(trimmed, remoteMap); ok {
		return mapped, mapped != trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Hostname() == "" {
		return trimmed, false
	}
	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return trimmed, false
	}
	return "git@" + parsed.Hostname() + ":" + path, true
}

func lookupRemote(rawURL string, remoteMap map[string]string) (string, bool) {
	if mapped, ok := remoteMap[rawURL]; ok {
		return mapped, true
	}
	canonical := canonicalHTTP(rawURL)
	for from, to := range remoteMap {
		if canonicalHTTP(from) == canonical {
			return to, true
		}
	}
	return "", false
}

// canonicalHTTP drops user info, a trailing slash or ".git", and case
// differences in scheme and host.
func canonicalHTTP(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	path := strings.TrimSuffix(strings.TrimSuffix(parsed.Path, "/"), ".git")
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host) + path
}
