// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package slug derives stable identity strings from media titles. The slug is
// the upsert key for every media record, so Make must stay deterministic
// across releases: changing it would orphan previously harvested records.
package slug

import "strings"

// Make returns the slug for a romanized title: lowercase, runs of
// non-alphanumeric characters collapsed to a single dash, edges trimmed.
// An empty or whitespace-only title yields the empty string; callers that
// cannot tolerate a degenerate slug must check for it themselves.
func Make(title string) string {
	var b strings.Builder
	b.Grow(len(title))

	pendingDash := false
	for _, r := range strings.ToLower(title) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			if b.Len() > 0 {
				pendingDash = true
			}
			continue
		}
		if pendingDash {
			b.WriteByte('-')
			pendingDash = false
		}
		b.WriteRune(r)
	}

	return b.String()
}
