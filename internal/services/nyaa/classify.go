// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package nyaa

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// episodePattern pulls the episode number out of a release name. It
	// accepts the "Title - 05" dash form and the "Title S01E05" marker
	// form, nothing else; looser digits match years and hashes too often.
	episodePattern = regexp.MustCompile(`(?:-\s*| [Ss]\d+[Ee])(\d+)`)

	qualityPattern = regexp.MustCompile(`(?i)(4k|1080|720|480)`)
	codecPattern   = regexp.MustCompile(`(?i)(x26[45]|HEVC|H\.?264|MPEG-?2|AAC)`)

	h264Pattern  = regexp.MustCompile(`(?i)^H\.?264$`)
	mpeg2Pattern = regexp.MustCompile(`(?i)^MPEG-?2$`)
)

// FilterByEpisode keeps only the results whose release name carries the
// requested episode number in its zero-padded two-digit form, verbatim.
// "5" matches "- 05" and "S01E05" but never "- 5" or "- 50"; unpadded
// names are rejected rather than normalized.
func FilterByEpisode(results []Result, episode int) []Result {
	want := fmt.Sprintf("%02d", episode)

	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		m := episodePattern.FindStringSubmatch(r.Name)
		if m == nil {
			continue
		}
		if m[1] == want {
			filtered = append(filtered, r)
		}
	}

	return filtered
}

// Classification is the lexical read of a release name.
type Classification struct {
	Quality string
	Codecs  []string
}

// Classify extracts quality and codec markers from a release name. The first
// quality marker wins; codec markers are normalized, uppercased and deduped
// in order of appearance. Names without markers classify to empty values.
func Classify(name string) Classification {
	var c Classification

	if m := qualityPattern.FindString(name); m != "" {
		c.Quality = strings.ToUpper(m)
	}

	seen := make(map[string]struct{})
	for _, m := range codecPattern.FindAllString(name, -1) {
		codec := normalizeCodec(m)
		if _, dup := seen[codec]; dup {
			continue
		}
		seen[codec] = struct{}{}
		c.Codecs = append(c.Codecs, codec)
	}

	return c
}

// normalizeCodec folds marker spellings into one canonical uppercase form:
// HEVC is x265, and the dotted/dashed variants lose their separators.
func normalizeCodec(marker string) string {
	switch {
	case strings.EqualFold(marker, "HEVC"):
		marker = "x265"
	case h264Pattern.MatchString(marker):
		marker = "H.264"
	case mpeg2Pattern.MatchString(marker):
		marker = "MPEG2"
	}
	return strings.ToUpper(marker)
}
