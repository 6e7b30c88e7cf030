// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package trigger

import "strings"

// MatchGlob reports whether a slash-separated name matches a glob
// pattern. Three wildcards are recognized:
//
//	*   any run of characters within one segment (never crosses /)
//	**  any run of whole segments, including none
//	?   exactly one character within a segment
//
// Everything else matches literally. So "release/**" matches
// "release", "release/1.0", and "release/1.0/hotfix"; "*.md" matches
// "README.md" but not "docs/README.md"; "v?" matches "v1" but not
// "v10". There are no invalid patterns.
func MatchGlob(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

// MatchAny reports whether the name matches at least one pattern.
func MatchAny(patterns []string, name string) bool {
	_, ok := FirstMatch(patterns, name)
	return ok
}

// FirstMatch returns the first pattern the name matches, in pattern
// order.
func FirstMatch(patterns []string, name string) (string, bool) {
	for _, pattern := range patterns {
		if MatchGlob(pattern, name) {
			return pattern, true
		}
	}
	return "", false
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			// ** absorbs zero or more leading name segments. Try the
			// shortest absorption first; on failure, consume one
			// segment and retry.
			if matchSegments(pattern[1:], name) {
				return true
			}
			if len(name) == 0 {
				return false
			}
			name = name[1:]
			continue
		}
		if len(name) == 0 || !matchSegment(pattern[0], name[0]) {
			return false
		}
		pattern = pattern[1:]
		name = name[1:]
	}
	return len(name) == 0
}

// matchSegment matches one pattern segment against one name segment,
// with * and ? wildcards. Linear scan with single-star backtracking.
func matchSegment(pattern, segment string) bool {
	patternRunes := []rune(pattern)
	segmentRunes := []rune(segment)

	patternIndex, segmentIndex := 0, 0
	starIndex, starSegment := -1, 0

	for segmentIndex < len(segmentRunes) {
		switch {
		case patternIndex < len(patternRunes) &&
			(patternRunes[patternIndex] == '?' || patternRunes[patternIndex] == segmentRunes[segmentIndex]):
			patternIndex++
			segmentIndex++
		case patternIndex < len(patternRunes) && patternRunes[patternIndex] == '*':
			starIndex = patternIndex
			starSegment = segmentIndex
			patternIndex++
		case starIndex >= 0:
			// Backtrack: let the last * consume one more rune.
			patternIndex = starIndex + 1
			starSegment++
			segmentIndex = starSegment
		default:
			return false
		}
	}

	// Trailing stars match the empty remainder.
	for patternIndex < len(patternRunes) && patternRunes[patternIndex] == '*' {
		patternIndex++
	}
	return patternIndex == len(patternRunes)
}
