// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scope pulls requested standards and clause references out of a
// query string. Pure text analysis: no profile mutation, no I/O.
package scope

import (
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianComply/services/compliance/profile"
)

var (
	clauseRe = regexp.MustCompile(`\b\d+(?:\.\d+)+\b`)
	markerRe = regexp.MustCompile(`__([a-z_]+)__(?:=([^\s]+))?`)
	digitsRe = regexp.MustCompile(`\b(\d{4,5})\b`)
)

// Standards extracts the requested standard labels from a query, in order
// of first appearance. Resolution order per candidate: exact canonical
// token, then alias, then bare-digit fallback ("9001" resolves to the
// canonical standard whose label ends with it).
func Standards(query string, p *profile.Profile) []string {
	lower := strings.ToLower(query)
	type hit struct {
		standard string
		index    int
	}
	var hits []hit
	seen := make(map[string]bool)
	record := func(standard string, index int) {
		if index < 0 || seen[standard] {
			return
		}
		seen[standard] = true
		hits = append(hits, hit{standard: standard, index: index})
	}

	for _, std := range p.Standards {
		record(std, strings.Index(lower, strings.ToLower(std)))
	}
	for std, aliases := range p.ScopeAliases {
		for _, alias := range aliases {
			record(std, strings.Index(lower, strings.ToLower(alias)))
		}
	}
	// Bare digit fallback: "what does 9001 say" still resolves.
	for _, m := range digitsRe.FindAllStringSubmatchIndex(lower, -1) {
		digits := lower[m[2]:m[3]]
		for _, std := range p.Standards {
			if strings.HasSuffix(strings.ToLower(std), digits) {
				record(std, m[0])
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].index < hits[j].index })
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.standard)
	}
	return out
}

// ClauseRefs extracts dotted numeric clause identifiers (7.5, 7.5.3) in
// order of appearance, deduplicated.
func ClauseRefs(query string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, ref := range clauseRe.FindAllString(query, -1) {
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

// ClauseMatches reports whether an evidence clause identifier satisfies a
// requested one: exact match, or the evidence clause is nested under the
// request (requested "7.5" is satisfied by evidence "7.5.3").
func ClauseMatches(candidate, requested string) bool {
	return candidate == requested || strings.HasPrefix(candidate, requested+".")
}

// Markers parses internal __name__=value markers embedded in a query
// (e.g. __mode__=literal, __coverage__=partial, __clarification_confirmed__).
// A bare marker with no value maps to "true".
func Markers(query string) map[string]string {
	out := make(map[string]string)
	for _, m := range markerRe.FindAllStringSubmatch(query, -1) {
		value := m[2]
		if value == "" {
			value = "true"
		}
		out[m[1]] = value
	}
	return out
}

// StripMarkers removes internal markers so they never reach the search
// backend or the generator.
func StripMarkers(query string) string {
	return strings.Join(strings.Fields(markerRe.ReplaceAllString(query, " ")), " ")
}
