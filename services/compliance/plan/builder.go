// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan maps a classified intent to concrete retrieval parameters.
// Profile values are advisory; the hard ceilings here win over any profile,
// so a misconfigured tenant cannot request unbounded retrieval.
package plan

import (
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/profile"
	"github.com/AleutianAI/AleutianComply/services/compliance/scope"
)

// Hard per-deployment ceilings. Never overridable from a profile.
const (
	MaxChunkK   = 64
	MaxFetchK   = 256
	MaxSummaryK = 16
)

// Built-in retrieval counts used when the profile's mode config leaves a
// count unset. Literal modes fetch wide and keep more chunks because every
// claim must be backed by an exact citation.
const (
	literalChunkK   = 45
	literalFetchK   = 220
	literalSummaryK = 3

	comparativeChunkK   = 35
	comparativeFetchK   = 140
	comparativeSummaryK = 5

	defaultChunkK   = 30
	defaultFetchK   = 120
	defaultSummaryK = 5
)

var numericHintRe = regexp.MustCompile(`^\d+(\.\d+)*$`)

// Build produces the retrieval plan for one attempt.
func Build(it datatypes.Intent, query string, p *profile.Profile) datatypes.RetrievalPlan {
	cfg := p.Mode(it.Mode)

	requireLiteral := false
	allowInference := true
	if cfg != nil {
		requireLiteral = cfg.RequireLiteralEvidence
		allowInference = cfg.AllowInference
	}

	chunkK, fetchK, summaryK := defaultCounts(it.Mode, requireLiteral, p)
	if cfg != nil {
		if cfg.ChunkK > 0 {
			chunkK = cfg.ChunkK
		}
		if cfg.ChunkFetchK > 0 {
			fetchK = cfg.ChunkFetchK
		}
		if cfg.SummaryK > 0 {
			summaryK = cfg.SummaryK
		}
	}

	chunkK = clamp(chunkK, 1, MaxChunkK)
	fetchK = clamp(fetchK, 1, MaxFetchK)
	summaryK = clamp(summaryK, 0, MaxSummaryK)
	if fetchK < chunkK {
		fetchK = chunkK
	}

	clean := scope.StripMarkers(query)
	return datatypes.RetrievalPlan{
		Mode:                   it.Mode,
		ChunkK:                 chunkK,
		ChunkFetchK:            fetchK,
		SummaryK:               summaryK,
		RequireLiteralEvidence: requireLiteral,
		AllowInference:         allowInference,
		RequestedStandards:     scope.Standards(query, p),
		RequestedClauses:       scope.ClauseRefs(clean),
		EffectiveQuery:         ApplySearchHints(clean, p),
	}
}

func defaultCounts(mode string, requireLiteral bool, p *profile.Profile) (int, int, int) {
	switch {
	case requireLiteral:
		return literalChunkK, literalFetchK, literalSummaryK
	case mode == p.ComparisonMode:
		return comparativeChunkK, comparativeFetchK, comparativeSummaryK
	default:
		return defaultChunkK, defaultFetchK, defaultSummaryK
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ApplySearchHints appends profile-supplied term expansions to the query
// when their trigger term appears. Numeric clause-like expansions are never
// injected: a hint must not fabricate a clause reference the user did not
// ask for.
func ApplySearchHints(query string, p *profile.Profile) string {
	if len(p.SearchHints) == 0 {
		return query
	}
	lower := strings.ToLower(query)
	out := query
	for term, expansions := range p.SearchHints {
		if !strings.Contains(lower, strings.ToLower(term)) {
			continue
		}
		for _, expansion := range expansions {
			if numericHintRe.MatchString(expansion) {
				continue
			}
			if strings.Contains(strings.ToLower(out), strings.ToLower(expansion)) {
				continue
			}
			out = out + " " + expansion
		}
	}
	return out
}
