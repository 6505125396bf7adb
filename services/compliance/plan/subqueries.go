// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plan

import (
	"strings"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/profile"
)

// SubQuery is one bounded retrieval probe. Standard, when set, becomes a
// metadata filter on the backend call.
type SubQuery struct {
	Query    string `json:"query"`
	Standard string `json:"standard,omitempty"`
	Clause   string `json:"clause,omitempty"`
	StepBack bool   `json:"step_back,omitempty"`
}

// Absolute cap on fan-out regardless of profile configuration.
const MaxSubqueries = 8

// A clause mentioned within this many characters of a standard mention is
// attributed to that standard.
const clauseWindow = 90

// Subqueries decomposes a query deterministically: one sub-query per
// requested standard (carrying the clauses mentioned near it), clause
// centric sub-queries, a bridge query for multi-standard comparisons, and
// a semantic tail. When includeStepBack is set a broadened restatement is
// appended; the orchestrator reserves that for the refinement pass.
func Subqueries(rp datatypes.RetrievalPlan, p *profile.Profile, includeStepBack bool) []SubQuery {
	query := rp.EffectiveQuery
	tail := semanticTail(query, rp.RequestedStandards, rp.RequestedClauses, p)

	var subs []SubQuery
	claimed := make(map[string]bool)

	lower := strings.ToLower(query)
	for _, std := range rp.RequestedStandards {
		near := clausesNear(lower, std, rp.RequestedClauses, p)
		for _, c := range near {
			claimed[c] = true
		}
		text := strings.TrimSpace(std + " " + strings.Join(near, " ") + " " + tail)
		subs = append(subs, SubQuery{Query: text, Standard: std})
	}

	soleStandard := ""
	if len(rp.RequestedStandards) == 1 {
		soleStandard = rp.RequestedStandards[0]
	}
	for _, clause := range rp.RequestedClauses {
		if claimed[clause] && len(rp.RequestedStandards) > 1 {
			continue
		}
		subs = append(subs, SubQuery{
			Query:    strings.TrimSpace(clause + " " + tail),
			Standard: soleStandard,
			Clause:   clause,
		})
	}

	if len(rp.RequestedStandards) >= 2 {
		bridge := strings.Join(rp.RequestedStandards, " vs ")
		subs = append(subs, SubQuery{Query: strings.TrimSpace(bridge + " " + tail)})
	}

	if tail != "" {
		subs = append(subs, SubQuery{Query: tail})
	}

	if includeStepBack {
		subs = append(subs, SubQuery{Query: stepBackQuery(rp, tail), StepBack: true})
	}

	limit := p.Retrieval.MaxSubqueries
	if limit <= 0 || limit > MaxSubqueries {
		limit = MaxSubqueries
	}
	subs = dedupeSubqueries(subs)
	if len(rp.RequestedStandards) >= 2 {
		subs = ensureScopeCoverage(subs, rp.RequestedStandards, limit)
	}
	if len(subs) > limit {
		subs = subs[:limit]
	}
	return subs
}

// clausesNear returns the requested clauses mentioned within clauseWindow
// characters of a standard mention, in request order.
func clausesNear(lowerQuery, standard string, clauses []string, p *profile.Profile) []string {
	positions := standardPositions(lowerQuery, standard, p)
	if len(positions) == 0 {
		return nil
	}
	var out []string
	for _, clause := range clauses {
		idx := strings.Index(lowerQuery, clause)
		if idx < 0 {
			continue
		}
		for _, pos := range positions {
			if abs(idx-pos) <= clauseWindow {
				out = append(out, clause)
				break
			}
		}
	}
	return out
}

func standardPositions(lowerQuery, standard string, p *profile.Profile) []int {
	var positions []int
	tokens := []string{strings.ToLower(standard)}
	for _, alias := range p.ScopeAliases[standard] {
		tokens = append(tokens, strings.ToLower(alias))
	}
	for _, token := range tokens {
		if idx := strings.Index(lowerQuery, token); idx >= 0 {
			positions = append(positions, idx)
		}
	}
	return positions
}

// semanticTail strips standard tokens, aliases, and clause identifiers,
// leaving the topical part of the question for the vector search.
func semanticTail(query string, standards, clauses []string, p *profile.Profile) string {
	out := " " + query + " "
	for _, std := range standards {
		out = removeToken(out, std)
		for _, alias := range p.ScopeAliases[std] {
			out = removeToken(out, alias)
		}
	}
	for _, clause := range clauses {
		out = removeToken(out, clause)
	}
	return strings.Join(strings.Fields(out), " ")
}

func removeToken(s, token string) string {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		// strings.Index matches "" at offset 0 forever.
		return s
	}
	lower := strings.ToLower(s)
	for {
		idx := strings.Index(lower, token)
		if idx < 0 {
			return s
		}
		s = s[:idx] + " " + s[idx+len(token):]
		lower = lower[:idx] + " " + lower[idx+len(token):]
	}
}

func stepBackQuery(rp datatypes.RetrievalPlan, tail string) string {
	if len(rp.RequestedStandards) > 0 {
		return strings.TrimSpace("general requirements and purpose " +
			strings.Join(rp.RequestedStandards, " "))
	}
	return strings.TrimSpace("general requirements and purpose " + tail)
}

func dedupeSubqueries(subs []SubQuery) []SubQuery {
	seen := make(map[string]bool, len(subs))
	out := subs[:0]
	for _, sq := range subs {
		if sq.Query == "" {
			continue
		}
		key := sq.Standard + "|" + sq.Query
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sq)
	}
	return out
}

// ensureScopeCoverage guarantees that a multi-standard request keeps at
// least one sub-query filtered to each requested standard inside the cap.
// Selection is round-robin per scope, then unscoped sub-queries fill the
// remainder in their original order.
func ensureScopeCoverage(subs []SubQuery, standards []string, limit int) []SubQuery {
	byScope := make(map[string][]SubQuery)
	var unscoped []SubQuery
	for _, sq := range subs {
		if sq.Standard != "" {
			byScope[sq.Standard] = append(byScope[sq.Standard], sq)
		} else {
			unscoped = append(unscoped, sq)
		}
	}

	var out []SubQuery
	for round := 0; len(out) < limit; round++ {
		progressed := false
		for _, std := range standards {
			if round < len(byScope[std]) && len(out) < limit {
				out = append(out, byScope[std][round])
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	for _, sq := range unscoped {
		if len(out) >= limit {
			break
		}
		out = append(out, sq)
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
