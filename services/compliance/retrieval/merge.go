// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval executes a retrieval plan against the search backend:
// multi-query fan-out, reciprocal-rank-fusion merge, refinement, single
// hybrid fallback, and the coverage gate.
package retrieval

import (
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/scope"
)

// Rank-fusion constant; the standard RRF default.
const rrfRankConstant = 60

// When the min-score filter would empty a non-empty result set, this many
// top items are rescued instead. Retrieval never manufactures an empty set
// out of a non-empty one.
const rescueTopN = 8

// mergeRRF fuses ranked result lists by reciprocal-rank fusion with
// source-id deduplication. The fused order is by RRF score; each item
// keeps its best original backend score.
func mergeRRF(lists [][]datatypes.SearchItem) []datatypes.SearchItem {
	type fused struct {
		item  datatypes.SearchItem
		rrf   float64
		order int
	}
	byKey := make(map[string]*fused)
	var keys []string

	for _, list := range lists {
		for rank, item := range list {
			key := itemKey(item)
			entry, ok := byKey[key]
			if !ok {
				entry = &fused{item: item, order: len(keys)}
				byKey[key] = entry
				keys = append(keys, key)
			}
			entry.rrf += 1.0 / float64(rrfRankConstant+rank+1)
			if item.Score > entry.item.Score {
				entry.item.Score = item.Score
			}
		}
	}

	entries := make([]*fused, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, byKey[key])
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].rrf != entries[j].rrf {
			return entries[i].rrf > entries[j].rrf
		}
		if entries[i].item.Score != entries[j].item.Score {
			return entries[i].item.Score > entries[j].item.Score
		}
		return entries[i].order < entries[j].order
	})

	out := make([]datatypes.SearchItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.item)
	}
	return out
}

// itemKey is the stable dedup key: the source id when present, otherwise
// a content prefix.
func itemKey(item datatypes.SearchItem) string {
	if item.Source != "" {
		return item.Source
	}
	content := item.Content
	if len(content) > 80 {
		content = content[:80]
	}
	return "content:" + content
}

// filterMinScore drops items below the profile's score floor, with a
// backstop: if everything would be dropped but items existed, the top
// rescueTopN by score survive.
func filterMinScore(items []datatypes.SearchItem, minScore float64) []datatypes.SearchItem {
	if minScore <= 0 || len(items) == 0 {
		return items
	}
	kept := make([]datatypes.SearchItem, 0, len(items))
	for _, item := range items {
		if item.Score >= minScore {
			kept = append(kept, item)
		}
	}
	if len(kept) > 0 {
		return kept
	}

	rescued := append([]datatypes.SearchItem(nil), items...)
	sort.SliceStable(rescued, func(i, j int) bool { return rescued[i].Score > rescued[j].Score })
	if len(rescued) > rescueTopN {
		rescued = rescued[:rescueTopN]
	}
	return rescued
}

// rebalanceScopeCoverage reorders a multi-standard result so every
// requested standard that has any evidence keeps at least one item inside
// the final top-k, then fills the rest in fused order.
func rebalanceScopeCoverage(items []datatypes.SearchItem, standards []string, topK int) []datatypes.SearchItem {
	if len(standards) < 2 || len(items) <= topK {
		return items
	}

	used := make(map[int]bool)
	var out []datatypes.SearchItem
	for _, std := range standards {
		for i, item := range items {
			if used[i] {
				continue
			}
			if itemMatchesStandard(item, std) {
				out = append(out, item)
				used[i] = true
				break
			}
		}
		if len(out) >= topK {
			break
		}
	}
	for i, item := range items {
		if len(out) >= topK && len(out) >= len(standards) {
			break
		}
		if !used[i] {
			out = append(out, item)
			used[i] = true
		}
	}
	return out
}

func itemMatchesStandard(item datatypes.SearchItem, standard string) bool {
	if tagged := datatypes.MetadataStandard(item.Metadata); tagged != "" {
		return strings.EqualFold(tagged, standard)
	}
	return strings.Contains(strings.ToLower(item.Content), strings.ToLower(standard))
}

// rerankForLiteral boosts items that literally contain what the user asked
// for: query keyword overlap, clause mentions in content (x2) and clause
// tags in metadata (x4), plus a requested-standard match. Backend
// similarity only breaks ties.
func rerankForLiteral(items []datatypes.SearchItem, rp datatypes.RetrievalPlan) []datatypes.SearchItem {
	queryWords := keywordSet(rp.EffectiveQuery)

	type ranked struct {
		item  datatypes.SearchItem
		boost float64
		order int
	}
	entries := make([]ranked, 0, len(items))
	for i, item := range items {
		boost := float64(keywordOverlap(queryWords, item.Content))
		lowerContent := strings.ToLower(item.Content)
		refs := datatypes.MetadataClauseRefs(item.Metadata)
		for _, clause := range rp.RequestedClauses {
			if strings.Contains(lowerContent, clause) {
				boost += 2
			}
			for _, ref := range refs {
				if scope.ClauseMatches(ref, clause) {
					boost += 4
					break
				}
			}
		}
		for _, std := range rp.RequestedStandards {
			if itemMatchesStandard(item, std) {
				boost += 1
				break
			}
		}
		entries = append(entries, ranked{item: item, boost: boost, order: i})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].boost != entries[j].boost {
			return entries[i].boost > entries[j].boost
		}
		if entries[i].item.Score != entries[j].item.Score {
			return entries[i].item.Score > entries[j].item.Score
		}
		return entries[i].order < entries[j].order
	})

	out := make([]datatypes.SearchItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.item)
	}
	return out
}

func keywordSet(text string) map[string]bool {
	out := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:?!()[]\"'")
		if len(word) >= 4 {
			out[word] = true
		}
	}
	return out
}

func keywordOverlap(queryWords map[string]bool, content string) int {
	count := 0
	lower := strings.ToLower(content)
	for word := range queryWords {
		if strings.Contains(lower, word) {
			count++
		}
	}
	return count
}
