// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate is the post-generation gate: citation presence,
// hallucinated references, scope mismatch, and clause coverage. Literal
// modes block on every finding; every other mode downgrades the scope
// findings to advisory warnings.
package validate

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/profile"
	"github.com/AleutianAI/AleutianComply/services/compliance/scope"
)

var (
	sourceMarkerRe    = regexp.MustCompile(`\b[CR]\d+\b`)
	bracketedMarkerRe = regexp.MustCompile(`\[([CR]\d+)\]`)
)

// Issue strings. Kept stable: callers and dashboards match on them.
const (
	issueNoMarkers        = "Answer does not include explicit source markers (C#/R#)."
	issueAnswerScope      = "Scope mismatch detected: answer mentions a different standard than the query scope."
	issueEvidenceScope    = "Scope mismatch detected: evidence includes sources outside requested standard scope."
	issueClauseMismatch   = "Literal clause mismatch: no evidence chunk contains the requested clause reference."
	issueClauseCoverageFmt = "Literal clause coverage insufficient: matched %d/%d refs (required %d, ratio=%.2f)."
	issueHallucinationFmt  = "Hallucinated citation: marker %s is not present in the evidence set."
	issueScopeCoverageFmt  = "Scope coverage incomplete: no evidence for standard %s."
)

// Fallback answers state that evidence was insufficient; they are exempt
// from the citation-presence requirement.
var fallbackPhrases = []string{
	"insufficient evidence",
	"do not have sufficient evidence",
	"do not have enough evidence",
	"no evidence was found",
	"generator was unavailable",
}

// Validate gates a generated answer against the plan that produced it.
func Validate(answer datatypes.AnswerDraft, rp datatypes.RetrievalPlan, query string, p *profile.Profile) datatypes.ValidationResult {
	var issues, warnings []string

	literal := rp.RequireLiteralEvidence
	addScoped := func(issue string) {
		// Scope findings block literal modes and warn otherwise.
		if literal {
			issues = append(issues, issue)
		} else {
			warnings = append(warnings, issue)
		}
	}

	markers := answerMarkers(answer.Text)

	if literal && len(markers) == 0 && !isFallbackAnswer(answer.Text) {
		issues = append(issues, issueNoMarkers)
	}

	// Hallucination guard runs in every mode and never downgrades: a
	// marker pointing at nothing is always a blocking defect.
	known := make(map[string]bool, len(answer.Evidence))
	for _, item := range answer.Evidence {
		known[item.SourceID] = true
	}
	for _, marker := range markers {
		if !known[marker] {
			issues = append(issues, fmt.Sprintf(issueHallucinationFmt, marker))
		}
	}

	if len(rp.RequestedStandards) > 0 {
		if mentionsForeignStandard(answer.Text, rp.RequestedStandards, p) {
			addScoped(issueAnswerScope)
		}
		if evidenceOutsideScope(answer.Evidence, rp.RequestedStandards) {
			addScoped(issueEvidenceScope)
		}
		if len(rp.RequestedStandards) >= 2 {
			for _, std := range rp.RequestedStandards {
				if !evidenceCoversStandard(answer.Evidence, std) {
					addScoped(fmt.Sprintf(issueScopeCoverageFmt, std))
				}
			}
		}
	}

	if literal && len(rp.RequestedClauses) > 0 {
		issues = append(issues, clauseCoverageIssues(answer.Evidence, rp, query, p)...)
	}

	return datatypes.ValidationResult{
		Accepted: len(issues) == 0,
		Issues:   issues,
		Warnings: warnings,
	}
}

// answerMarkers collects the citation markers present in the text, in
// order of first appearance.
func answerMarkers(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range sourceMarkerRe.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	for _, m := range bracketedMarkerRe.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

func isFallbackAnswer(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range fallbackPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// mentionsForeignStandard reports whether the answer names a standard the
// query did not request.
func mentionsForeignStandard(text string, requested []string, p *profile.Profile) bool {
	lower := strings.ToLower(text)
	requestedSet := make(map[string]bool, len(requested))
	for _, std := range requested {
		requestedSet[std] = true
	}
	for _, std := range p.Standards {
		if requestedSet[std] {
			continue
		}
		if strings.Contains(lower, strings.ToLower(std)) {
			return true
		}
		for _, alias := range p.ScopeAliases[std] {
			if strings.Contains(lower, strings.ToLower(alias)) {
				return true
			}
		}
	}
	return false
}

func evidenceOutsideScope(evidence []datatypes.EvidenceItem, requested []string) bool {
	requestedSet := make(map[string]bool, len(requested))
	for _, std := range requested {
		requestedSet[strings.ToLower(std)] = true
	}
	for _, item := range evidence {
		if item.Standard == "" {
			continue
		}
		if !requestedSet[strings.ToLower(item.Standard)] {
			return true
		}
	}
	return false
}

func evidenceCoversStandard(evidence []datatypes.EvidenceItem, standard string) bool {
	lowerStd := strings.ToLower(standard)
	for _, item := range evidence {
		if strings.EqualFold(item.Standard, standard) {
			return true
		}
		if item.Standard == "" && strings.Contains(strings.ToLower(item.Content), lowerStd) {
			return true
		}
	}
	return false
}

// clauseCoverageIssues enforces literal clause coverage: with one or two
// requested refs every one must be matched; with three or more, at least
// ceil(n * min_clause_ratio) with an absolute floor of two. A semantic
// fallback (keyword overlap + similarity threshold) may stand in for an
// exact match, but only when the profile enables it.
func clauseCoverageIssues(evidence []datatypes.EvidenceItem, rp datatypes.RetrievalPlan,
	query string, p *profile.Profile) []string {

	matched := 0
	for _, clause := range rp.RequestedClauses {
		if clauseMatched(evidence, clause) {
			matched++
			continue
		}
		if p.Coverage.SemanticFallback && semanticallyCovered(evidence, query, p) {
			matched++
		}
	}

	total := len(rp.RequestedClauses)
	required := total
	if total >= 3 {
		required = int(math.Ceil(float64(total) * p.Coverage.MinClauseRatio))
		if required < 2 {
			required = 2
		}
	}

	if matched >= required {
		return nil
	}
	if matched == 0 {
		return []string{issueClauseMismatch}
	}
	ratio := float64(matched) / float64(total)
	return []string{fmt.Sprintf(issueClauseCoverageFmt, matched, total, required, ratio)}
}

func clauseMatched(evidence []datatypes.EvidenceItem, clause string) bool {
	for _, item := range evidence {
		for _, ref := range item.ClauseRefs {
			if scope.ClauseMatches(ref, clause) {
				return true
			}
		}
		if strings.Contains(item.Content, clause) {
			return true
		}
	}
	return false
}

// semanticallyCovered is the policy-gated safety valve: a chunk with
// enough query keyword overlap and a similarity score above the threshold
// counts as covering a paraphrased clause.
func semanticallyCovered(evidence []datatypes.EvidenceItem, query string, p *profile.Profile) bool {
	queryWords := keywordSet(query)
	for _, item := range evidence {
		if item.Score < p.Coverage.MinSimilarity {
			continue
		}
		if keywordOverlap(queryWords, item.Content) >= p.Coverage.MinKeywordOverlap {
			return true
		}
	}
	return false
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
