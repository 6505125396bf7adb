// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intent selects a response mode for a query by evaluating the
// profile's ordered classifier rules, first match wins. Classification is
// a pure function of query + profile: the same inputs always produce the
// same Intent.
package intent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/profile"
	"github.com/AleutianAI/AleutianComply/services/compliance/scope"
)

const (
	confidenceExplicit   = 1.0
	confidenceRuleMatch  = 0.85
	confidenceAmbiguous  = 0.70
	confidenceDefault    = 0.40
	unresolvedScopeDrop  = 0.15
	confidenceFloorValue = 0.30
)

// Classify picks the response mode for a query.
//
// Resolution order:
//  1. an explicit __mode__=X marker wins outright with confidence 1.0
//     (used for tests and operator override);
//  2. the first classifier rule whose keyword and pattern requirements all
//     hold selects its mode;
//  3. no match falls back to the profile's default mode.
//
// Confidence is reduced when several rules matched (ambiguous query) and
// when no requested standard could be resolved.
func Classify(query string, p *profile.Profile) datatypes.Intent {
	markers := scope.Markers(query)
	if mode, ok := markers["mode"]; ok && p.Mode(mode) != nil {
		return datatypes.Intent{
			Mode:       mode,
			Confidence: confidenceExplicit,
			Rationale:  "explicit mode marker",
		}
	}

	lower := strings.ToLower(scope.StripMarkers(query))
	standards := scope.Standards(query, p)

	matched := 0
	var selected *profile.ClassifierRule
	for i := range p.ClassifierRules {
		rule := &p.ClassifierRules[i]
		if !ruleMatches(lower, rule) {
			continue
		}
		matched++
		if selected == nil {
			selected = rule
		}
	}

	if selected == nil {
		return datatypes.Intent{
			Mode:       p.DefaultMode,
			Confidence: applyScopePenalty(confidenceDefault, standards),
			Rationale:  "no classifier rule matched, using default mode",
		}
	}

	confidence := confidenceRuleMatch
	rationale := fmt.Sprintf("matched classifier rule for mode %q", selected.Mode)
	if matched > 1 {
		confidence = confidenceAmbiguous
		rationale = fmt.Sprintf("%d classifier rules matched, first wins (%q)", matched, selected.Mode)
	}
	return datatypes.Intent{
		Mode:       selected.Mode,
		Confidence: applyScopePenalty(confidence, standards),
		Rationale:  rationale,
	}
}

func applyScopePenalty(confidence float64, standards []string) float64 {
	if len(standards) == 0 {
		confidence -= unresolvedScopeDrop
	}
	if confidence < confidenceFloorValue {
		confidence = confidenceFloorValue
	}
	return confidence
}

func ruleMatches(lowerQuery string, rule *profile.ClassifierRule) bool {
	for _, kw := range rule.AllKeywords {
		if !strings.Contains(lowerQuery, strings.ToLower(kw)) {
			return false
		}
	}
	if len(rule.AnyKeywords) > 0 {
		any := false
		for _, kw := range rule.AnyKeywords {
			if strings.Contains(lowerQuery, strings.ToLower(kw)) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	for _, pattern := range rule.Patterns {
		// Patterns were compile-checked at profile load time.
		re, err := regexp.Compile(pattern)
		if err != nil || !re.MatchString(lowerQuery) {
			return false
		}
	}
	return true
}
