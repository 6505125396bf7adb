// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"strings"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/scope"
)

// CoverageReport is the result of the coverage gate scan.
type CoverageReport struct {
	Applied        bool     `json:"applied"`
	Complete       bool     `json:"complete"`
	MissingScopes  []string `json:"missing_scopes,omitempty"`
	MissingClauses []string `json:"missing_clauses,omitempty"`
	ScannedTopN    int      `json:"scanned_top_n"`
}

// CheckCoverage runs the coverage gate: it applies only when at least two
// standards are requested under literal evidence, scans the top-N merged
// items for each requested standard (metadata tag first, content substring
// fallback) and each requested clause (exact or dotted-prefix match).
func CheckCoverage(evidence []datatypes.EvidenceItem, rp datatypes.RetrievalPlan, topN int) CoverageReport {
	if len(rp.RequestedStandards) < 2 || !rp.RequireLiteralEvidence {
		return CoverageReport{Applied: false, Complete: true}
	}
	if topN <= 0 {
		topN = 12
	}
	window := evidence
	if len(window) > topN {
		window = window[:topN]
	}

	report := CoverageReport{Applied: true, ScannedTopN: len(window)}
	for _, std := range rp.RequestedStandards {
		if !anyEvidenceForStandard(window, std) {
			report.MissingScopes = append(report.MissingScopes, std)
		}
	}
	for _, clause := range rp.RequestedClauses {
		if !anyEvidenceForClause(window, clause) {
			report.MissingClauses = append(report.MissingClauses, clause)
		}
	}
	report.Complete = len(report.MissingScopes) == 0 && len(report.MissingClauses) == 0
	return report
}

func anyEvidenceForStandard(evidence []datatypes.EvidenceItem, standard string) bool {
	lowerStd := strings.ToLower(standard)
	for _, item := range evidence {
		if item.Standard != "" {
			if strings.EqualFold(item.Standard, standard) {
				return true
			}
			continue
		}
		if strings.Contains(strings.ToLower(item.Content), lowerStd) {
			return true
		}
	}
	return false
}

func anyEvidenceForClause(evidence []datatypes.EvidenceItem, clause string) bool {
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
