// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry decides whether a failed attempt gets another one, and in
// which mode. Relaxation is monotone: strictness only ever goes down
// within a request, never up.
package retry

import (
	"fmt"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/profile"
)

// BlockedByLiteralLock is recorded in the attempt trace when the literal
// lock prevented a relaxation that would otherwise have happened.
const BlockedByLiteralLock = "fallback_blocked_by_literal_lock"

// Confidence assigned to a relaxed intent; the relaxation is a policy
// decision, not a classification.
const relaxedConfidence = 0.5

// Decision is the policy's verdict for one failed attempt.
type Decision struct {
	Retry       bool
	Next        datatypes.Intent
	LiteralLock bool
	Note        string
}

// Next computes whether attempt (1-based) may be followed by another one
// after failing with reason. Only the fixed failure vocabulary triggers a
// retry; anything else is terminal.
func Next(rp datatypes.RetrievalPlan, reason string, attempt int, p *profile.Profile) Decision {
	if !retryableReason(reason) {
		return Decision{}
	}
	maxAttempts := p.Retry.MaxAttempts
	if attempt >= maxAttempts {
		return Decision{}
	}

	if p.Retry.LiteralLock && rp.RequireLiteralEvidence {
		// Locked: stay in mode and surface the limitation instead of
		// silently downgrading precision.
		return Decision{
			Retry: true,
			Next: datatypes.Intent{
				Mode:       rp.Mode,
				Confidence: relaxedConfidence,
				Rationale:  fmt.Sprintf("retry after %s; literal lock active", reason),
			},
			LiteralLock: true,
			Note:        BlockedByLiteralLock,
		}
	}

	multiScope := len(rp.RequestedStandards) >= 2
	mode := relaxedMode(rp.Mode, multiScope, p)
	return Decision{
		Retry: true,
		Next: datatypes.Intent{
			Mode:       mode,
			Confidence: relaxedConfidence,
			Rationale:  fmt.Sprintf("relaxed from %q after %s", rp.Mode, reason),
		},
	}
}

// relaxedMode picks the first profile mode that differs from the current
// one, does not require literal evidence, and for multi-scope failures
// carries a comparison tool hint. No candidate falls back to the
// hard-coded defaults.
func relaxedMode(current string, multiScope bool, p *profile.Profile) string {
	for i := range p.Modes {
		cfg := &p.Modes[i]
		if cfg.Name == current || cfg.RequireLiteralEvidence {
			continue
		}
		if multiScope && !comparisonCapable(cfg, p) {
			continue
		}
		return cfg.Name
	}
	if multiScope {
		if cfg := p.Mode(p.ComparisonMode); cfg == nil || !cfg.RequireLiteralEvidence {
			return p.ComparisonMode
		}
	}
	return p.FallbackMode
}

func comparisonCapable(cfg *profile.ModeConfig, p *profile.Profile) bool {
	if cfg.Name == p.ComparisonMode {
		return true
	}
	for _, hint := range cfg.ToolHints {
		if hint == "compare" || hint == "comparison" {
			return true
		}
	}
	return false
}

func retryableReason(reason string) bool {
	switch reason {
	case datatypes.FailureScopeMismatch,
		datatypes.FailureClauseMissing,
		datatypes.FailureLowScore,
		datatypes.FailureEmptyRetrieval:
		return true
	}
	return false
}
