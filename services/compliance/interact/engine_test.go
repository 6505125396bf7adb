// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package interact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/profile"
)

func interactProfile(t *testing.T, extra string) *profile.Profile {
	t.Helper()
	doc := `
tenant: test
default_mode: explanatory
standards: ["iso 9001", "iso 27001", "iso 14001"]
modes:
  - name: literal
    require_literal_evidence: true
  - name: comparative
    tool_hints: ["compare"]
  - name: explanatory
    allow_inference: true
` + extra
	p, err := profile.Parse([]byte(doc))
	require.NoError(t, err)
	return p
}

func clearQuery(text string) datatypes.Query {
	return datatypes.Query{Text: text, TenantID: "t"}
}

func clearIntent() datatypes.Intent {
	return datatypes.Intent{Mode: "explanatory", Confidence: 0.9}
}

func clearPlan(standards ...string) datatypes.RetrievalPlan {
	return datatypes.RetrievalPlan{
		Mode:               "explanatory",
		EffectiveQuery:     "what does the standard require for document retention",
		RequestedStandards: standards,
	}
}

func TestDecide_ClearQueryProceeds(t *testing.T) {
	p := interactProfile(t, "")
	d := Decide(clearQuery("what does iso 9001 require for document retention"),
		clearIntent(), clearPlan("iso 9001"), Estimates{Subqueries: 2}, p, 0)
	assert.Equal(t, datatypes.LevelProceed, d.Level)
	assert.False(t, d.NeedsInterrupt)
}

func TestDecide_ConfirmedClarificationNeverLoops(t *testing.T) {
	p := interactProfile(t, "")
	q := datatypes.Query{
		Text:          "retention?",
		TenantID:      "t",
		Clarification: &datatypes.ClarificationContext{Round: 1, Confirmed: true},
	}
	// Vague query with two unconfirmed scopes would normally clarify.
	d := Decide(q, clearIntent(), clearPlan("iso 9001", "iso 27001"), Estimates{}, p, 0)
	assert.Equal(t, datatypes.LevelProceed, d.Level)
}

func TestDecide_SecondRoundAlwaysProceeds(t *testing.T) {
	p := interactProfile(t, "")
	q := datatypes.Query{
		Text:          "retention?",
		TenantID:      "t",
		Clarification: &datatypes.ClarificationContext{Round: 2},
	}
	d := Decide(q, clearIntent(), clearPlan(), Estimates{}, p, 0)
	assert.Equal(t, datatypes.LevelProceed, d.Level, "one clarification round per request, never two")
}

func TestDecide_InterruptionBudgetExhausted(t *testing.T) {
	p := interactProfile(t, "") // max_interruptions_per_turn defaults to 2
	d := Decide(clearQuery("retention?"), clearIntent(), clearPlan(), Estimates{}, p, 2)
	assert.Equal(t, datatypes.LevelProceed, d.Level)
}

func TestDecide_TwoSignalsTriggerPlanApproval(t *testing.T) {
	p := interactProfile(t, "")
	rp := clearPlan("iso 9001", "iso 27001", "iso 14001") // many_scopes
	est := Estimates{Subqueries: 6, LatencyMs: 9000, CostUnits: 1.5}

	d := Decide(clearQuery("compare retention requirements across iso 9001 iso 27001 and iso 14001"),
		clearIntent(), rp, est, p, 0)
	assert.Equal(t, datatypes.LevelPlanApproval, d.Level)
	assert.True(t, d.NeedsInterrupt)
	assert.Contains(t, d.Signals, "high_subquery_count")
	assert.Contains(t, d.Signals, "many_scopes")
	require.NotNil(t, d.Clarification)
	assert.Equal(t, "plan_approval", d.Clarification.Kind)
	assert.Contains(t, d.Clarification.Options, "approve")
	assert.Equal(t, 1, d.Clarification.Round)
}

func TestDecide_ApprovedPlanProceeds(t *testing.T) {
	p := interactProfile(t, "")
	rp := clearPlan("iso 9001", "iso 27001", "iso 14001")
	est := Estimates{Subqueries: 6, LatencyMs: 9000, CostUnits: 1.5}

	q := clearQuery("compare retention across the standards __plan_approved__=true")
	d := Decide(q, clearIntent(), rp, est, p, 0)
	assert.NotEqual(t, datatypes.LevelPlanApproval, d.Level)
}

func TestDecide_OneSignalIsNotEnough(t *testing.T) {
	p := interactProfile(t, "")
	rp := clearPlan("iso 9001", "iso 27001", "iso 14001") // many_scopes only
	est := Estimates{Subqueries: 3, LatencyMs: 4500, CostUnits: 0.75}

	d := Decide(clearQuery("compare document retention requirements across these three standards"),
		clearIntent(), rp, est, p, 0)
	assert.NotEqual(t, datatypes.LevelPlanApproval, d.Level)
}

func TestDecide_HighRiskModeCountsAsSignal(t *testing.T) {
	p := interactProfile(t, `
  - name: audit_prep
    high_risk: true
`)
	rp := clearPlan("iso 9001", "iso 27001", "iso 14001")
	rp.Mode = "audit_prep"
	d := Decide(clearQuery("prepare the audit evidence pack for all three standards"),
		clearIntent(), rp, Estimates{Subqueries: 2}, p, 0)
	assert.Equal(t, datatypes.LevelPlanApproval, d.Level, "high_risk_mode plus many_scopes")
}

func TestDecide_AmbiguousQueryClarifies(t *testing.T) {
	p := interactProfile(t, `
  - name: guided
    required_slots: ["scope"]
`)
	// Missing scope slot, vague goal, and a bare "iso" with no resolved
	// standard stack up well past the threshold.
	q := clearQuery("iso retention?")
	rp := clearPlan() // nothing resolved
	rp.Mode = "guided"
	it := datatypes.Intent{Mode: "guided", Confidence: 0.4}
	d := Decide(q, it, rp, Estimates{}, p, 0)
	assert.Equal(t, datatypes.LevelClarify, d.Level)
	assert.True(t, d.NeedsInterrupt)
	assert.GreaterOrEqual(t, d.AmbiguityScore, p.Interaction.AmbiguityThreshold)
	require.NotNil(t, d.Clarification)
	assert.Equal(t, "Which standard should the answer focus on?", d.Clarification.Question)
	assert.Equal(t, p.Standards, d.Clarification.Options)
	assert.Equal(t, 1, d.Clarification.Round)
}

func TestDecide_ProfileClarificationRuleWins(t *testing.T) {
	p := interactProfile(t, `
clarification_rules:
  - min_scope_count: 2
    question: "Should the answer cover {scopes} separately or compared?"
    options: ["separately", "compared"]
interaction:
  ambiguity_threshold: 0.30
`)
	q := clearQuery("iso retention?")
	rp := clearPlan("iso 9001", "iso 27001")
	it := datatypes.Intent{Mode: "explanatory", Confidence: 0.3}
	d := Decide(q, it, rp, Estimates{}, p, 0)
	require.Equal(t, datatypes.LevelClarify, d.Level)
	assert.Equal(t, "Should the answer cover iso 9001, iso 27001 separately or compared?",
		d.Clarification.Question)
	assert.Equal(t, []string{"separately", "compared"}, d.Clarification.Options)
}

func TestEstimate_CostModel(t *testing.T) {
	p := interactProfile(t, "")
	rp := datatypes.RetrievalPlan{
		Mode:               "comparative",
		EffectiveQuery:     "document retention requirements",
		RequestedStandards: []string{"iso 9001", "iso 27001"},
	}
	est := Estimate(rp, p)
	require.Greater(t, est.Subqueries, 0)
	assert.Equal(t, est.Subqueries*1500, est.LatencyMs)
	assert.InDelta(t, float64(est.Subqueries)*0.25, est.CostUnits, 0.001)
}
