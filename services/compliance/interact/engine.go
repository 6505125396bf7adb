// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package interact decides whether the pipeline should pause and ask the
// caller a question before spending retrieval and generation budget.
// Pure decision function: no I/O, no state beyond its inputs.
package interact

import (
	"strings"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/plan"
	"github.com/AleutianAI/AleutianComply/services/compliance/profile"
	"github.com/AleutianAI/AleutianComply/services/compliance/scope"
)

// Ambiguity score components.
const (
	weightMissingSlots     = 0.35
	weightMultiScopeUnconf = 0.25
	weightVagueGoal        = 0.10
	weightBareISO          = 0.20
)

// Per-sub-query cost model used for the plan-approval estimate.
const (
	estLatencyPerSubqueryMs = 1500
	estCostPerSubquery      = 0.25
)

// Estimates is the resource projection for a plan, fed to the L3 check.
type Estimates struct {
	Subqueries int     `json:"subqueries"`
	LatencyMs  int     `json:"latency_ms"`
	CostUnits  float64 `json:"cost_units"`
}

// Estimate projects the cost of executing a plan.
func Estimate(rp datatypes.RetrievalPlan, p *profile.Profile) Estimates {
	n := len(plan.Subqueries(rp, p, false))
	return Estimates{
		Subqueries: n,
		LatencyMs:  n * estLatencyPerSubqueryMs,
		CostUnits:  float64(n) * estCostPerSubquery,
	}
}

// Decision is the engine's verdict for one turn.
type Decision struct {
	Level          string                           `json:"level"`
	NeedsInterrupt bool                             `json:"needs_interrupt"`
	AmbiguityScore float64                          `json:"ambiguity_score"`
	Signals        []string                         `json:"signals,omitempty"`
	Clarification  *datatypes.ClarificationRequest  `json:"clarification,omitempty"`
}

// Decide selects the interruption level for a turn.
//
// L1 proceeds, L2 asks a clarification question, L3 asks for plan
// approval. A confirmed clarification context for the current round, an
// exhausted interruption budget, or a clarification round past the first
// always yield L1: the engine never loops the caller.
func Decide(q datatypes.Query, it datatypes.Intent, rp datatypes.RetrievalPlan,
	est Estimates, p *profile.Profile, priorInterruptions int) Decision {

	markers := scope.Markers(q.Text)
	round := clarificationRound(q, markers)

	if confirmed(q, markers) && round >= currentRound(q) {
		return Decision{Level: datatypes.LevelProceed}
	}
	if round >= 2 {
		return Decision{Level: datatypes.LevelProceed}
	}
	if priorInterruptions >= p.Interaction.MaxInterruptionsPerTurn {
		return Decision{Level: datatypes.LevelProceed}
	}

	signals := approvalSignals(rp, est, p)
	planApproved := markers["plan_approved"] == "true"
	if len(signals) >= 2 && !planApproved {
		return Decision{
			Level:          datatypes.LevelPlanApproval,
			NeedsInterrupt: true,
			Signals:        signals,
			Clarification: &datatypes.ClarificationRequest{
				Question: approvalQuestion(rp, est),
				Options:  []string{"approve", "narrow the scope", "cancel"},
				Kind:     "plan_approval",
				Level:    datatypes.LevelPlanApproval,
				Round:    round + 1,
			},
		}
	}

	score := ambiguityScore(q, it, rp, markers, p)
	if score >= p.Interaction.AmbiguityThreshold {
		req := clarificationRequest(q, it, rp, markers, p)
		req.Round = round + 1
		return Decision{
			Level:          datatypes.LevelClarify,
			NeedsInterrupt: true,
			AmbiguityScore: score,
			Clarification:  req,
		}
	}

	return Decision{Level: datatypes.LevelProceed, AmbiguityScore: score, Signals: signals}
}

func ambiguityScore(q datatypes.Query, it datatypes.Intent, rp datatypes.RetrievalPlan,
	markers map[string]string, p *profile.Profile) float64 {

	score := 0.0
	if len(missingSlots(it, rp, p)) > 0 {
		score += weightMissingSlots
	}
	if len(rp.RequestedStandards) >= 2 && !confirmed(q, markers) && markers["coverage"] == "" {
		score += weightMultiScopeUnconf
	}
	clean := scope.StripMarkers(q.Text)
	if len(strings.Fields(clean)) < 4 {
		score += weightVagueGoal
	}
	if bareISO(clean, rp) {
		score += weightBareISO
	}
	return score
}

// missingSlots returns the mode's required slots not satisfied by the
// query. "scope" is satisfied by a resolved standard, "objective" by a
// non-vague question; unknown slots are never satisfied and force a
// clarification.
func missingSlots(it datatypes.Intent, rp datatypes.RetrievalPlan, p *profile.Profile) []string {
	cfg := p.Mode(it.Mode)
	if cfg == nil {
		return nil
	}
	var missing []string
	for _, slot := range cfg.RequiredSlots {
		switch slot {
		case "scope":
			if len(rp.RequestedStandards) == 0 {
				missing = append(missing, slot)
			}
		case "objective":
			if len(strings.Fields(rp.EffectiveQuery)) < 4 {
				missing = append(missing, slot)
			}
		default:
			missing = append(missing, slot)
		}
	}
	return missing
}

// bareISO flags queries that say "iso" without resolving to any concrete
// standard; the user almost certainly means one of several.
func bareISO(cleanQuery string, rp datatypes.RetrievalPlan) bool {
	if len(rp.RequestedStandards) > 0 {
		return false
	}
	for _, word := range strings.Fields(strings.ToLower(cleanQuery)) {
		if strings.Trim(word, ".,;:?!") == "iso" {
			return true
		}
	}
	return false
}

func approvalSignals(rp datatypes.RetrievalPlan, est Estimates, p *profile.Profile) []string {
	var signals []string
	if est.Subqueries >= p.Interaction.PlanApprovalSubqueries {
		signals = append(signals, "high_subquery_count")
	}
	if est.LatencyMs >= p.Interaction.PlanApprovalLatencyMs {
		signals = append(signals, "high_estimated_latency")
	}
	if est.CostUnits >= p.Interaction.PlanApprovalCostUnits {
		signals = append(signals, "high_estimated_cost")
	}
	if len(rp.RequestedStandards) >= 3 {
		signals = append(signals, "many_scopes")
	}
	if cfg := p.Mode(rp.Mode); cfg != nil && cfg.HighRisk {
		signals = append(signals, "high_risk_mode")
	}
	if p.Interaction.RequirePlanApproval {
		signals = append(signals, "approval_required_by_profile")
	}
	return signals
}

func approvalQuestion(rp datatypes.RetrievalPlan, est Estimates) string {
	var b strings.Builder
	b.WriteString("This question needs a broad search")
	if len(rp.RequestedStandards) > 0 {
		b.WriteString(" across " + strings.Join(rp.RequestedStandards, ", "))
	}
	b.WriteString(". Proceed?")
	return b.String()
}

// clarificationRequest evaluates the profile's ordered clarification
// rules, first match wins. Virtual markers (__mode__=<mode> and
// __low_confidence__) are visible to the rules alongside the query's own
// markers.
func clarificationRequest(q datatypes.Query, it datatypes.Intent, rp datatypes.RetrievalPlan,
	markers map[string]string, p *profile.Profile) *datatypes.ClarificationRequest {

	virtual := map[string]bool{
		"__mode__=" + it.Mode: true,
	}
	if it.Confidence < 0.5 {
		virtual["__low_confidence__"] = true
	}
	hasMarker := func(m string) bool {
		if virtual[m] {
			return true
		}
		name := strings.Trim(m, "_")
		if idx := strings.Index(name, "__="); idx >= 0 {
			key := name[:idx]
			return markers[key] == name[idx+3:]
		}
		return markers[name] != ""
	}

	for _, rule := range p.ClarificationRules {
		if rule.MinScopeCount > 0 && len(rp.RequestedStandards) < rule.MinScopeCount {
			continue
		}
		if rule.Mode != "" && rule.Mode != it.Mode {
			continue
		}
		allOk := true
		for _, m := range rule.AllMarkers {
			if !hasMarker(m) {
				allOk = false
				break
			}
		}
		if !allOk {
			continue
		}
		if len(rule.AnyMarkers) > 0 {
			any := false
			for _, m := range rule.AnyMarkers {
				if hasMarker(m) {
					any = true
					break
				}
			}
			if !any {
				continue
			}
		}
		kind := rule.Kind
		if kind == "" {
			kind = "clarification"
		}
		return &datatypes.ClarificationRequest{
			Question: strings.ReplaceAll(rule.Question, "{scopes}",
				strings.Join(rp.RequestedStandards, ", ")),
			Options: rule.Options,
			Kind:    kind,
			Level:   datatypes.LevelClarify,
		}
	}

	options := rp.RequestedStandards
	if len(options) == 0 {
		options = p.Standards
	}
	return &datatypes.ClarificationRequest{
		Question: "Which standard should the answer focus on?",
		Options:  options,
		Kind:     "clarification",
		Level:    datatypes.LevelClarify,
	}
}

func confirmed(q datatypes.Query, markers map[string]string) bool {
	if q.Clarification != nil && q.Clarification.Confirmed {
		return true
	}
	return markers["clarification_confirmed"] == "true"
}

func clarificationRound(q datatypes.Query, markers map[string]string) int {
	if q.Clarification != nil && q.Clarification.Round > 0 {
		return q.Clarification.Round
	}
	if v := markers["clarification_round"]; v != "" {
		round := 0
		for _, r := range v {
			if r < '0' || r > '9' {
				return 0
			}
			round = round*10 + int(r-'0')
		}
		return round
	}
	return 0
}

// currentRound is the round the engine would interrupt on next; a caller
// that already answered it is never asked again.
func currentRound(q datatypes.Query) int {
	if q.Clarification != nil && q.Clarification.Round > 0 {
		return q.Clarification.Round
	}
	return 1
}
