// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profile defines the per-tenant configuration document that drives
// classification, planning, retrieval, validation, and interaction. A loaded
// Profile is an immutable value object for the duration of one request;
// hot-reload swaps whole snapshots, never mutates one in place.
package profile

// ModeConfig configures one response mode.
type ModeConfig struct {
	Name                   string   `yaml:"name" validate:"required"`
	ChunkK                 int      `yaml:"chunk_k"`
	ChunkFetchK            int      `yaml:"chunk_fetch_k"`
	SummaryK               int      `yaml:"summary_k"`
	RequireLiteralEvidence bool     `yaml:"require_literal_evidence"`
	AllowInference         bool     `yaml:"allow_inference"`
	ToolHints              []string `yaml:"tool_hints"`
	HighRisk               bool     `yaml:"high_risk"`
	RequiredSlots          []string `yaml:"required_slots"`
}

// ClassifierRule is one ordered match-rule; the first rule whose keyword
// and pattern requirements all hold selects the mode.
type ClassifierRule struct {
	Mode        string   `yaml:"mode" validate:"required"`
	AllKeywords []string `yaml:"all_keywords"`
	AnyKeywords []string `yaml:"any_keywords"`
	Patterns    []string `yaml:"patterns"`
}

// ClarificationRule maps a query state to a clarification question.
// Virtual markers (__mode__=<mode>, __low_confidence__) are injected by the
// interaction engine before matching.
type ClarificationRule struct {
	MinScopeCount int      `yaml:"min_scope_count"`
	Mode          string   `yaml:"mode"`
	AllMarkers    []string `yaml:"all_markers"`
	AnyMarkers    []string `yaml:"any_markers"`
	Question      string   `yaml:"question" validate:"required"`
	Options       []string `yaml:"options"`
	Kind          string   `yaml:"kind"`
}

// RetrievalConfig bounds the retrieval orchestrator. ServerSideMerge
// sends all sub-queries in one batch call and lets the backend fuse the
// rankings; backends without batch support fall back to per-query fan-out.
type RetrievalConfig struct {
	MaxSubqueries     int     `yaml:"max_subqueries" validate:"min=0,max=8"`
	Parallelism       int     `yaml:"parallelism" validate:"min=0,max=8"`
	MinItems          int     `yaml:"min_items"`
	MinScore          float64 `yaml:"min_score"`
	MultiQueryEnabled *bool   `yaml:"multi_query_enabled"`
	ServerSideMerge   bool    `yaml:"server_side_merge"`
	StageTimeoutMs    int     `yaml:"stage_timeout_ms"`
	TotalTimeoutMs    int     `yaml:"total_timeout_ms"`
}

// CoverageConfig tunes the coverage gate and the validator's clause checks.
type CoverageConfig struct {
	TopN              int     `yaml:"top_n"`
	MinClauseRatio    float64 `yaml:"min_clause_ratio"`
	SemanticFallback  bool    `yaml:"semantic_fallback"`
	MinKeywordOverlap int     `yaml:"min_keyword_overlap"`
	MinSimilarity     float64 `yaml:"min_similarity"`
}

// RetryConfig bounds the autoretry / mode-relaxation policy.
type RetryConfig struct {
	MaxAttempts int  `yaml:"max_attempts" validate:"min=0,max=5"`
	LiteralLock bool `yaml:"literal_lock"`
}

// InteractionConfig holds the thresholds for the L1/L2/L3 decision.
type InteractionConfig struct {
	AmbiguityThreshold      float64 `yaml:"ambiguity_threshold"`
	PlanApprovalSubqueries  int     `yaml:"plan_approval_subqueries"`
	PlanApprovalLatencyMs   int     `yaml:"plan_approval_latency_ms"`
	PlanApprovalCostUnits   float64 `yaml:"plan_approval_cost_units"`
	MaxInterruptionsPerTurn int     `yaml:"max_interruptions_per_turn"`
	RequirePlanApproval     bool    `yaml:"require_plan_approval"`
}

// BackendConfig names one search backend endpoint.
type BackendConfig struct {
	Name      string `yaml:"name" validate:"required"`
	URL       string `yaml:"url" validate:"required,url"`
	HealthURL string `yaml:"health_url"`
	Kind      string `yaml:"kind"` // "contract" (HTTP) or "weaviate"
}

// Profile is the full per-tenant configuration document.
type Profile struct {
	Tenant             string              `yaml:"tenant"`
	DefaultMode        string              `yaml:"default_mode" validate:"required"`
	FallbackMode       string              `yaml:"fallback_mode"`
	ComparisonMode     string              `yaml:"comparison_mode"`
	Standards          []string            `yaml:"standards"`
	ScopeAliases       map[string][]string `yaml:"scope_aliases"`
	SearchHints        map[string][]string `yaml:"search_hints"`
	Modes              []ModeConfig        `yaml:"modes" validate:"required,min=1,dive"`
	ClassifierRules    []ClassifierRule    `yaml:"classifier_rules" validate:"dive"`
	ClarificationRules []ClarificationRule `yaml:"clarification_rules" validate:"dive"`
	Retrieval          RetrievalConfig     `yaml:"retrieval"`
	Coverage           CoverageConfig      `yaml:"coverage"`
	Retry              RetryConfig         `yaml:"retry"`
	Interaction        InteractionConfig   `yaml:"interaction"`
	Backends           []BackendConfig     `yaml:"backends" validate:"dive"`
	ForceBackend       string              `yaml:"force_backend"`
	ProbeTTLSeconds    int                 `yaml:"probe_ttl_seconds"`
	ProbeTimeoutMs     int                 `yaml:"probe_timeout_ms"`
}

// Mode returns the configuration for a mode name, or nil when the profile
// does not define it.
func (p *Profile) Mode(name string) *ModeConfig {
	for i := range p.Modes {
		if p.Modes[i].Name == name {
			return &p.Modes[i]
		}
	}
	return nil
}

// MultiQueryEnabled reports whether multi-query fan-out is allowed.
// Unset means enabled.
func (p *Profile) MultiQueryEnabled() bool {
	if p.Retrieval.MultiQueryEnabled == nil {
		return true
	}
	return *p.Retrieval.MultiQueryEnabled
}

// Hard defaults applied by applyDefaults when the profile leaves a knob
// unset. Retrieval counts per mode live in the plan package; these cover
// the cross-cutting knobs.
const (
	defaultMaxSubqueries   = 6
	defaultParallelism     = 3
	defaultMinItems        = 3
	defaultTopN            = 12
	defaultMinClauseRatio  = 0.70
	defaultKeywordOverlap  = 2
	defaultMinSimilarity   = 0.55
	defaultMaxAttempts     = 2
	defaultAmbiguityThresh = 0.45
	defaultApprovalSubq    = 6
	defaultApprovalLatency = 12000
	defaultApprovalCost    = 1.5
	defaultMaxInterrupts   = 2
	defaultProbeTTLSecs    = 20
	defaultProbeTimeoutMs  = 300
	defaultStageTimeoutMs  = 15000
	defaultTotalTimeoutMs  = 60000
)

func (p *Profile) applyDefaults() {
	if p.FallbackMode == "" {
		p.FallbackMode = "explanatory"
	}
	if p.ComparisonMode == "" {
		p.ComparisonMode = "comparative"
	}
	if p.Retrieval.MaxSubqueries == 0 {
		p.Retrieval.MaxSubqueries = defaultMaxSubqueries
	}
	if p.Retrieval.Parallelism == 0 {
		p.Retrieval.Parallelism = defaultParallelism
	}
	if p.Retrieval.MinItems == 0 {
		p.Retrieval.MinItems = defaultMinItems
	}
	if p.Retrieval.StageTimeoutMs == 0 {
		p.Retrieval.StageTimeoutMs = defaultStageTimeoutMs
	}
	if p.Retrieval.TotalTimeoutMs == 0 {
		p.Retrieval.TotalTimeoutMs = defaultTotalTimeoutMs
	}
	if p.Coverage.TopN == 0 {
		p.Coverage.TopN = defaultTopN
	}
	if p.Coverage.MinClauseRatio == 0 {
		p.Coverage.MinClauseRatio = defaultMinClauseRatio
	}
	if p.Coverage.MinKeywordOverlap == 0 {
		p.Coverage.MinKeywordOverlap = defaultKeywordOverlap
	}
	if p.Coverage.MinSimilarity == 0 {
		p.Coverage.MinSimilarity = defaultMinSimilarity
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry.MaxAttempts = defaultMaxAttempts
	}
	if p.Interaction.AmbiguityThreshold == 0 {
		p.Interaction.AmbiguityThreshold = defaultAmbiguityThresh
	}
	if p.Interaction.PlanApprovalSubqueries == 0 {
		p.Interaction.PlanApprovalSubqueries = defaultApprovalSubq
	}
	if p.Interaction.PlanApprovalLatencyMs == 0 {
		p.Interaction.PlanApprovalLatencyMs = defaultApprovalLatency
	}
	if p.Interaction.PlanApprovalCostUnits == 0 {
		p.Interaction.PlanApprovalCostUnits = defaultApprovalCost
	}
	if p.Interaction.MaxInterruptionsPerTurn == 0 {
		p.Interaction.MaxInterruptionsPerTurn = defaultMaxInterrupts
	}
	if p.ProbeTTLSeconds == 0 {
		p.ProbeTTLSeconds = defaultProbeTTLSecs
	}
	if p.ProbeTimeoutMs == 0 {
		p.ProbeTimeoutMs = defaultProbeTimeoutMs
	}
}
