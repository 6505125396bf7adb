// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the value objects passed between the compliance
// pipeline stages. Everything here is created fresh per request or per
// attempt and discarded at response time; nothing is persisted.
package datatypes

// ClarificationContext carries the caller's answers from a previous
// clarification round back into the pipeline.
type ClarificationContext struct {
	Round          int      `json:"round"`
	Confirmed      bool     `json:"confirmed"`
	SelectedOption string   `json:"selected_option,omitempty"`
	ResolvedScopes []string `json:"resolved_scopes,omitempty"`
}

// Query is the immutable per-request input.
type Query struct {
	Text          string                `json:"text"`
	TenantID      string                `json:"tenant_id"`
	CollectionID  string                `json:"collection_id,omitempty"`
	Clarification *ClarificationContext `json:"clarification,omitempty"`
}

// Intent is the classified response mode for one attempt.
type Intent struct {
	Mode       string  `json:"mode"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// RetrievalPlan maps a mode to concrete retrieval parameters. ChunkK is
// always <= ChunkFetchK and every count is clamped to the hard ceilings
// in the plan package, no matter what the profile asked for.
type RetrievalPlan struct {
	Mode                   string   `json:"mode"`
	ChunkK                 int      `json:"chunk_k"`
	ChunkFetchK            int      `json:"chunk_fetch_k"`
	SummaryK               int      `json:"summary_k"`
	RequireLiteralEvidence bool     `json:"require_literal_evidence"`
	AllowInference         bool     `json:"allow_inference"`
	RequestedStandards     []string `json:"requested_standards,omitempty"`
	RequestedClauses       []string `json:"requested_clauses,omitempty"`
	EffectiveQuery         string   `json:"effective_query,omitempty"`
}

// EvidenceItem is one retrieved chunk. SourceID is unique within an answer
// and doubles as the citation marker (C1, C2, ... / R1 for summaries).
type EvidenceItem struct {
	SourceID   string         `json:"source_id"`
	Content    string         `json:"content"`
	Score      float64        `json:"score"`
	Standard   string         `json:"standard,omitempty"`
	ClauseRefs []string       `json:"clause_refs,omitempty"`
	Timestamp  int64          `json:"timestamp,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SearchItem is the raw shape returned by a search backend before the
// orchestrator assigns source ids and normalizes metadata.
type SearchItem struct {
	Source   string         `json:"source"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RetrievalDiagnostics is the append-only audit record for one attempt.
type RetrievalDiagnostics struct {
	Strategy        string         `json:"strategy"`
	Partial         bool           `json:"partial"`
	Trace           map[string]any `json:"trace,omitempty"`
	ScopeValidation map[string]any `json:"scope_validation,omitempty"`
}

// AnswerDraft is what the generator produced, plus the evidence it was
// given. Only deterministic guardrail code mutates it after generation.
type AnswerDraft struct {
	Text     string         `json:"text"`
	Mode     string         `json:"mode"`
	Evidence []EvidenceItem `json:"evidence,omitempty"`
}

// ValidationResult lists what the evidence validator found. Issues block
// the answer; Warnings are the same findings downgraded in non-literal
// modes.
type ValidationResult struct {
	Accepted bool     `json:"accepted"`
	Issues   []string `json:"issues,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Interruption levels for the interaction engine.
const (
	LevelProceed      = "L1"
	LevelClarify      = "L2"
	LevelPlanApproval = "L3"
)

// ClarificationRequest pauses the turn. When present the orchestrator does
// not retrieve or generate further.
type ClarificationRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Kind     string   `json:"kind"`
	Level    string   `json:"level"`
	Round    int      `json:"round"`
}

// Failure reasons consumed by the autoretry policy. These are typed
// outcomes, not errors.
const (
	FailureEmptyRetrieval = "empty_retrieval"
	FailureScopeMismatch  = "scope_mismatch"
	FailureClauseMissing  = "clause_missing"
	FailureLowScore       = "low_score"
	FailureTimeout        = "timeout"
)
