// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine sequences the full request lifecycle: classify, plan,
// interaction gate, retrieve, generate, validate, and the bounded
// autoretry loop. The caller always receives a structured Result; even
// total retrieval failure yields an insufficient-evidence draft with
// diagnostics, never a bare error.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/generate"
	"github.com/AleutianAI/AleutianComply/services/compliance/intent"
	"github.com/AleutianAI/AleutianComply/services/compliance/interact"
	"github.com/AleutianAI/AleutianComply/services/compliance/plan"
	"github.com/AleutianAI/AleutianComply/services/compliance/profile"
	"github.com/AleutianAI/AleutianComply/services/compliance/retrieval"
	"github.com/AleutianAI/AleutianComply/services/compliance/retry"
	"github.com/AleutianAI/AleutianComply/services/compliance/scope"
	"github.com/AleutianAI/AleutianComply/services/compliance/validate"
)

var tracer = otel.Tracer("aleutian.comply.engine")

// Command is one inbound question with its routing context.
type Command struct {
	Query         datatypes.Query
	RequestID     string
	CorrelationID string
}

// Attempt is one pass through the retrieval/generation cycle, retained in
// the result so callers can audit the autoretry behavior.
type Attempt struct {
	Intent        datatypes.Intent               `json:"intent"`
	Plan          datatypes.RetrievalPlan        `json:"plan"`
	Retrieval     datatypes.RetrievalDiagnostics `json:"retrieval"`
	FailureReason string                         `json:"failure_reason,omitempty"`
	Note          string                         `json:"note,omitempty"`
}

// TraceStep is one entry of the reasoning trace.
type TraceStep struct {
	Stage     string `json:"stage"`
	Detail    string `json:"detail,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// Result is the single structured value returned to the calling layer.
type Result struct {
	RequestID      string                           `json:"request_id,omitempty"`
	Intent         datatypes.Intent                 `json:"intent"`
	Plan           datatypes.RetrievalPlan          `json:"plan"`
	Answer         datatypes.AnswerDraft            `json:"answer"`
	Validation     datatypes.ValidationResult       `json:"validation"`
	Retrieval      datatypes.RetrievalDiagnostics   `json:"retrieval"`
	Attempts       []Attempt                        `json:"attempts,omitempty"`
	Clarification  *datatypes.ClarificationRequest  `json:"clarification,omitempty"`
	ReasoningTrace []TraceStep                      `json:"reasoning_trace,omitempty"`
	StopReason     string                           `json:"stop_reason,omitempty"`
}

// Engine drives the pipeline.
type Engine struct {
	profiles  *profile.Store
	retriever *retrieval.Orchestrator
	generator *generate.Generator
}

// New wires the driver.
func New(profiles *profile.Store, retriever *retrieval.Orchestrator, generator *generate.Generator) *Engine {
	return &Engine{profiles: profiles, retriever: retriever, generator: generator}
}

// Handle answers one question. The profile snapshot taken here is the one
// used for the request's whole lifetime.
func (e *Engine) Handle(ctx context.Context, cmd Command) Result {
	p := e.profiles.Current()
	ctx, span := tracer.Start(ctx, "engine.Handle",
		trace.WithAttributes(attribute.String("request_id", cmd.RequestID)))
	defer span.End()

	totalTimeout := time.Duration(p.Retrieval.TotalTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	started := time.Now()
	var steps []TraceStep
	step := func(stage, detail string) {
		steps = append(steps, TraceStep{
			Stage:     stage,
			Detail:    detail,
			ElapsedMs: time.Since(started).Milliseconds(),
		})
	}

	q := cmd.Query
	markers := scope.Markers(q.Text)
	partialOK := markers["coverage"] == "partial" || confirmedPartial(q.Clarification)

	it := intent.Classify(q.Text, p)
	step("classify", it.Mode)
	rp := applyResolvedScopes(plan.Build(it, q.Text, p), q.Clarification)

	// Interaction gate runs once, before any retrieval budget is spent.
	est := interact.Estimate(rp, p)
	decision := interact.Decide(q, it, rp, est, p, priorInterruptions(q))
	step("interaction", decision.Level)
	if decision.NeedsInterrupt {
		return Result{
			RequestID:      cmd.RequestID,
			Intent:         it,
			Plan:           rp,
			Clarification:  decision.Clarification,
			ReasoningTrace: steps,
			StopReason:     "clarification",
		}
	}

	var attempts []Attempt
	note := ""
	for attempt := 1; ; attempt++ {
		out, err := e.retriever.Retrieve(ctx, q, rp, p)
		if err != nil {
			step("retrieve", "upstream_unavailable")
			return e.unavailableResult(cmd, it, rp, attempts, steps, err)
		}
		if note != "" {
			if out.Diagnostics.Trace == nil {
				out.Diagnostics.Trace = map[string]any{}
			}
			out.Diagnostics.Trace["note"] = note
		}
		record := Attempt{Intent: it, Plan: rp, Retrieval: out.Diagnostics,
			FailureReason: out.FailureReason, Note: note}
		attempts = append(attempts, record)
		step("retrieve", out.Diagnostics.Strategy)

		// Incomplete coverage is worth one question before burning the
		// generation budget, unless the caller already opted into
		// partial coverage or is out of interruption budget.
		if out.Coverage.Applied && !out.Coverage.Complete && !partialOK {
			if clar := e.coverageClarification(q, out, p); clar != nil {
				return Result{
					RequestID:      cmd.RequestID,
					Intent:         it,
					Plan:           rp,
					Retrieval:      out.Diagnostics,
					Attempts:       attempts,
					Clarification:  clar,
					ReasoningTrace: steps,
					StopReason:     "coverage_clarification",
				}
			}
		}

		if len(out.Evidence) == 0 {
			if next := retry.Next(rp, out.FailureReason, attempt, p); next.Retry {
				it, rp, note = e.advance(next, q, p)
				continue
			}
			step("generate", "no_evidence")
			answer := e.generator.Generate(ctx, rp.EffectiveQuery, nil, rp)
			return e.finalResult(cmd, it, rp, answer,
				datatypes.ValidationResult{Accepted: false, Issues: []string{out.FailureReason}},
				attempts, steps, timeoutStop(ctx))
		}

		answer := e.generator.Generate(ctx, rp.EffectiveQuery, out.Evidence, rp)
		step("generate", answer.Mode)

		validation := validate.Validate(answer, rp, rp.EffectiveQuery, p)
		if partialOK {
			validation = downgradePartialCoverage(validation)
		}
		step("validate", acceptedLabel(validation.Accepted))

		if validation.Accepted {
			return e.finalResult(cmd, it, rp, answer, validation, attempts, steps, "")
		}

		reason := out.FailureReason
		if reason == "" {
			reason = reasonFromValidation(validation)
		}
		attempts[len(attempts)-1].FailureReason = reason
		if next := retry.Next(rp, reason, attempt, p); next.Retry {
			it, rp, note = e.advance(next, q, p)
			continue
		}
		return e.finalResult(cmd, it, rp, answer, validation, attempts, steps, timeoutStop(ctx))
	}
}

// advance applies a retry decision: reclassify nothing, rebuild the plan
// for the relaxed (or locked) mode.
func (e *Engine) advance(next retry.Decision, q datatypes.Query, p *profile.Profile) (datatypes.Intent, datatypes.RetrievalPlan, string) {
	it := next.Next
	rp := applyResolvedScopes(plan.Build(it, q.Text, p), q.Clarification)
	if next.LiteralLock {
		// The lock keeps literal evidence on even if a profile edit
		// changed the mode table between attempts.
		rp.RequireLiteralEvidence = true
	}
	return it, rp, next.Note
}

func (e *Engine) coverageClarification(q datatypes.Query, out retrieval.Outcome, p *profile.Profile) *datatypes.ClarificationRequest {
	if q.Clarification != nil && q.Clarification.Confirmed {
		return nil
	}
	if priorInterruptions(q) >= p.Interaction.MaxInterruptionsPerTurn {
		return nil
	}
	missing := strings.Join(out.Coverage.MissingScopes, ", ")
	if missing == "" {
		missing = strings.Join(out.Coverage.MissingClauses, ", ")
	}
	return &datatypes.ClarificationRequest{
		Question: "No evidence was found for " + missing +
			". Continue with partial coverage, or narrow the question?",
		Options: []string{"continue with partial coverage", "narrow the question"},
		Kind:    "clarification",
		Level:   datatypes.LevelClarify,
		Round:   priorInterruptions(q) + 1,
	}
}

func (e *Engine) unavailableResult(cmd Command, it datatypes.Intent, rp datatypes.RetrievalPlan,
	attempts []Attempt, steps []TraceStep, err error) Result {

	diags := datatypes.RetrievalDiagnostics{
		Strategy: "none",
		Partial:  true,
		Trace:    map[string]any{"error": err.Error(), "failure": "upstream_unavailable"},
	}
	attempts = append(attempts, Attempt{Intent: it, Plan: rp, Retrieval: diags,
		FailureReason: "upstream_unavailable"})
	return Result{
		RequestID: cmd.RequestID,
		Intent:    it,
		Plan:      rp,
		Answer: datatypes.AnswerDraft{
			Text: "I do not have sufficient evidence to answer this question.",
			Mode: rp.Mode,
		},
		Validation:     datatypes.ValidationResult{Accepted: false, Issues: []string{"upstream_unavailable"}},
		Retrieval:      diags,
		Attempts:       attempts,
		ReasoningTrace: steps,
		StopReason:     "upstream_unavailable",
	}
}

func (e *Engine) finalResult(cmd Command, it datatypes.Intent, rp datatypes.RetrievalPlan,
	answer datatypes.AnswerDraft, validation datatypes.ValidationResult,
	attempts []Attempt, steps []TraceStep, stopReason string) Result {

	var last datatypes.RetrievalDiagnostics
	if len(attempts) > 0 {
		last = attempts[len(attempts)-1].Retrieval
	}
	return Result{
		RequestID:      cmd.RequestID,
		Intent:         it,
		Plan:           rp,
		Answer:         answer,
		Validation:     validation,
		Retrieval:      last,
		Attempts:       attempts,
		ReasoningTrace: steps,
		StopReason:     stopReason,
	}
}

// confirmedPartial reports whether the caller answered a coverage
// clarification by accepting partial coverage. A confirmed round whose
// selected option asks to narrow the question resupplies scopes instead;
// it does not waive coverage.
func confirmedPartial(clar *datatypes.ClarificationContext) bool {
	if clar == nil || !clar.Confirmed {
		return false
	}
	return !strings.Contains(strings.ToLower(clar.SelectedOption), "narrow")
}

// applyResolvedScopes replaces the extracted standards with the scopes the
// caller resolved in a confirmed clarification round.
func applyResolvedScopes(rp datatypes.RetrievalPlan, clar *datatypes.ClarificationContext) datatypes.RetrievalPlan {
	if clar == nil || !clar.Confirmed || len(clar.ResolvedScopes) == 0 {
		return rp
	}
	rp.RequestedStandards = clar.ResolvedScopes
	return rp
}

func priorInterruptions(q datatypes.Query) int {
	if q.Clarification != nil {
		return q.Clarification.Round
	}
	return 0
}

// reasonFromValidation maps validator issues back to the autoretry
// vocabulary.
func reasonFromValidation(v datatypes.ValidationResult) string {
	for _, issue := range v.Issues {
		switch {
		case strings.Contains(issue, "clause"):
			return datatypes.FailureClauseMissing
		case strings.Contains(issue, "Scope"):
			return datatypes.FailureScopeMismatch
		}
	}
	return ""
}

// downgradePartialCoverage moves per-standard coverage issues to warnings
// when the caller explicitly accepted partial coverage.
func downgradePartialCoverage(v datatypes.ValidationResult) datatypes.ValidationResult {
	var issues []string
	for _, issue := range v.Issues {
		if strings.HasPrefix(issue, "Scope coverage incomplete") {
			v.Warnings = append(v.Warnings, issue)
			continue
		}
		issues = append(issues, issue)
	}
	v.Issues = issues
	v.Accepted = len(issues) == 0
	return v
}

func timeoutStop(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "orchestrator_timeout"
	}
	return ""
}

func acceptedLabel(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "rejected"
}
