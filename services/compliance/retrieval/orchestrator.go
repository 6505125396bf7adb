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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianComply/services/compliance/backend"
	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/plan"
	"github.com/AleutianAI/AleutianComply/services/compliance/profile"
)

// Retrieval strategies, attempted in order until one yields enough items.
const (
	StrategyMultiQuery        = "multi_query"
	StrategyMultiQueryRefined = "multi_query_refined"
	StrategyBatchMerge        = "batch_merge"
	StrategySingleHybrid      = "single_hybrid"
)

// SufficiencyEvaluator may be consulted when the item count is low but
// non-zero. A failing evaluator never fails retrieval; implementations
// report insufficient with a reason instead of returning errors.
type SufficiencyEvaluator interface {
	Evaluate(ctx context.Context, query string, standards []string,
		evidence []datatypes.EvidenceItem, minItems int) (sufficient bool, reason string)
}

// Outcome is everything one retrieval attempt produced. A retrieval that
// found nothing is an Outcome with empty Evidence and a failure reason,
// not an error; only transport failure after failover exhaustion errors.
type Outcome struct {
	Evidence      []datatypes.EvidenceItem
	Diagnostics   datatypes.RetrievalDiagnostics
	Coverage      CoverageReport
	FailureReason string
}

// Orchestrator executes retrieval plans.
type Orchestrator struct {
	search    *backend.FailoverSearcher
	evaluator SufficiencyEvaluator
}

// NewOrchestrator wires the retrieval layer. evaluator may be nil.
func NewOrchestrator(search *backend.FailoverSearcher, evaluator SufficiencyEvaluator) *Orchestrator {
	return &Orchestrator{search: search, evaluator: evaluator}
}

// Retrieve runs one attempt of the plan: multi-query fan-out, refinement
// with a step-back probe, optional sufficiency check, then single hybrid
// fallback. The coverage gate runs over the final merged evidence.
func (o *Orchestrator) Retrieve(ctx context.Context, q datatypes.Query, rp datatypes.RetrievalPlan, p *profile.Profile) (Outcome, error) {
	stageTimeout := time.Duration(p.Retrieval.StageTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	started := time.Now()
	trace := map[string]any{}
	strategy := StrategyMultiQuery

	var lists [][]datatypes.SearchItem
	var callErrs []error

	if p.MultiQueryEnabled() {
		subs := plan.Subqueries(rp, p, false)
		trace["subqueries"] = len(subs)
		if p.Retrieval.ServerSideMerge {
			if items, ok := o.batchMerge(ctx, q, rp, subs, trace); ok {
				strategy = StrategyBatchMerge
				lists = [][]datatypes.SearchItem{items}
			}
		}
		if lists == nil {
			lists, callErrs = o.fanOut(ctx, q, rp, p, subs, trace)
		}

		merged := o.condense(lists, rp, p)
		if len(merged) < p.Retrieval.MinItems {
			stepBack := stepBackOnly(plan.Subqueries(rp, p, true))
			if len(stepBack) > 0 {
				strategy = StrategyMultiQueryRefined
				trace["refined"] = true
				moreLists, moreErrs := o.fanOut(ctx, q, rp, p, stepBack, trace)
				lists = append(lists, moreLists...)
				callErrs = append(callErrs, moreErrs...)
			}
		}
	}

	merged := o.condense(lists, rp, p)
	evidence := toEvidence(merged, rp)

	if len(evidence) > 0 && len(evidence) < p.Retrieval.MinItems && o.evaluator != nil {
		sufficient, reason := o.evaluator.Evaluate(ctx, rp.EffectiveQuery,
			rp.RequestedStandards, evidence, p.Retrieval.MinItems)
		trace["sufficiency"] = map[string]any{"sufficient": sufficient, "reason": reason}
		if sufficient {
			return o.finish(evidence, rp, p, strategy, trace, started, callErrs)
		}
	}

	if len(evidence) < p.Retrieval.MinItems {
		items, err := o.singleHybrid(ctx, q, rp)
		if err == nil {
			strategy = StrategySingleHybrid
			lists = append(lists, items)
			merged = o.condense(lists, rp, p)
			evidence = toEvidence(merged, rp)
		} else {
			callErrs = append(callErrs, err)
		}
	}

	// Empty results are a valid outcome; only the case where every single
	// backend call failed is a transport error.
	if len(evidence) == 0 && len(lists) == 0 && len(callErrs) > 0 {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			trace["failure"] = datatypes.FailureTimeout
			return o.finish(nil, rp, p, strategy, trace, started, callErrs)
		}
		return Outcome{}, fmt.Errorf("retrieval failed after failover exhaustion: %w", callErrs[0])
	}

	return o.finish(evidence, rp, p, strategy, trace, started, callErrs)
}

// fanOut dispatches sub-queries concurrently under the profile's
// parallelism cap. Per-call failures are recorded, not fatal: other
// sub-queries may still deliver evidence.
func (o *Orchestrator) fanOut(ctx context.Context, q datatypes.Query, rp datatypes.RetrievalPlan,
	p *profile.Profile, subs []plan.SubQuery, trace map[string]any) ([][]datatypes.SearchItem, []error) {

	parallelism := p.Retrieval.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	sem := semaphore.NewWeighted(int64(parallelism))
	g, gctx := errgroup.WithContext(ctx)

	lists := make([][]datatypes.SearchItem, len(subs))
	errs := make([]error, len(subs))
	failovers := make([]string, len(subs))

	for i, sq := range subs {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				errs[i] = err
				return nil
			}
			defer sem.Release(1)

			res, err := o.search.Search(gctx, backend.SearchRequest{
				Query:        sq.Query,
				TenantID:     q.TenantID,
				CollectionID: q.CollectionID,
				K:            rp.ChunkK,
				FetchK:       rp.ChunkFetchK,
				Standard:     sq.Standard,
			})
			if err != nil {
				slog.Warn("sub-query retrieval failed", "query", sq.Query, "error", err)
				errs[i] = err
				return nil
			}
			lists[i] = res.Items
			if res.FailedOver {
				failovers[i] = fmt.Sprintf("%s->%s", res.FailedBackend, res.Backend)
			}
			return nil
		})
	}
	_ = g.Wait()

	var events []string
	for _, ev := range failovers {
		if ev != "" {
			events = append(events, ev)
		}
	}
	if len(events) > 0 {
		if existing, ok := trace["failovers"].([]string); ok {
			events = append(existing, events...)
		}
		trace["failovers"] = events
	}

	compactLists := lists[:0]
	var compactErrs []error
	for i := range lists {
		if errs[i] != nil {
			compactErrs = append(compactErrs, errs[i])
			continue
		}
		compactLists = append(compactLists, lists[i])
	}
	return compactLists, compactErrs
}

// batchMerge sends every sub-query in one call and lets the backend fuse
// the rankings server side. A false return means the caller should fall
// back to the per-query fan-out; the backend may not support batching, or
// the batch call itself may have failed.
func (o *Orchestrator) batchMerge(ctx context.Context, q datatypes.Query, rp datatypes.RetrievalPlan,
	subs []plan.SubQuery, trace map[string]any) ([]datatypes.SearchItem, bool) {

	reqs := make([]backend.SearchRequest, 0, len(subs))
	for _, sq := range subs {
		reqs = append(reqs, backend.SearchRequest{
			Query:        sq.Query,
			TenantID:     q.TenantID,
			CollectionID: q.CollectionID,
			K:            rp.ChunkK,
			FetchK:       rp.ChunkFetchK,
			Standard:     sq.Standard,
		})
	}
	res, err := o.search.SearchBatch(ctx, reqs, rp.ChunkFetchK)
	if err != nil {
		slog.Warn("server-side merge failed, falling back to per-query fan-out", "error", err)
		return nil, false
	}
	trace["server_side_merge"] = true
	if res.FailedOver {
		event := fmt.Sprintf("%s->%s", res.FailedBackend, res.Backend)
		if existing, ok := trace["failovers"].([]string); ok {
			trace["failovers"] = append(existing, event)
		} else {
			trace["failovers"] = []string{event}
		}
	}
	return res.Items, true
}

// singleHybrid is the fallback strategy: one direct call with the full
// plan parameters and no decomposition.
func (o *Orchestrator) singleHybrid(ctx context.Context, q datatypes.Query, rp datatypes.RetrievalPlan) ([]datatypes.SearchItem, error) {
	res, err := o.search.Search(ctx, backend.SearchRequest{
		Query:        rp.EffectiveQuery,
		TenantID:     q.TenantID,
		CollectionID: q.CollectionID,
		K:            rp.ChunkK,
		FetchK:       rp.ChunkFetchK,
	})
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// condense merges, filters, and reorders raw lists per the plan.
func (o *Orchestrator) condense(lists [][]datatypes.SearchItem, rp datatypes.RetrievalPlan, p *profile.Profile) []datatypes.SearchItem {
	merged := mergeRRF(lists)
	merged = filterMinScore(merged, p.Retrieval.MinScore)
	if rp.RequireLiteralEvidence {
		merged = rerankForLiteral(merged, rp)
	}
	merged = rebalanceScopeCoverage(merged, rp.RequestedStandards, rp.ChunkK)
	return merged
}

func (o *Orchestrator) finish(evidence []datatypes.EvidenceItem, rp datatypes.RetrievalPlan,
	p *profile.Profile, strategy string, trace map[string]any, started time.Time, callErrs []error) (Outcome, error) {

	coverage := CheckCoverage(evidence, rp, p.Coverage.TopN)

	trace["items"] = len(evidence)
	trace["call_errors"] = len(callErrs)
	trace["elapsed_ms"] = time.Since(started).Milliseconds()

	scopeValidation := map[string]any{}
	if coverage.Applied {
		scopeValidation["coverage_complete"] = coverage.Complete
		if len(coverage.MissingScopes) > 0 {
			scopeValidation["missing_scopes"] = coverage.MissingScopes
		}
		if len(coverage.MissingClauses) > 0 {
			scopeValidation["missing_clauses"] = coverage.MissingClauses
		}
	}

	outcome := Outcome{
		Evidence: evidence,
		Coverage: coverage,
		Diagnostics: datatypes.RetrievalDiagnostics{
			Strategy:        strategy,
			Partial:         len(evidence) == 0 || len(callErrs) > 0,
			Trace:           trace,
			ScopeValidation: scopeValidation,
		},
	}
	outcome.FailureReason = failureReason(outcome, p)
	if outcome.FailureReason != "" {
		trace["failure"] = outcome.FailureReason
	}
	return outcome, nil
}

// failureReason maps an outcome to the autoretry vocabulary.
func failureReason(out Outcome, p *profile.Profile) string {
	if reason, ok := out.Diagnostics.Trace["failure"].(string); ok && reason != "" {
		return reason
	}
	if len(out.Evidence) == 0 {
		return datatypes.FailureEmptyRetrieval
	}
	if out.Coverage.Applied && len(out.Coverage.MissingScopes) > 0 {
		return datatypes.FailureScopeMismatch
	}
	if out.Coverage.Applied && len(out.Coverage.MissingClauses) > 0 {
		return datatypes.FailureClauseMissing
	}
	if len(out.Evidence) < p.Retrieval.MinItems {
		return datatypes.FailureLowScore
	}
	return ""
}

func stepBackOnly(subs []plan.SubQuery) []plan.SubQuery {
	var out []plan.SubQuery
	for _, sq := range subs {
		if sq.StepBack {
			out = append(out, sq)
		}
	}
	return out
}

// toEvidence converts merged raw items into evidence with stable citation
// ids: C1..Cn for chunks (capped at chunk_k), R1..Rn for summaries
// (capped at summary_k). Metadata access goes through the typed accessors.
func toEvidence(items []datatypes.SearchItem, rp datatypes.RetrievalPlan) []datatypes.EvidenceItem {
	var out []datatypes.EvidenceItem
	chunks, summaries := 0, 0
	for _, item := range items {
		kind := datatypes.MetadataKind(item.Metadata)
		var sourceID string
		if kind == "summary" {
			if summaries >= rp.SummaryK {
				continue
			}
			summaries++
			sourceID = fmt.Sprintf("R%d", summaries)
		} else {
			if chunks >= rp.ChunkK {
				continue
			}
			chunks++
			sourceID = fmt.Sprintf("C%d", chunks)
		}
		out = append(out, datatypes.EvidenceItem{
			SourceID:   sourceID,
			Content:    item.Content,
			Score:      item.Score,
			Standard:   datatypes.MetadataStandard(item.Metadata),
			ClauseRefs: datatypes.MetadataClauseRefs(item.Metadata),
			Timestamp:  datatypes.MetadataTimestamp(item.Metadata),
			Metadata:   item.Metadata,
		})
	}
	return out
}
