// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianComply/services/compliance/backend"
	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/generate"
	"github.com/AleutianAI/AleutianComply/services/compliance/llm"
	"github.com/AleutianAI/AleutianComply/services/compliance/profile"
	"github.com/AleutianAI/AleutianComply/services/compliance/retrieval"
	"github.com/AleutianAI/AleutianComply/services/compliance/retry"
)

type scriptedSearcher struct {
	name      string
	items     []datatypes.SearchItem
	searchErr error
}

func (s *scriptedSearcher) Name() string { return s.name }

func (s *scriptedSearcher) Search(ctx context.Context, req backend.SearchRequest) ([]datatypes.SearchItem, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.items, nil
}

func (s *scriptedSearcher) Health(ctx context.Context) error { return nil }

type scriptedLLM struct {
	response string
}

func (c *scriptedLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return c.response, nil
}

func engineProfile(t *testing.T, extra string) *profile.Store {
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
classifier_rules:
  - mode: literal
    any_keywords: ["exact", "quote", "verbatim"]
  - mode: comparative
    any_keywords: ["difference", "compare", "versus"]
` + extra
	p, err := profile.Parse([]byte(doc))
	require.NoError(t, err)
	return profile.NewStaticStore(p)
}

func newEngine(store *profile.Store, answer string, searchers ...backend.Searcher) *Engine {
	failover := backend.NewFailoverSearcher(backend.NewSelector(searchers), nil)
	client := &scriptedLLM{response: answer}
	return New(store, retrieval.NewOrchestrator(failover, nil), generate.NewGenerator(client))
}

func chunk(source, standard, content string, clauses ...string) datatypes.SearchItem {
	md := map[string]any{"standard": standard}
	if len(clauses) > 0 {
		refs := make([]any, len(clauses))
		for i, c := range clauses {
			refs[i] = c
		}
		md["clause_refs"] = refs
	}
	return datatypes.SearchItem{Source: source, Content: content, Score: 0.85, Metadata: md}
}

func TestEngine_Handle_LiteralQuestionAccepted(t *testing.T) {
	store := engineProfile(t, "")
	eng := newEngine(store, "Clause 7.5.3 requires controlled retention of documented information [C1].",
		&scriptedSearcher{name: "primary", items: []datatypes.SearchItem{
			chunk("doc-1", "iso 9001", "documented information shall be retained", "7.5.3"),
			chunk("doc-2", "iso 9001", "retention periods shall be defined", "7.5"),
			chunk("doc-3", "iso 9001", "records shall be legible"),
		}})

	res := eng.Handle(context.Background(), Command{
		RequestID: "req-1",
		Query: datatypes.Query{
			Text:     "quote the exact requirement of iso 9001 clause 7.5.3",
			TenantID: "tenant-a",
		},
	})

	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, "literal", res.Intent.Mode)
	assert.True(t, res.Validation.Accepted)
	assert.Empty(t, res.Validation.Issues)
	assert.Len(t, res.Attempts, 1)
	assert.Empty(t, res.StopReason)
	assert.Contains(t, res.Answer.Text, "[C1]")
	require.NotEmpty(t, res.ReasoningTrace)
	assert.Equal(t, "classify", res.ReasoningTrace[0].Stage)
}

func TestEngine_Handle_IncompleteCoverageAsksFirst(t *testing.T) {
	store := engineProfile(t, "")
	// Evidence covers two of the three requested standards.
	eng := newEngine(store, "unused",
		&scriptedSearcher{name: "primary", items: []datatypes.SearchItem{
			chunk("doc-1", "iso 9001", "quality retention"),
			chunk("doc-2", "iso 27001", "security retention"),
			chunk("doc-3", "iso 9001", "records"),
		}})

	res := eng.Handle(context.Background(), Command{
		Query: datatypes.Query{
			Text:     "quote the retention requirements of iso 9001 iso 27001 and iso 14001",
			TenantID: "tenant-a",
		},
	})

	assert.Equal(t, "coverage_clarification", res.StopReason)
	require.NotNil(t, res.Clarification)
	assert.Contains(t, res.Clarification.Question, "iso 14001")
	assert.Contains(t, res.Clarification.Options, "continue with partial coverage")
	assert.Empty(t, res.Answer.Text, "no generation budget spent before the caller decides")
}

func TestEngine_Handle_PartialCoverageOptInProceeds(t *testing.T) {
	store := engineProfile(t, "")
	eng := newEngine(store, "ISO 9001 requires retention [C1]; ISO 27001 mirrors it [C2].",
		&scriptedSearcher{name: "primary", items: []datatypes.SearchItem{
			chunk("doc-1", "iso 9001", "quality retention"),
			chunk("doc-2", "iso 27001", "security retention"),
			chunk("doc-3", "iso 9001", "records"),
		}})

	res := eng.Handle(context.Background(), Command{
		Query: datatypes.Query{
			Text:     "quote the retention requirements of iso 9001 iso 27001 and iso 14001 __coverage__=partial",
			TenantID: "tenant-a",
		},
	})

	assert.True(t, res.Validation.Accepted)
	assert.Empty(t, res.StopReason)
	assert.Nil(t, res.Clarification)
	assert.Contains(t, res.Validation.Warnings,
		"Scope coverage incomplete: no evidence for standard iso 14001.")
}

func TestEngine_Handle_LiteralLockHoldsAcrossAttempts(t *testing.T) {
	store := engineProfile(t, `
retry:
  literal_lock: true
`)
	// Evidence only carries the parent clause 7.5, never 7.5.3.
	eng := newEngine(store, "Retention is addressed under clause 7.5 [C1].",
		&scriptedSearcher{name: "primary", items: []datatypes.SearchItem{
			chunk("doc-1", "iso 9001", "retention is defined here", "7.5"),
			chunk("doc-2", "iso 9001", "records shall be controlled", "7.5"),
			chunk("doc-3", "iso 9001", "legibility requirements", "7.5"),
		}})

	res := eng.Handle(context.Background(), Command{
		Query: datatypes.Query{
			Text:     "quote iso 9001 clause 7.5.3 verbatim",
			TenantID: "tenant-a",
		},
	})

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "literal", res.Attempts[1].Intent.Mode, "the lock never downgrades the mode")
	assert.Equal(t, retry.BlockedByLiteralLock, res.Attempts[1].Note)
	assert.False(t, res.Validation.Accepted)
	assert.Contains(t, res.Validation.Issues,
		"Literal clause mismatch: no evidence chunk contains the requested clause reference.")
}

func TestEngine_Handle_FailoverIsInvisibleToTheAnswer(t *testing.T) {
	store := engineProfile(t, "")
	primary := &scriptedSearcher{name: "primary", searchErr: &backend.StatusError{Code: 503}}
	secondary := &scriptedSearcher{name: "secondary", items: []datatypes.SearchItem{
		chunk("doc-1", "iso 9001", "documented information shall be retained", "7.5.3"),
		chunk("doc-2", "iso 9001", "retention periods shall be defined"),
		chunk("doc-3", "iso 9001", "records shall be legible"),
	}}
	eng := newEngine(store, "Clause 7.5.3 requires retention [C1].", primary, secondary)

	res := eng.Handle(context.Background(), Command{
		Query: datatypes.Query{
			Text:     "quote the exact requirement of iso 9001 clause 7.5.3",
			TenantID: "tenant-a",
		},
	})

	assert.True(t, res.Validation.Accepted)
	events, ok := res.Retrieval.Trace["failovers"].([]string)
	require.True(t, ok, "failover must be visible in the diagnostics")
	assert.Contains(t, events, "primary->secondary")
}

func TestEngine_Handle_EmptyRetrievalRelaxesThenReports(t *testing.T) {
	store := engineProfile(t, "")
	eng := newEngine(store, "unused", &scriptedSearcher{name: "primary"})

	res := eng.Handle(context.Background(), Command{
		Query: datatypes.Query{
			Text:     "quote the retention rules of iso 9001 and iso 27001 __coverage__=partial",
			TenantID: "tenant-a",
		},
	})

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "literal", res.Attempts[0].Intent.Mode)
	assert.Equal(t, "comparative", res.Attempts[1].Intent.Mode,
		"a multi-scope failure relaxes into the comparison mode")
	assert.Equal(t, datatypes.FailureEmptyRetrieval, res.Attempts[1].FailureReason)
	assert.Equal(t, "I do not have sufficient evidence to answer this question.", res.Answer.Text)
	assert.False(t, res.Validation.Accepted)
	assert.Contains(t, res.Validation.Issues, datatypes.FailureEmptyRetrieval)
}

// modeKeyedSearcher answers only requests whose K matches; the literal and
// comparative plans carry different chunk counts, so this scripts "first
// attempt empty, relaxed attempt succeeds".
type modeKeyedSearcher struct {
	name     string
	answerK  int
	items    []datatypes.SearchItem
}

func (s *modeKeyedSearcher) Name() string { return s.name }

func (s *modeKeyedSearcher) Search(ctx context.Context, req backend.SearchRequest) ([]datatypes.SearchItem, error) {
	if req.K != s.answerK {
		return nil, nil
	}
	return s.items, nil
}

func (s *modeKeyedSearcher) Health(ctx context.Context) error { return nil }

func TestEngine_Handle_RelaxedAttemptSucceeds(t *testing.T) {
	store := engineProfile(t, "")
	// Literal plans ask for chunk_k 45, comparative for 35; evidence only
	// appears once the retry policy has relaxed the mode.
	searcher := &modeKeyedSearcher{name: "primary", answerK: 35,
		items: []datatypes.SearchItem{
			chunk("doc-1", "iso 9001", "quality retention requirements"),
			chunk("doc-2", "iso 27001", "security retention requirements"),
			chunk("doc-3", "iso 9001", "records control"),
		}}
	eng := newEngine(store, "Both standards require defined retention periods [C1][C2].", searcher)

	res := eng.Handle(context.Background(), Command{
		Query: datatypes.Query{
			Text:     "quote the retention rules of iso 9001 and iso 27001 __coverage__=partial",
			TenantID: "tenant-a",
		},
	})

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "literal", res.Attempts[0].Intent.Mode)
	assert.Equal(t, datatypes.FailureEmptyRetrieval, res.Attempts[0].FailureReason)
	assert.Equal(t, "comparative", res.Attempts[1].Intent.Mode)
	assert.True(t, res.Validation.Accepted)
	assert.Contains(t, res.Answer.Text, "[C1]")
}

func TestEngine_Handle_ConfirmedClarificationNeverAsksAgain(t *testing.T) {
	store := engineProfile(t, "")
	eng := newEngine(store, "ISO 9001 requires retention [C1].",
		&scriptedSearcher{name: "primary", items: []datatypes.SearchItem{
			chunk("doc-1", "iso 9001", "quality retention"),
			chunk("doc-2", "iso 27001", "security retention"),
			chunk("doc-3", "iso 9001", "records"),
		}})

	res := eng.Handle(context.Background(), Command{
		Query: datatypes.Query{
			Text:          "quote the retention requirements of iso 9001 iso 27001 and iso 14001",
			TenantID:      "tenant-a",
			Clarification: &datatypes.ClarificationContext{Round: 1, Confirmed: true},
		},
	})

	assert.Nil(t, res.Clarification)
	assert.NotEqual(t, "coverage_clarification", res.StopReason)
	assert.NotEqual(t, "clarification", res.StopReason)
}

func TestEngine_Handle_ConfirmedPartialCoverageAccepted(t *testing.T) {
	store := engineProfile(t, "")
	// Same shape as the coverage question: three standards requested,
	// evidence for two. The caller picked the "continue" option the
	// previous round offered.
	eng := newEngine(store, "ISO 9001 requires retention [C1]; ISO 27001 mirrors it [C2].",
		&scriptedSearcher{name: "primary", items: []datatypes.SearchItem{
			chunk("doc-1", "iso 9001", "quality retention"),
			chunk("doc-2", "iso 27001", "security retention"),
			chunk("doc-3", "iso 9001", "records"),
		}})

	res := eng.Handle(context.Background(), Command{
		Query: datatypes.Query{
			Text:     "quote the retention requirements of iso 9001 iso 27001 and iso 14001",
			TenantID: "tenant-a",
			Clarification: &datatypes.ClarificationContext{
				Round:          1,
				Confirmed:      true,
				SelectedOption: "continue with partial coverage",
			},
		},
	})

	assert.Nil(t, res.Clarification)
	assert.True(t, res.Validation.Accepted, "answering the coverage question must unblock the answer")
	assert.Empty(t, res.Validation.Issues)
	assert.Contains(t, res.Validation.Warnings,
		"Scope coverage incomplete: no evidence for standard iso 14001.")
	assert.Len(t, res.Attempts, 1)
}

func TestEngine_Handle_ResolvedScopesNarrowThePlan(t *testing.T) {
	store := engineProfile(t, "")
	eng := newEngine(store, "Both standards require defined retention [C1][C2].",
		&scriptedSearcher{name: "primary", items: []datatypes.SearchItem{
			chunk("doc-1", "iso 9001", "quality retention"),
			chunk("doc-2", "iso 27001", "security retention"),
			chunk("doc-3", "iso 9001", "records"),
		}})

	res := eng.Handle(context.Background(), Command{
		Query: datatypes.Query{
			Text:     "quote the retention requirements of iso 9001 iso 27001 and iso 14001",
			TenantID: "tenant-a",
			Clarification: &datatypes.ClarificationContext{
				Round:          1,
				Confirmed:      true,
				SelectedOption: "narrow the question",
				ResolvedScopes: []string{"iso 9001", "iso 27001"},
			},
		},
	})

	assert.Equal(t, []string{"iso 9001", "iso 27001"}, res.Plan.RequestedStandards,
		"resolved scopes replace the scopes extracted from the text")
	assert.True(t, res.Validation.Accepted)
	assert.Empty(t, res.Validation.Warnings, "the narrowed scopes are fully covered")
	assert.Nil(t, res.Clarification)
}

func TestEngine_Handle_UpstreamUnavailable(t *testing.T) {
	store := engineProfile(t, "")
	eng := newEngine(store, "unused",
		&scriptedSearcher{name: "only", searchErr: &backend.StatusError{Code: 503}})

	res := eng.Handle(context.Background(), Command{
		Query: datatypes.Query{
			Text:     "quote the exact retention requirement of iso 9001",
			TenantID: "tenant-a",
		},
	})

	assert.Equal(t, "upstream_unavailable", res.StopReason)
	assert.False(t, res.Validation.Accepted)
	assert.Contains(t, res.Validation.Issues, "upstream_unavailable")
	assert.Equal(t, "I do not have sufficient evidence to answer this question.", res.Answer.Text)
	require.NotEmpty(t, res.Attempts)
	assert.Equal(t, "upstream_unavailable", res.Attempts[len(res.Attempts)-1].FailureReason)
}
