// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/llm"
)

// Evaluator asks the LLM whether a small evidence set is still enough to
// answer the question. It is consulted when retrieval came back below the
// minimum item count but non-empty; a "sufficient" verdict lets the
// orchestrator accept the smaller set instead of escalating.
type Evaluator struct {
	client llm.Client
}

func NewEvaluator(client llm.Client) *Evaluator {
	return &Evaluator{client: client}
}

type sufficiencyVerdict struct {
	Sufficient bool   `json:"sufficient"`
	Reason     string `json:"reason"`
}

// Evaluate never returns an error: an evaluator failure is an
// "insufficient" verdict with a reason code, so retrieval degrades
// conservatively instead of crashing.
func (e *Evaluator) Evaluate(ctx context.Context, query string, standards []string,
	evidence []datatypes.EvidenceItem, minItems int) (bool, string) {

	var b strings.Builder
	b.WriteString("Decide whether the evidence below is sufficient to answer the question.\n")
	b.WriteString(fmt.Sprintf("The retrieval minimum is %d items; only %d were found.\n", minItems, len(evidence)))
	if len(standards) > 0 {
		b.WriteString("Requested standards: " + strings.Join(standards, ", ") + "\n")
	}
	b.WriteString("\nQuestion: " + query + "\n\nEvidence:\n")
	for _, item := range evidence {
		snippet := item.Content
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		b.WriteString("- " + snippet + "\n")
	}
	b.WriteString("\nRespond with JSON only: {\"sufficient\": true|false, \"reason\": \"...\"}\n")

	temperature := float32(0)
	raw, err := e.client.Generate(ctx, b.String(), llm.GenerationParams{Temperature: &temperature})
	if err != nil {
		slog.Warn("sufficiency evaluator call failed", "error", err)
		return false, "evaluator_error"
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		slog.Warn("sufficiency evaluator returned unparseable output", "error", err)
		return false, "evaluator_unparseable"
	}
	return verdict.Sufficient, verdict.Reason
}

// parseVerdict tolerates prose around the JSON object; models wrap their
// answers more often than not.
func parseVerdict(raw string) (sufficiencyVerdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return sufficiencyVerdict{}, fmt.Errorf("no JSON object in evaluator output")
	}
	var verdict sufficiencyVerdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &verdict); err != nil {
		return sufficiencyVerdict{}, fmt.Errorf("failed to parse the evaluator verdict: %w", err)
	}
	return verdict, nil
}
