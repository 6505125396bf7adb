// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generate turns evidence into an answer draft through the LLM
// collaborator. The collaborator is fallible by contract: on provider
// error or empty output the generator substitutes a deterministic
// evidence-derived fallback instead of failing the request.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/llm"
)

// Fallback answers quote at most this many evidence snippets, each
// truncated to this many characters.
const (
	fallbackSnippets   = 3
	fallbackSnippetLen = 220
)

type Generator struct {
	client llm.Client
}

func NewGenerator(client llm.Client) *Generator {
	return &Generator{client: client}
}

// Generate produces the answer draft for a plan. Never returns an error:
// a generator failure yields the deterministic fallback draft.
func (g *Generator) Generate(ctx context.Context, query string, evidence []datatypes.EvidenceItem,
	rp datatypes.RetrievalPlan) datatypes.AnswerDraft {

	if len(evidence) == 0 {
		return datatypes.AnswerDraft{
			Text: "I do not have sufficient evidence to answer this question.",
			Mode: rp.Mode,
		}
	}

	prompt := buildPrompt(query, evidence, rp)
	temperature := float32(0.1)
	text, err := g.client.Generate(ctx, prompt, llm.GenerationParams{Temperature: &temperature})
	if err != nil {
		slog.Warn("generator call failed, substituting evidence fallback", "error", err)
		return fallbackDraft(evidence, rp)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		slog.Warn("generator returned empty output, substituting evidence fallback")
		return fallbackDraft(evidence, rp)
	}
	return datatypes.AnswerDraft{Text: text, Mode: rp.Mode, Evidence: evidence}
}

// buildPrompt lays out the evidence blocks with their citation markers and
// states the citation contract for the mode.
func buildPrompt(query string, evidence []datatypes.EvidenceItem, rp datatypes.RetrievalPlan) string {
	var b strings.Builder
	b.WriteString("Answer the compliance question using only the evidence blocks below.\n")
	if rp.RequireLiteralEvidence {
		b.WriteString("Every claim must cite its evidence block by marker (for example C2 or R1).\n")
		b.WriteString("If the evidence does not answer the question, say the evidence is insufficient.\n")
	} else if rp.AllowInference {
		b.WriteString("You may draw reasonable conclusions, but cite evidence markers where you rely on a block.\n")
	}
	if len(rp.RequestedStandards) > 0 {
		b.WriteString("Stay within these standards: " + strings.Join(rp.RequestedStandards, ", ") + "\n")
	}
	b.WriteString("\n")
	for _, item := range evidence {
		b.WriteString(fmt.Sprintf("[%s]", item.SourceID))
		if item.Standard != "" {
			b.WriteString(" (" + item.Standard)
			if len(item.ClauseRefs) > 0 {
				b.WriteString(" " + strings.Join(item.ClauseRefs, ", "))
			}
			b.WriteString(")")
		}
		b.WriteString("\n" + item.Content + "\n\n")
	}
	b.WriteString("Question: " + query + "\n")
	return b.String()
}

// fallbackDraft is the deterministic substitute: the first evidence
// snippets with their markers, so the caller still gets traceable content.
func fallbackDraft(evidence []datatypes.EvidenceItem, rp datatypes.RetrievalPlan) datatypes.AnswerDraft {
	var b strings.Builder
	b.WriteString("The generator was unavailable; the most relevant evidence found:\n")
	for i, item := range evidence {
		if i >= fallbackSnippets {
			break
		}
		snippet := item.Content
		if len(snippet) > fallbackSnippetLen {
			snippet = snippet[:fallbackSnippetLen] + "..."
		}
		b.WriteString(fmt.Sprintf("%s: %s\n", item.SourceID, snippet))
	}
	return datatypes.AnswerDraft{Text: b.String(), Mode: rp.Mode, Evidence: evidence}
}
