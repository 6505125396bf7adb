// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
)

// ComplianceChunkClassName is the weaviate class holding indexed
// compliance document chunks.
const ComplianceChunkClassName = "ComplianceChunk"

// WeaviateSearcher queries a weaviate instance directly instead of going
// through the contract HTTP service. Used in deployments that colocate the
// vector store with the kernel.
type WeaviateSearcher struct {
	name   string
	client *weaviate.Client
}

// NewWeaviateSearcher builds a direct vector-store searcher.
func NewWeaviateSearcher(name, host, scheme string) (*WeaviateSearcher, error) {
	if host == "" {
		return nil, fmt.Errorf("weaviate host must not be empty")
	}
	if scheme == "" {
		scheme = "http"
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create the weaviate client: %w", err)
	}
	return &WeaviateSearcher{name: name, client: client}, nil
}

func (w *WeaviateSearcher) Name() string { return w.name }

// Search runs a nearText query over the compliance chunk class, filtered
// by tenant and optionally by standard.
func (w *WeaviateSearcher) Search(ctx context.Context, req SearchRequest) ([]datatypes.SearchItem, error) {
	operands := []*filters.WhereBuilder{
		filters.Where().
			WithPath([]string{"tenantId"}).
			WithOperator(filters.Equal).
			WithValueString(req.TenantID),
	}
	if req.CollectionID != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"collectionId"}).
			WithOperator(filters.Equal).
			WithValueString(req.CollectionID))
	}
	if req.Standard != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"standard"}).
			WithOperator(filters.Equal).
			WithValueString(req.Standard))
	}
	whereFilter := filters.Where().
		WithOperator(filters.And).
		WithOperands(operands)

	nearText := w.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{req.Query})

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "standard"},
		{Name: "clauseRefs"},
		{Name: "docType"},
		{Name: "timestamp"},
		{Name: "_additional { certainty distance }"},
	}

	limit := req.FetchK
	if limit <= 0 {
		limit = req.K
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(ComplianceChunkClassName).
		WithFields(fields...).
		WithWhere(whereFilter).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search error: %s", result.Errors[0].Message)
	}
	return w.parseResults(result), nil
}

func (w *WeaviateSearcher) parseResults(result *models.GraphQLResponse) []datatypes.SearchItem {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[ComplianceChunkClassName].([]interface{})
	if !ok {
		return nil
	}

	items := make([]datatypes.SearchItem, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue // skip malformed objects
		}
		item := datatypes.SearchItem{
			Content: getString(m, "content"),
			Source:  getString(m, "source"),
			Metadata: map[string]any{
				"standard": getString(m, "standard"),
				"kind":     getString(m, "docType"),
			},
		}
		if refs := getString(m, "clauseRefs"); refs != "" {
			var clauses []string
			for _, part := range strings.Split(refs, ",") {
				if part = strings.TrimSpace(part); part != "" {
					clauses = append(clauses, part)
				}
			}
			item.Metadata["clause_refs"] = clauses
		}
		if ts, ok := m["timestamp"].(float64); ok {
			item.Metadata["timestamp"] = ts
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				item.Score = certainty
			}
		}
		items = append(items, item)
	}
	return items
}

// Health checks weaviate readiness.
func (w *WeaviateSearcher) Health(ctx context.Context) error {
	ready, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate readiness probe failed: %w", err)
	}
	if !ready {
		return fmt.Errorf("weaviate backend %s is not ready", w.name)
	}
	return nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
