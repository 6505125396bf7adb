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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
)

// ContractClient speaks the search-backend HTTP contract:
// POST {base}/v1/search with a single query, or /v1/search/batch with a
// set of sub-queries merged server side by reciprocal-rank fusion.
type ContractClient struct {
	name      string
	baseURL   string
	healthURL string
	client    *http.Client
}

// NewContractClient builds a client for one contract backend endpoint.
func NewContractClient(name, baseURL, healthURL string, timeout time.Duration) *ContractClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if healthURL == "" {
		healthURL = baseURL + "/health"
	}
	return &ContractClient{
		name:      name,
		baseURL:   baseURL,
		healthURL: healthURL,
		client:    &http.Client{Timeout: timeout},
	}
}

func (c *ContractClient) Name() string { return c.name }

type contractSearchRequest struct {
	Query        string         `json:"query"`
	TenantID     string         `json:"tenant_id"`
	CollectionID string         `json:"collection_id,omitempty"`
	K            int            `json:"k"`
	FetchK       int            `json:"fetch_k"`
	Filters      map[string]any `json:"filters,omitempty"`
}

type contractSearchResponse struct {
	Items []datatypes.SearchItem `json:"items"`
}

type contractBatchRequest struct {
	Queries []contractSearchRequest `json:"queries"`
	Merge   contractMergeSpec       `json:"merge"`
}

type contractMergeSpec struct {
	Strategy string `json:"strategy"`
	RankK    int    `json:"rank_k"`
	TopK     int    `json:"top_k"`
}

// Search performs one contract search call. An empty item list is a valid
// response, never an error.
func (c *ContractClient) Search(ctx context.Context, req SearchRequest) ([]datatypes.SearchItem, error) {
	body := contractSearchRequest{
		Query:        req.Query,
		TenantID:     req.TenantID,
		CollectionID: req.CollectionID,
		K:            req.K,
		FetchK:       req.FetchK,
	}
	if req.Standard != "" {
		body.Filters = map[string]any{"standard": req.Standard}
	}
	var parsed contractSearchResponse
	if err := c.post(ctx, c.baseURL+"/v1/search", body, &parsed); err != nil {
		return nil, err
	}
	return parsed.Items, nil
}

// SearchBatch sends all sub-queries in one call and lets the backend merge
// them with reciprocal-rank fusion.
func (c *ContractClient) SearchBatch(ctx context.Context, reqs []SearchRequest, topK int) ([]datatypes.SearchItem, error) {
	batch := contractBatchRequest{
		Merge: contractMergeSpec{Strategy: "rrf", RankK: 60, TopK: topK},
	}
	for _, req := range reqs {
		item := contractSearchRequest{
			Query:        req.Query,
			TenantID:     req.TenantID,
			CollectionID: req.CollectionID,
			K:            req.K,
			FetchK:       req.FetchK,
		}
		if req.Standard != "" {
			item.Filters = map[string]any{"standard": req.Standard}
		}
		batch.Queries = append(batch.Queries, item)
	}
	var parsed contractSearchResponse
	if err := c.post(ctx, c.baseURL+"/v1/search/batch", batch, &parsed); err != nil {
		return nil, err
	}
	return parsed.Items, nil
}

func (c *ContractClient) post(ctx context.Context, url string, payload any, out any) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal the search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to build the search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("search backend %s call failed: %w", c.name, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close the search response body", "backend", c.name, "error", err)
		}
	}()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Backend: c.name, Code: resp.StatusCode, Body: string(bodyBytes)}
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to parse the response from backend %s: %w", c.name, err)
	}
	return nil
}

// Health probes the backend's health endpoint.
func (c *ContractClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build the health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health probe for backend %s failed: %w", c.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Backend: c.name, Code: resp.StatusCode}
	}
	return nil
}
