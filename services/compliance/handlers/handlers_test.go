// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianComply/services/compliance/backend"
	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/engine"
	"github.com/AleutianAI/AleutianComply/services/compliance/generate"
	"github.com/AleutianAI/AleutianComply/services/compliance/llm"
	"github.com/AleutianAI/AleutianComply/services/compliance/profile"
	"github.com/AleutianAI/AleutianComply/services/compliance/retrieval"
)

type fixedSearcher struct {
	name  string
	items []datatypes.SearchItem
}

func (s *fixedSearcher) Name() string { return s.name }

func (s *fixedSearcher) Search(ctx context.Context, req backend.SearchRequest) ([]datatypes.SearchItem, error) {
	return s.items, nil
}

func (s *fixedSearcher) Health(ctx context.Context) error { return nil }

type fixedLLM struct{ response string }

func (c *fixedLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return c.response, nil
}

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	p, err := profile.Parse([]byte(`
tenant: test
default_mode: explanatory
standards: ["iso 9001"]
modes:
  - name: explanatory
    allow_inference: true
`))
	require.NoError(t, err)

	searcher := &fixedSearcher{name: "primary", items: []datatypes.SearchItem{
		{Source: "doc-1", Content: "documented information shall be retained", Score: 0.9,
			Metadata: map[string]any{"standard": "iso 9001"}},
		{Source: "doc-2", Content: "retention periods shall be defined", Score: 0.8,
			Metadata: map[string]any{"standard": "iso 9001"}},
		{Source: "doc-3", Content: "records shall be legible", Score: 0.7,
			Metadata: map[string]any{"standard": "iso 9001"}},
	}}
	failover := backend.NewFailoverSearcher(backend.NewSelector([]backend.Searcher{searcher}), nil)
	return engine.New(profile.NewStaticStore(p),
		retrieval.NewOrchestrator(failover, nil),
		generate.NewGenerator(&fixedLLM{response: "Retention is required [C1]."}))
}

func TestHealthCheck_ReturnsOK(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleAsk_RejectsMissingFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v1/ask", HandleAsk(testEngine(t)))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/ask", strings.NewReader(`{"query": "retention?"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request")
}

func TestHandleAsk_AnswersQuestion(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v1/ask", HandleAsk(testEngine(t)))

	body := `{"query": "what are the retention requirements of iso 9001", "tenant_id": "tenant-a"}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var result engine.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.NotEmpty(t, result.RequestID)
	assert.Equal(t, "Retention is required [C1].", result.Answer.Text)
	assert.True(t, result.Validation.Accepted)
}

func TestBackendStatus_ReportsActiveBackend(t *testing.T) {
	gin.SetMode(gin.TestMode)
	selector := backend.NewSelector([]backend.Searcher{
		&fixedSearcher{name: "weaviate-main"},
		&fixedSearcher{name: "contract-fallback"},
	})
	router := gin.New()
	router.GET("/v1/backends", BackendStatus(selector))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/backends", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "weaviate-main", payload["primary"])
	assert.Equal(t, "weaviate-main", payload["active"])
}

func TestBackendStatus_NoBackends(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/v1/backends", BackendStatus(backend.NewSelector(nil)))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/backends", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Contains(t, payload, "error")
}
