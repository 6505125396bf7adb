// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend talks to the document search backends: a contract HTTP
// client, a direct weaviate client, and the health-probing selector that
// decides which one a call goes to, with single-retry failover.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
)

// SearchRequest is one retrieval probe against a backend. Standard, when
// set, restricts results to that standard's documents.
type SearchRequest struct {
	Query        string `json:"query"`
	TenantID     string `json:"tenant_id"`
	CollectionID string `json:"collection_id,omitempty"`
	K            int    `json:"k"`
	FetchK       int    `json:"fetch_k"`
	Standard     string `json:"standard,omitempty"`
}

// Searcher is one concrete search backend. An empty result is not an
// error; implementations return an empty slice and a nil error.
type Searcher interface {
	Name() string
	Search(ctx context.Context, req SearchRequest) ([]datatypes.SearchItem, error)
	Health(ctx context.Context) error
}

// BatchSearcher is implemented by backends that can merge a set of
// sub-queries server side (reciprocal-rank fusion) in a single call.
type BatchSearcher interface {
	SearchBatch(ctx context.Context, reqs []SearchRequest, topK int) ([]datatypes.SearchItem, error)
}

// StatusError carries an upstream HTTP status. 4xx statuses other than
// 408/429 indicate a request defect and are never retried.
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s returned status %d: %s", e.Backend, e.Code, e.Body)
}

// ErrNoBackend is returned when the selector has no healthy backend left.
var ErrNoBackend = errors.New("no healthy search backend available")

// Retryable reports whether an error warrants the single failover retry.
// Network errors, timeouts, 5xx, 408 and 429 are retryable; other 4xx
// propagate immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code >= 500 {
			return true
		}
		return statusErr.Code == 408 || statusErr.Code == 429
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Unclassified transport failures (connection refused, DNS) are
	// wrapped *net.OpError or url.Error values; treat the rest of the
	// non-HTTP errors as retryable transport problems.
	return !errors.Is(err, context.Canceled)
}
