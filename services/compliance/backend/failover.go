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
	"log/slog"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
)

// Result is a search outcome annotated with which backend served it and
// whether a failover happened, so diagnostics can record the event.
type Result struct {
	Items         []datatypes.SearchItem
	Backend       string
	FailedOver    bool
	FailedBackend string
}

// FailoverSearcher wraps the selector with the single-retry failover rule:
// on a retryable failure the call is repeated once against an alternate
// backend, and on success the alternate is promoted to primary. 4xx
// statuses (except 408/429) propagate immediately; they mean the request
// itself is defective, not the backend.
type FailoverSearcher struct {
	selector *Selector
	metrics  *Metrics
}

// NewFailoverSearcher wires the failover layer over a selector.
func NewFailoverSearcher(selector *Selector, metrics *Metrics) *FailoverSearcher {
	return &FailoverSearcher{selector: selector, metrics: metrics}
}

// Search runs one search with at most one failover retry.
func (f *FailoverSearcher) Search(ctx context.Context, req SearchRequest) (Result, error) {
	primary, err := f.selector.Current(ctx)
	if err != nil {
		return Result{}, err
	}

	items, err := primary.Search(ctx, req)
	f.metrics.ObserveRequest(primary.Name(), err)
	if err == nil {
		return Result{Items: items, Backend: primary.Name()}, nil
	}
	if !Retryable(err) {
		return Result{}, err
	}

	alternate := f.selector.Alternate(ctx, primary.Name())
	if alternate == nil {
		return Result{}, fmt.Errorf("upstream_unavailable: backend %s failed and no alternate is healthy: %w",
			primary.Name(), err)
	}

	slog.Warn("search backend failed, retrying once on alternate",
		"backend", primary.Name(), "alternate", alternate.Name(), "error", err)
	items, retryErr := alternate.Search(ctx, req)
	f.metrics.ObserveRequest(alternate.Name(), retryErr)
	if retryErr != nil {
		return Result{}, fmt.Errorf("upstream_unavailable: backend %s and alternate %s both failed: %w",
			primary.Name(), alternate.Name(), retryErr)
	}

	f.selector.Promote(alternate.Name())
	f.metrics.ObserveFailover(primary.Name(), alternate.Name())
	return Result{
		Items:         items,
		Backend:       alternate.Name(),
		FailedOver:    true,
		FailedBackend: primary.Name(),
	}, nil
}

// SearchBatch mirrors Search for backends that support server-side merge;
// it falls back to per-query calls when the resolved backend does not.
func (f *FailoverSearcher) SearchBatch(ctx context.Context, reqs []SearchRequest, topK int) (Result, error) {
	primary, err := f.selector.Current(ctx)
	if err != nil {
		return Result{}, err
	}
	batch, ok := primary.(BatchSearcher)
	if !ok {
		return Result{}, fmt.Errorf("backend %s does not support batch search", primary.Name())
	}

	items, err := batch.SearchBatch(ctx, reqs, topK)
	f.metrics.ObserveRequest(primary.Name(), err)
	if err == nil {
		return Result{Items: items, Backend: primary.Name()}, nil
	}
	if !Retryable(err) {
		return Result{}, err
	}

	alternate := f.selector.Alternate(ctx, primary.Name())
	altBatch, ok := alternate.(BatchSearcher)
	if alternate == nil || !ok {
		return Result{}, fmt.Errorf("upstream_unavailable: batch backend %s failed with no batch-capable alternate: %w",
			primary.Name(), err)
	}

	items, retryErr := altBatch.SearchBatch(ctx, reqs, topK)
	f.metrics.ObserveRequest(alternate.Name(), retryErr)
	if retryErr != nil {
		return Result{}, fmt.Errorf("upstream_unavailable: batch backends %s and %s both failed: %w",
			primary.Name(), alternate.Name(), retryErr)
	}

	f.selector.Promote(alternate.Name())
	f.metrics.ObserveFailover(primary.Name(), alternate.Name())
	return Result{
		Items:         items,
		Backend:       alternate.Name(),
		FailedOver:    true,
		FailedBackend: primary.Name(),
	}, nil
}
