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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
)

func TestRetryable_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"status 500", &StatusError{Code: 500}, true},
		{"status 503", &StatusError{Code: 503}, true},
		{"status 408", &StatusError{Code: 408}, true},
		{"status 429", &StatusError{Code: 429}, true},
		{"status 400", &StatusError{Code: 400}, false},
		{"status 404", &StatusError{Code: 404}, false},
		{"status 422", &StatusError{Code: 422}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain transport", errors.New("connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestFailoverSearcher_PrimarySucceeds(t *testing.T) {
	primary := &fakeSearcher{name: "primary",
		items: []datatypes.SearchItem{{Source: "doc-1", Content: "text"}}}
	secondary := &fakeSearcher{name: "secondary"}
	f := NewFailoverSearcher(NewSelector([]Searcher{primary, secondary}), nil)

	res, err := f.Search(context.Background(), SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.False(t, res.FailedOver)
	assert.Equal(t, "primary", res.Backend)
	assert.Len(t, res.Items, 1)
	assert.Equal(t, 0, secondary.searchCalls)
}

func TestFailoverSearcher_RetriesOnceAndPromotes(t *testing.T) {
	primary := &fakeSearcher{name: "primary", searchErr: &StatusError{Code: 503}}
	secondary := &fakeSearcher{name: "secondary",
		items: []datatypes.SearchItem{{Source: "doc-2", Content: "alt"}}}
	selector := NewSelector([]Searcher{primary, secondary})
	f := NewFailoverSearcher(selector, nil)

	res, err := f.Search(context.Background(), SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.True(t, res.FailedOver)
	assert.Equal(t, "secondary", res.Backend)
	assert.Equal(t, "primary", res.FailedBackend)
	assert.Equal(t, "secondary", selector.Primary(), "successful alternate becomes primary")
}

func TestFailoverSearcher_ClientErrorPropagatesImmediately(t *testing.T) {
	primary := &fakeSearcher{name: "primary", searchErr: &StatusError{Code: 400, Body: "bad filter"}}
	secondary := &fakeSearcher{name: "secondary"}
	f := NewFailoverSearcher(NewSelector([]Searcher{primary, secondary}), nil)

	_, err := f.Search(context.Background(), SearchRequest{Query: "q"})
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 400, statusErr.Code)
	assert.Equal(t, 0, secondary.searchCalls, "4xx means the request is defective, not the backend")
}

func TestFailoverSearcher_BothFail(t *testing.T) {
	primary := &fakeSearcher{name: "primary", searchErr: &StatusError{Code: 503}}
	secondary := &fakeSearcher{name: "secondary", searchErr: &StatusError{Code: 502}}
	f := NewFailoverSearcher(NewSelector([]Searcher{primary, secondary}), nil)

	_, err := f.Search(context.Background(), SearchRequest{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream_unavailable")
}

// fakeBatchSearcher answers the batch endpoint as well.
type fakeBatchSearcher struct {
	fakeSearcher
	batchItems []datatypes.SearchItem
	batchErr   error
	batchCalls int
}

func (f *fakeBatchSearcher) SearchBatch(ctx context.Context, reqs []SearchRequest, topK int) ([]datatypes.SearchItem, error) {
	f.batchCalls++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return f.batchItems, nil
}

func TestFailoverSearcher_BatchRetriesOnceAndPromotes(t *testing.T) {
	primary := &fakeBatchSearcher{fakeSearcher: fakeSearcher{name: "primary"},
		batchErr: &StatusError{Code: 503}}
	secondary := &fakeBatchSearcher{fakeSearcher: fakeSearcher{name: "secondary"},
		batchItems: []datatypes.SearchItem{{Source: "doc-1", Content: "merged"}}}
	selector := NewSelector([]Searcher{primary, secondary})
	f := NewFailoverSearcher(selector, nil)

	res, err := f.SearchBatch(context.Background(), []SearchRequest{{Query: "a"}, {Query: "b"}}, 10)
	require.NoError(t, err)
	assert.True(t, res.FailedOver)
	assert.Equal(t, "secondary", res.Backend)
	assert.Len(t, res.Items, 1)
	assert.Equal(t, 1, secondary.batchCalls)
	assert.Equal(t, "secondary", selector.Primary(), "successful alternate becomes primary")
}

func TestFailoverSearcher_BatchUnsupportedBackend(t *testing.T) {
	only := &fakeSearcher{name: "only"}
	f := NewFailoverSearcher(NewSelector([]Searcher{only}), nil)

	_, err := f.SearchBatch(context.Background(), []SearchRequest{{Query: "a"}}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support batch search")
}

func TestFailoverSearcher_NoAlternate(t *testing.T) {
	only := &fakeSearcher{name: "only", searchErr: &StatusError{Code: 500}}
	f := NewFailoverSearcher(NewSelector([]Searcher{only}), nil)

	_, err := f.Search(context.Background(), SearchRequest{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream_unavailable")
	assert.Equal(t, 1, only.searchCalls)
}
