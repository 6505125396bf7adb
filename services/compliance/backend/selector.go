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
	"log/slog"
	"sync"
	"time"
)

// Selector resolves which backend a call should target, using cached
// health probes. It is constructed once per process and injected into the
// orchestrator; it is the only state shared across concurrent requests.
//
// # Thread Safety
//
// Reads take the read lock; the only writes are probe-cache refreshes and
// the primary flip after a successful failover.
type Selector struct {
	mu        sync.RWMutex
	backends  []Searcher
	primary   string
	forced    string
	ttl       time.Duration
	probeWait time.Duration
	health    map[string]probeResult
	now       func() time.Time
}

type probeResult struct {
	healthy   bool
	checkedAt time.Time
}

// SelectorOption tweaks selector construction.
type SelectorOption func(*Selector)

// WithForcedBackend pins every call to one backend, skipping probes.
func WithForcedBackend(name string) SelectorOption {
	return func(s *Selector) { s.forced = name }
}

// WithProbeTTL overrides how long a probe result is trusted.
func WithProbeTTL(ttl time.Duration) SelectorOption {
	return func(s *Selector) { s.ttl = ttl }
}

// WithProbeTimeout overrides the per-probe deadline.
func WithProbeTimeout(d time.Duration) SelectorOption {
	return func(s *Selector) { s.probeWait = d }
}

// NewSelector builds a selector over the given backends; the first one is
// the initial primary.
func NewSelector(backends []Searcher, opts ...SelectorOption) *Selector {
	s := &Selector{
		backends:  backends,
		ttl:       20 * time.Second,
		probeWait: 300 * time.Millisecond,
		health:    make(map[string]probeResult),
		now:       time.Now,
	}
	if len(backends) > 0 {
		s.primary = backends[0].Name()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current resolves the backend for the next call: the forced backend if
// pinned, otherwise the first backend (starting from the primary) whose
// cached or fresh health probe passes. When every probe fails, the primary
// is returned anyway and the call itself decides what to do.
func (s *Selector) Current(ctx context.Context) (Searcher, error) {
	s.mu.RLock()
	forced, primary := s.forced, s.primary
	s.mu.RUnlock()

	if forced != "" {
		if b := s.byName(forced); b != nil {
			return b, nil
		}
		return nil, ErrNoBackend
	}

	ordered := s.orderedFrom(primary)
	if len(ordered) == 0 {
		return nil, ErrNoBackend
	}
	for _, b := range ordered {
		if s.healthy(ctx, b) {
			return b, nil
		}
	}
	// All probes failed; let the actual call surface the real error.
	return ordered[0], nil
}

// Alternate returns the first backend other than exclude that currently
// probes healthy, or nil when there is none.
func (s *Selector) Alternate(ctx context.Context, exclude string) Searcher {
	for _, b := range s.orderedFrom(exclude) {
		if b.Name() == exclude {
			continue
		}
		if s.healthy(ctx, b) {
			return b
		}
	}
	return nil
}

// Promote makes name the primary for subsequent calls. Called after a
// successful failover so the session sticks with the backend that worked.
func (s *Selector) Promote(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.primary == name {
		return
	}
	for _, b := range s.backends {
		if b.Name() == name {
			slog.Info("search backend promoted to primary",
				"previous", s.primary, "primary", name)
			s.primary = name
			return
		}
	}
}

// Primary returns the current primary backend name.
func (s *Selector) Primary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary
}

func (s *Selector) byName(name string) Searcher {
	for _, b := range s.backends {
		if b.Name() == name {
			return b
		}
	}
	return nil
}

// orderedFrom lists the backends starting at name, preserving declaration
// order for the rest.
func (s *Selector) orderedFrom(name string) []Searcher {
	out := make([]Searcher, 0, len(s.backends))
	if b := s.byName(name); b != nil {
		out = append(out, b)
	}
	for _, b := range s.backends {
		if b.Name() != name {
			out = append(out, b)
		}
	}
	return out
}

func (s *Selector) healthy(ctx context.Context, b Searcher) bool {
	name := b.Name()

	s.mu.RLock()
	cached, ok := s.health[name]
	ttl, now := s.ttl, s.now()
	s.mu.RUnlock()
	if ok && now.Sub(cached.checkedAt) < ttl {
		return cached.healthy
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.probeWait)
	defer cancel()
	err := b.Health(probeCtx)
	if err != nil {
		slog.Debug("backend health probe failed", "backend", name, "error", err)
	}

	s.mu.Lock()
	s.health[name] = probeResult{healthy: err == nil, checkedAt: s.now()}
	s.mu.Unlock()
	return err == nil
}
