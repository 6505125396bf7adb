// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load reads, parses, and validates a profile file. A malformed profile is
// a fatal configuration error for the caller: it is rejected here, before
// any request is served, never mid-request.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the profile file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Profile from raw YAML.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse the profile YAML: %w", err)
	}
	p.applyDefaults()
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("profile failed validation: %w", err)
	}
	if p.Mode(p.DefaultMode) == nil {
		return nil, fmt.Errorf("profile default_mode %q is not in the mode table", p.DefaultMode)
	}
	for _, rule := range p.ClassifierRules {
		for _, pattern := range rule.Patterns {
			if _, err := regexp.Compile(pattern); err != nil {
				return nil, fmt.Errorf("classifier rule for mode %q has a bad pattern %q: %w",
					rule.Mode, pattern, err)
			}
		}
	}
	// Blank vocabulary entries would match every query during scope
	// extraction and tail stripping.
	for i, std := range p.Standards {
		if strings.TrimSpace(std) == "" {
			return nil, fmt.Errorf("profile standards entry %d is empty", i)
		}
	}
	for std, aliases := range p.ScopeAliases {
		for i, alias := range aliases {
			if strings.TrimSpace(alias) == "" {
				return nil, fmt.Errorf("profile scope alias %d for %q is empty", i, std)
			}
		}
	}
	return &p, nil
}

// Store holds the current profile snapshot and swaps it atomically on
// reload. Readers call Current once per request and keep that pointer for
// the request's whole lifetime.
type Store struct {
	current atomic.Pointer[Profile]
	path    string
	watcher *fsnotify.Watcher
}

// NewStore loads the initial snapshot from path.
func NewStore(path string) (*Store, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path}
	s.current.Store(p)
	return s, nil
}

// NewStaticStore wraps an already-built profile; used by tests and by the
// one-shot CLI path where no file watching is wanted.
func NewStaticStore(p *Profile) *Store {
	s := &Store{}
	s.current.Store(p)
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *Profile {
	return s.current.Load()
}

// Watch starts a background reload on file change. A reload that fails
// validation keeps the previous snapshot; a running service never picks up
// a broken profile.
func (s *Store) Watch() error {
	if s.path == "" {
		return fmt.Errorf("cannot watch a static profile store")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create the profile watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch the profile directory: %w", err)
	}
	s.watcher = w
	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			p, err := Load(s.path)
			if err != nil {
				slog.Warn("profile reload rejected, keeping previous snapshot",
					"path", s.path, "error", err)
				continue
			}
			s.current.Store(p)
			slog.Info("profile reloaded", "path", s.path, "tenant", p.Tenant)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("profile watcher error", "error", err)
		}
	}
}

// Close stops the watcher if one is running.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
