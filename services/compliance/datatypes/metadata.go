// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strconv"
	"strings"
)

// Search backends hand us loosely-typed nested metadata maps. All access
// goes through the accessors below so the rest of the pipeline only ever
// sees typed, defaulted values.

// MetadataString returns metadata[key] as a trimmed string, or "".
func MetadataString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	switch v := meta[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// MetadataStandard resolves the standard/scope label for an evidence item.
// Backends disagree on the field name, so several are tried in order.
func MetadataStandard(meta map[string]any) string {
	for _, key := range []string{"standard", "scope", "norm", "source_standard"} {
		if v := MetadataString(meta, key); v != "" {
			return v
		}
	}
	return ""
}

// MetadataClauseRefs returns the clause identifiers tagged on an item.
// Accepts a list of strings, a comma-separated string, or a single value.
func MetadataClauseRefs(meta map[string]any) []string {
	if meta == nil {
		return nil
	}
	var refs []string
	appendRef := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw != "" {
			refs = append(refs, raw)
		}
	}
	for _, key := range []string{"clause_refs", "clauses", "clause", "section"} {
		switch v := meta[key].(type) {
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					appendRef(s)
				}
			}
		case []string:
			for _, s := range v {
				appendRef(s)
			}
		case string:
			for _, part := range strings.Split(v, ",") {
				appendRef(part)
			}
		}
		if len(refs) > 0 {
			return refs
		}
	}
	return nil
}

// MetadataTimestamp returns a unix-milliseconds timestamp, or 0 when the
// item carries none.
func MetadataTimestamp(meta map[string]any) int64 {
	if meta == nil {
		return 0
	}
	for _, key := range []string{"timestamp", "ts", "indexed_at"} {
		switch v := meta[key].(type) {
		case float64:
			return int64(v)
		case int64:
			return v
		case int:
			return int64(v)
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

// MetadataKind distinguishes chunk evidence from summary evidence; the
// default is "chunk".
func MetadataKind(meta map[string]any) string {
	if v := MetadataString(meta, "kind"); v != "" {
		return v
	}
	if v := MetadataString(meta, "doc_type"); v != "" {
		return v
	}
	return "chunk"
}
