// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianComply/services/compliance/profile"
)

func testProfile() *profile.Profile {
	return &profile.Profile{
		Standards: []string{"iso 9001", "iso 27001", "iso 14001"},
		ScopeAliases: map[string][]string{
			"iso 9001":  {"quality management standard"},
			"iso 27001": {"information security standard", "isms"},
		},
	}
}

func TestStandards_CanonicalTokens(t *testing.T) {
	got := Standards("What does ISO 9001 say about documented information?", testProfile())
	assert.Equal(t, []string{"iso 9001"}, got)
}

func TestStandards_OrderOfFirstAppearance(t *testing.T) {
	got := Standards("Compare iso 27001 and iso 9001 controls", testProfile())
	assert.Equal(t, []string{"iso 27001", "iso 9001"}, got)
}

func TestStandards_AliasResolution(t *testing.T) {
	got := Standards("Does the ISMS require supplier audits?", testProfile())
	assert.Equal(t, []string{"iso 27001"}, got)
}

func TestStandards_BareDigitFallback(t *testing.T) {
	got := Standards("what does 9001 require for records", testProfile())
	assert.Equal(t, []string{"iso 9001"}, got)
}

func TestStandards_NoMatch(t *testing.T) {
	got := Standards("how do I bake bread", testProfile())
	assert.Empty(t, got)
}

func TestStandards_Deduplicated(t *testing.T) {
	got := Standards("iso 9001 and again iso 9001 and the quality management standard", testProfile())
	assert.Equal(t, []string{"iso 9001"}, got)
}

func TestClauseRefs_DottedIdentifiers(t *testing.T) {
	got := ClauseRefs("Quote clause 7.5.3 and section 4.4 exactly")
	assert.Equal(t, []string{"7.5.3", "4.4"}, got)
}

func TestClauseRefs_Deduplicates(t *testing.T) {
	got := ClauseRefs("7.5 then 7.5 again")
	assert.Equal(t, []string{"7.5"}, got)
}

func TestClauseRefs_IgnoresBareIntegers(t *testing.T) {
	got := ClauseRefs("what do the 2015 revisions say")
	assert.Empty(t, got)
}

func TestClauseMatches(t *testing.T) {
	assert.True(t, ClauseMatches("7.5", "7.5"))
	assert.True(t, ClauseMatches("7.5.3", "7.5"), "nested clause satisfies the parent")
	assert.False(t, ClauseMatches("7.5", "7.5.3"), "parent does not satisfy a nested request")
	assert.False(t, ClauseMatches("7.50", "7.5"))
}

func TestMarkers_ValuedAndBare(t *testing.T) {
	got := Markers("compare them __mode__=literal __clarification_confirmed__")
	assert.Equal(t, "literal", got["mode"])
	assert.Equal(t, "true", got["clarification_confirmed"])
}

func TestStripMarkers(t *testing.T) {
	got := StripMarkers("what does iso 9001 require __mode__=literal __coverage__=partial")
	assert.Equal(t, "what does iso 9001 require", got)
}
