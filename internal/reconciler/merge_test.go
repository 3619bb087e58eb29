package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var priority = []string{"scraper-a", "scraper-b"}

func TestMergePrefersHigherPriorityRegardlessOfRecency(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	winner, source, changed := merge("phone", "555-0100", []FieldSource{
		{Scraper: "scraper-b", Value: "555-0200", ReportedAt: newer},
		{Scraper: "scraper-a", Value: "555-0300", ReportedAt: older},
	}, priority)
	assert.Equal(t, "555-0300", winner)
	assert.Equal(t, "scraper-a", source)
	assert.True(t, changed)
}

func TestMergeMajorityVoteBeatsSinglePriorityReport(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	winner, source, changed := merge("phone", "555-0100", []FieldSource{
		{Scraper: "scraper-a", Value: "555-0300", ReportedAt: older},
		{Scraper: "scraper-b", Value: "555-0200", ReportedAt: newer},
		{Scraper: "scraper-c", Value: "555-0200", ReportedAt: newer},
	}, priority)
	assert.Equal(t, "555-0200", winner, "two sources agreeing must outvote one higher-priority source reporting alone")
	assert.Equal(t, "scraper-b", source)
	assert.True(t, changed)
}

func TestMergeVoteTieBrokenByPriorityThenRecency(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	winner, source, changed := merge("phone", "555-0100", []FieldSource{
		{Scraper: "scraper-unranked-1", Value: "555-0300", ReportedAt: newer},
		{Scraper: "scraper-b", Value: "555-0200", ReportedAt: older},
	}, priority)
	assert.Equal(t, "555-0200", winner, "a one-vote tie must fall back to source priority, not recency")
	assert.Equal(t, "scraper-b", source)
	assert.True(t, changed)
}

func TestMergeBreaksTieOnRecencyAmongUnrankedSources(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	winner, source, changed := merge("phone", "555-0100", []FieldSource{
		{Scraper: "scraper-unranked-1", Value: "555-0200", ReportedAt: older},
		{Scraper: "scraper-unranked-2", Value: "555-0300", ReportedAt: newer},
	}, priority)
	assert.Equal(t, "555-0300", winner)
	assert.Equal(t, "scraper-unranked-2", source)
	assert.True(t, changed)
}

func TestMergeBlankValueNeverWins(t *testing.T) {
	winner, source, changed := merge("phone", "555-0100", []FieldSource{
		{Scraper: "scraper-a", Value: "", ReportedAt: time.Now()},
		{Scraper: "scraper-b", Value: "555-0200", ReportedAt: time.Now()},
	}, priority)
	assert.Equal(t, "555-0200", winner)
	assert.Equal(t, "scraper-b", source)
	assert.True(t, changed)
}

func TestMergeNoChangeWhenWinnerMatchesCanonical(t *testing.T) {
	winner, _, changed := merge("phone", "555-0300", []FieldSource{
		{Scraper: "scraper-a", Value: "555-0300", ReportedAt: time.Now()},
	}, priority)
	assert.Equal(t, "555-0300", winner)
	assert.False(t, changed)
}

func TestMergeFallsBackToCanonicalWhenAllSourcesBlank(t *testing.T) {
	winner, source, changed := merge("phone", "555-0100", []FieldSource{
		{Scraper: "scraper-a", Value: "", ReportedAt: time.Now()},
	}, priority)
	assert.Equal(t, "555-0100", winner)
	assert.Equal(t, "", source)
	assert.False(t, changed)
}

func TestMergeFieldsAggregatesAcrossFields(t *testing.T) {
	current := map[string]string{
		"name":  "Community Food Bank",
		"phone": "555-0100",
		"email": "",
	}
	incoming := map[string][]FieldSource{
		"phone": {
			{Scraper: "scraper-b", Value: "555-0200", ReportedAt: time.Now()},
			{Scraper: "scraper-a", Value: "555-0300", ReportedAt: time.Now()},
		},
		"email": {
			{Scraper: "scraper-b", Value: "info@example.org", ReportedAt: time.Now()},
		},
	}

	next, changes := MergeFields(current, incoming, priority)

	assert.Equal(t, "Community Food Bank", next["name"])
	assert.Equal(t, "555-0300", next["phone"])
	assert.Equal(t, "info@example.org", next["email"])

	assert.Len(t, changes, 2)
	byField := make(map[string]FieldChange, len(changes))
	for _, c := range changes {
		byField[c.Field] = c
	}
	assert.Equal(t, "555-0300", byField["phone"].NewValue)
	assert.Equal(t, "555-0100", byField["phone"].OldValue)
	assert.Equal(t, "scraper-a", byField["phone"].Source)
	assert.Equal(t, "info@example.org", byField["email"].NewValue)
}

func TestMergeFieldsLeavesUntouchedFieldsAlone(t *testing.T) {
	current := map[string]string{"name": "Community Food Bank"}
	next, changes := MergeFields(current, map[string][]FieldSource{}, priority)
	assert.Equal(t, current, next)
	assert.Empty(t, changes)
}

func TestMergeFieldsAddsNewFieldNotPreviouslyOnFile(t *testing.T) {
	current := map[string]string{"name": "Community Food Bank"}
	incoming := map[string][]FieldSource{
		"url": {{Scraper: "scraper-a", Value: "https://example.org", ReportedAt: time.Now()}},
	}
	next, changes := MergeFields(current, incoming, priority)
	assert.Equal(t, "https://example.org", next["url"])
	assert.Len(t, changes, 1)
	assert.Equal(t, "url", changes[0].Field)
	assert.Equal(t, "", changes[0].OldValue)
}
