package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derWhity/cfpdesk/internal/models"
)

func TestParseScheduleArgs(t *testing.T) {
	tests := []struct {
		args      []string
		types     []models.ProposalType
		persist   bool
		ignorePot bool
	}{
		{nil, nil, false, false},
		{[]string{"--type", "talk"}, []models.ProposalType{models.TypeTalk}, false, false},
		{[]string{"--type", "all", "--persist"}, nil, true, false},
		{[]string{"--ignore_potential", "--type=talk,workshop"},
			[]models.ProposalType{models.TypeTalk, models.TypeWorkshop}, false, true},
	}
	for _, tc := range tests {
		req, err := parseScheduleArgs(tc.args)
		require.NoError(t, err, tc.args)
		assert.Equal(t, tc.types, req.Types, tc.args)
		assert.Equal(t, tc.persist, req.Persist, tc.args)
		assert.Equal(t, tc.ignorePot, req.IgnorePotential, tc.args)
	}

	_, err := parseScheduleArgs([]string{"--type", "circus"})
	assert.Error(t, err)
	_, err = parseScheduleArgs([]string{"--types", "talk"})
	assert.Error(t, err)
}

func TestParseApplyArgs(t *testing.T) {
	tests := []struct {
		args  []string
		typ   models.ProposalType
		email bool
	}{
		{[]string{"--type", "all"}, "", true},
		{[]string{"--type", "talk", "--no-email"}, models.TypeTalk, false},
		{[]string{"--email", "--type", "performance"}, models.TypePerformance, true},
		{[]string{"--no-email", "--email", "--type", "all"}, "", true},
		{[]string{"--email=false", "--type", "workshop"}, models.TypeWorkshop, false},
	}
	for _, tc := range tests {
		typ, email, err := parseApplyArgs(tc.args)
		require.NoError(t, err, tc.args)
		assert.Equal(t, tc.typ, typ, tc.args)
		assert.Equal(t, tc.email, email, tc.args)
	}

	for _, args := range [][]string{nil, {"--type", "circus"}, {"--type", "talk", "extra"}} {
		_, _, err := parseApplyArgs(args)
		assert.Error(t, err, args)
	}
}

func TestParseLotteryArgs(t *testing.T) {
	req, err := parseLotteryArgs(nil)
	require.NoError(t, err)
	assert.False(t, req.DryRun)

	req, err = parseLotteryArgs([]string{"--dry-run"})
	require.NoError(t, err)
	assert.True(t, req.DryRun)

	req, err = parseLotteryArgs([]string{"--dry-run", "--no-dry-run", "--notify-losers"})
	require.NoError(t, err)
	assert.False(t, req.DryRun)
	assert.True(t, req.NotifyLosers)
}

func TestParseImportArgs(t *testing.T) {
	file, state, err := parseImportArgs([]string{"proposals.csv", "--state", "manual-review"})
	require.NoError(t, err)
	assert.Equal(t, "proposals.csv", file)
	assert.Equal(t, models.StateManualReview, state)

	file, state, err = parseImportArgs([]string{"--state=new", "proposals.csv"})
	require.NoError(t, err)
	assert.Equal(t, "proposals.csv", file)
	assert.Equal(t, models.StateNew, state)

	_, state, err = parseImportArgs([]string{"proposals.csv"})
	require.NoError(t, err)
	assert.Equal(t, models.StateChecked, state)

	_, _, err = parseImportArgs([]string{"a.csv", "b.csv"})
	assert.Error(t, err)
	_, _, err = parseImportArgs(nil)
	assert.Error(t, err)
}
