package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/indexsync"
	"github.com/fyrsmithlabs/memoryd/internal/record"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "memoryd by Fyrsmith Labs")
	assert.Contains(t, out.String(), "Version:    "+version)
	assert.Contains(t, out.String(), "Commit:     "+gitCommit)
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "reconcile", "search", "evict", "mcp", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))
}

func TestSearchCommand_RequiresQuery(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"search"})
	assert.Error(t, root.Execute())
}

func TestEvictCommand_RequiresScope(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"evict"})
	assert.Error(t, root.Execute())
}

func TestPrintStats(t *testing.T) {
	stats := indexsync.Stats{Added: 2, Updated: 1, Deleted: 3, Unchanged: 7}

	var text bytes.Buffer
	require.NoError(t, printStats(&text, stats, false))
	assert.Equal(t, "added=2 updated=1 deleted=3 unchanged=7\n", text.String())

	var js bytes.Buffer
	require.NoError(t, printStats(&js, stats, true))
	assert.JSONEq(t, `{"added":2,"updated":1,"deleted":3,"unchanged":7}`, js.String())
}

func TestPrintHits(t *testing.T) {
	var empty bytes.Buffer
	require.NoError(t, printHits(&empty, nil))
	assert.Equal(t, "no memories found\n", empty.String())

	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	hits := []retrieval.Scored{{
		Record: &record.Record{ID: "a", Kind: record.KindFact, Content: "likes\nespresso", CreatedAt: created},
		Score:  0.8123,
	}}
	var out bytes.Buffer
	require.NoError(t, printHits(&out, hits))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "SCORE"))
	assert.Contains(t, lines[1], "0.812")
	assert.Contains(t, lines[1], "2026-03-01 09:30")
	assert.Contains(t, lines[1], "likes espresso")
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine(" a\n b\tc ", 10))
	assert.Equal(t, "abcd…", oneLine("abcdefgh", 5))
}
