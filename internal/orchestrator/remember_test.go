package orchestrator

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/memoryd/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemember(t *testing.T) {
	h := newHarness(t, script{}, 500)
	h.deps.Scrubber = replaceScrubber{secret: "hunter2"}
	o := h.build(t, Config{})

	got, err := o.Remember(context.Background(), "alice", []string{"  User is vegetarian ", "", "wifi password is hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Scope)
	assert.Len(t, got.Created, 2)
	assert.Empty(t, got.Deleted)

	assert.ElementsMatch(t,
		[]string{"User is vegetarian", "wifi password is [REDACTED:test]"},
		contents(t, h.store, "alice", record.KindFact))
	assert.Equal(t, 0, o.locks.size())
}

func TestRemember_DefaultScope(t *testing.T) {
	h := newHarness(t, script{}, 500)
	o := h.build(t, Config{DefaultScope: "team"})

	got, err := o.Remember(context.Background(), "", []string{"Standup is at 9:30"})
	require.NoError(t, err)
	assert.Equal(t, "team", got.Scope)
	assert.Equal(t, []string{"Standup is at 9:30"}, contents(t, h.store, "team", record.KindFact))
}

func TestRemember_InvalidRequests(t *testing.T) {
	h := newHarness(t, script{}, 500)
	o := h.build(t, Config{})

	_, err := o.Remember(context.Background(), "alice", []string{" ", ""})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = o.Remember(context.Background(), "../etc", []string{"fact"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
