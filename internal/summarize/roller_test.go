package summarize

import (
	"context"
	"errors"
	"testing"

	"github.com/fyrsmithlabs/memoryd/internal/indexsync"
	"github.com/fyrsmithlabs/memoryd/internal/llm"
	"github.com/fyrsmithlabs/memoryd/internal/record"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rollFixture struct {
	store *record.Store
	sync  *indexsync.Syncer
}

func newRollFixture(t *testing.T) *rollFixture {
	t.Helper()
	store, err := record.NewStore(t.TempDir())
	require.NoError(t, err)
	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{}, &vectorstore.HashEmbedder{}, nil)
	require.NoError(t, err)
	s, err := indexsync.New(store, idx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &rollFixture{store: store, sync: s}
}

func (f *rollFixture) roller(client llm.Client) *Roller {
	e := NewEngine(client, ApproxTokenizer(), Config{TargetTokens: 5})
	return NewRoller(f.store, f.sync, e, nil)
}

func (f *rollFixture) seed(t *testing.T, scope string) {
	t.Helper()
	ctx := context.Background()
	for _, r := range []struct {
		kind    record.Kind
		content string
	}{
		{record.KindUserTurn, "I switched from coffee to green tea last month."},
		{record.KindAssistantTurn, "Green tea is a good choice, it has less caffeine."},
		{record.KindFact, "User drinks green tea."},
	} {
		_, err := f.store.Create(ctx, scope, r.kind, r.content)
		require.NoError(t, err)
	}
}

func TestRoller_RollReplacesPriorSummary(t *testing.T) {
	f := newRollFixture(t)
	ctx := context.Background()
	f.seed(t, "s1")

	client := &llm.Scripted{Replies: []string{"User now drinks tea.", "User drinks tea now."}}
	r := f.roller(client)

	first, err := r.Roll(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, record.KindSummary, first.Kind)
	assert.Equal(t, "User now drinks tea.", first.Content)
	assert.True(t, f.sync.Indexed(first.ID))

	transcriptSent := client.Requests[0].Messages[0].Content
	assert.Contains(t, transcriptSent, "user: I switched from coffee")
	assert.Contains(t, transcriptSent, "fact: User drinks green tea.")

	second, err := r.Roll(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "User drinks tea now.", second.Content)
	assert.Contains(t, client.Requests[1].System, "User now drinks tea.")

	live, err := f.store.List("s1", record.KindSummary)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, second.ID, live[0].ID)

	tomb, err := f.store.GetTombstone("s1", first.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, tomb.ReplacedBy)
	assert.False(t, f.sync.Indexed(first.ID))
	assert.True(t, f.sync.Indexed(second.ID))
}

func TestRoller_FailureKeepsPriorSummary(t *testing.T) {
	f := newRollFixture(t)
	ctx := context.Background()
	f.seed(t, "s1")

	client := &llm.Scripted{Replies: []string{"User now drinks tea."}}
	first, err := f.roller(client).Roll(ctx, "s1")
	require.NoError(t, err)

	client.Err = errors.New("rate limited")
	_, err = f.roller(client).Roll(ctx, "s1")
	require.Error(t, err)

	live, err := f.store.List("s1", record.KindSummary)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, first.ID, live[0].ID)
}

func TestRoller_EmptyScope(t *testing.T) {
	f := newRollFixture(t)
	client := &llm.Scripted{}
	rec, err := f.roller(client).Roll(context.Background(), "empty")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Zero(t, client.Calls())
}
