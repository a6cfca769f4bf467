package state

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/switchyard/internal/llm"
	"github.com/mattjoyce/switchyard/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHistoryStore(t *testing.T) *HistoryStore {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewHistoryStore(db)
}

func TestHistoryLoadMissing(t *testing.T) {
	t.Parallel()
	s := newHistoryStore(t)

	_, ok, err := s.Load(context.Background(), "t1", "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistorySaveReplaces(t *testing.T) {
	t.Parallel()
	s := newHistoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "t1", "p1", Conversation{Messages: []llm.Message{llm.UserMessage("one")}, Turns: 1, InputTokens: 10}))
	require.NoError(t, s.Save(ctx, "t1", "p1", Conversation{
		Messages: []llm.Message{
			llm.UserMessage("one"),
			{Role: llm.RoleAssistant, Content: []llm.ContentBlock{llm.ToolUseBlock("tu", "git_log", []byte(`{"limit":5}`))}},
		},
		Turns:       2,
		InputTokens: 25,
	}))

	conv, ok, err := s.Load(ctx, "t1", "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, conv.Turns)
	assert.Equal(t, int64(25), conv.InputTokens)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "git_log", conv.Messages[1].Content[0].ToolUse.Name)
	assert.False(t, conv.UpdatedAt.IsZero())
}

func TestHistoryClear(t *testing.T) {
	t.Parallel()
	s := newHistoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "t1", "p1", Conversation{Turns: 1}))
	require.NoError(t, s.Clear(ctx, "t1", "p1"))
	_, ok, err := s.Load(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistorySizeLimit(t *testing.T) {
	t.Parallel()
	s := newHistoryStore(t)
	s.maxBytes = 64

	err := s.Save(context.Background(), "t1", "p1", Conversation{Messages: []llm.Message{llm.UserMessage(strings.Repeat("x", 100))}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds max size")
}

func TestHistoryRequiresKey(t *testing.T) {
	t.Parallel()
	s := newHistoryStore(t)
	assert.Error(t, s.Save(context.Background(), "", "p1", Conversation{}))
	assert.Error(t, s.Save(context.Background(), "t1", "", Conversation{}))
	_, _, err := s.Load(context.Background(), "", "p1")
	assert.Error(t, err)
	_, _, err = s.Load(context.Background(), "t1", "")
	assert.Error(t, err)
}

func TestHistoryIsPerPersona(t *testing.T) {
	t.Parallel()
	s := newHistoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "t1", "p-dev", Conversation{Messages: []llm.Message{llm.UserMessage("plan it")}, Turns: 4}))
	require.NoError(t, s.Save(ctx, "t1", "p-critic", Conversation{Messages: []llm.Message{llm.UserMessage("review it")}, Turns: 1}))

	dev, ok, err := s.Load(ctx, "t1", "p-dev")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, dev.Turns)
	assert.Equal(t, "plan it", dev.Messages[0].Content[0].Text)

	_, ok, err = s.Load(ctx, "t1", "p-hacker")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Clear(ctx, "t1", "p-critic"))
	_, ok, err = s.Load(ctx, "t1", "p-dev")
	require.NoError(t, err)
	assert.True(t, ok)
}
