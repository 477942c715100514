package syncq

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAndLoad(t *testing.T) {
	q, err := Open(t.TempDir())
	require.NoError(t, err)

	empty, err := q.Load()
	require.NoError(t, err)
	assert.Empty(t, empty)

	cmd, err := q.Push(Command{Method: "POST", Path: "/api/transactions/buy", Body: map[string]any{"amount": 3}})
	require.NoError(t, err)
	assert.NotEmpty(t, cmd.ID)
	assert.False(t, cmd.QueuedAt.IsZero())

	got, err := q.Load()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, cmd.ID, got[0].ID)
	assert.Equal(t, "/api/transactions/buy", got[0].Path)
}

func TestReplayStopsWhenUnreachable(t *testing.T) {
	q, err := Open(t.TempDir())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := q.Push(Command{Method: "POST", Path: fmt.Sprintf("/api/%d", i)})
		require.NoError(t, err)
	}

	calls := 0
	results, err := q.Replay(context.Background(), func(_ context.Context, cmd Command) error {
		calls++
		switch cmd.Path {
		case "/api/0":
			return nil
		case "/api/1":
			return errors.New("rejected")
		default:
			return ErrUnreachable
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)

	left, err := q.Load()
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "/api/2", left[0].Path)
}
