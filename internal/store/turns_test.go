package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"storybot/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "turns.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openSession(t *testing.T, s *LocalStore, user int64, session int) {
	t.Helper()
	_, err := s.Append(context.Background(), types.Turn{
		UserID: user, SessionID: session, Role: types.RoleSystem, Content: "prompt", TokenCount: 10,
	})
	require.NoError(t, err)
}

func TestAppendAndHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	openSession(t, s, 1, 1)
	content := "  Knight enters. Тест «кавычки» \n\ttabs  "
	stored, err := s.Append(ctx, types.Turn{UserID: 1, SessionID: 1, Role: types.RoleUser, Content: content, TokenCount: 5})
	require.NoError(t, err)
	assert.NotZero(t, stored.ID)
	assert.False(t, stored.CreatedAt.IsZero())

	_, err = s.Append(ctx, types.Turn{UserID: 1, SessionID: 1, Role: types.RoleAssistant, Content: "", TokenCount: 7})
	require.NoError(t, err)

	history, err := s.History(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, types.RoleSystem, history[0].Role)
	assert.Equal(t, content, history[1].Content)
	assert.Equal(t, "", history[2].Content)
	assert.Equal(t, stored.ID, history[1].ID)
}

func TestHistoryEmpty(t *testing.T) {
	s := newTestStore(t)

	history, err := s.History(context.Background(), 5, 1)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestHistoryOrdersByCreatedAtThenInsertion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Append(ctx, types.Turn{UserID: 1, SessionID: 1, Role: types.RoleSystem, Content: "sys", CreatedAt: base})
	require.NoError(t, err)
	_, err = s.Append(ctx, types.Turn{UserID: 1, SessionID: 1, Role: types.RoleUser, Content: "b", CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)
	_, err = s.Append(ctx, types.Turn{UserID: 1, SessionID: 1, Role: types.RoleAssistant, Content: "c", CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)

	history, err := s.History(ctx, 1, 1)
	require.NoError(t, err)
	var got []string
	for _, h := range history {
		got = append(got, h.Content)
	}
	assert.Equal(t, []string{"sys", "b", "c"}, got)
	assert.True(t, history[1].CreatedAt.Equal(base.Add(time.Second)))
}

func TestSystemTurnInvariant(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Append(ctx, types.Turn{UserID: 1, SessionID: 1, Role: types.RoleUser, Content: "too early"})
	require.ErrorIs(t, err, ErrSessionNotOpened)

	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "append", se.Op)

	openSession(t, s, 1, 1)
	_, err = s.Append(ctx, types.Turn{UserID: 1, SessionID: 1, Role: types.RoleSystem, Content: "again"})
	require.ErrorIs(t, err, ErrSystemTurnNotFirst)

	history, err := s.History(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAppendRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Append(ctx, types.Turn{UserID: 1, SessionID: 1, Role: "narrator"})
	require.ErrorIs(t, err, ErrInvalidRole)

	_, err = s.Append(ctx, types.Turn{UserID: 1, SessionID: 0, Role: types.RoleSystem})
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionNumbering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.LatestSessionID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	for session := 1; session <= 3; session++ {
		openSession(t, s, 1, session)
	}
	openSession(t, s, 2, 1)

	count, err := s.SessionCount(ctx, 1)
	require.NoError(t, err)
	latest, ok, err := s.LatestSessionID(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 3, count)
	assert.Equal(t, count-1, latest-1)

	users, err := s.UserCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, users)
}

func TestTokenTotals(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	openSession(t, s, 1, 1)
	_, err := s.Append(ctx, types.Turn{UserID: 1, SessionID: 1, Role: types.RoleUser, Content: "x", TokenCount: 15})
	require.NoError(t, err)
	openSession(t, s, 2, 1)

	total, err := s.SessionTokenTotal(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 25, total)

	none, err := s.SessionTokenTotal(ctx, 1, 9)
	require.NoError(t, err)
	assert.Zero(t, none)

	lifetime, err := s.LifetimeTokenTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(35), lifetime)
}

func TestConcurrentAppendsFromManyUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const users, turns = 8, 10
	var wg sync.WaitGroup
	errs := make(chan error, users*turns)
	for u := int64(1); u <= users; u++ {
		wg.Add(1)
		go func(u int64) {
			defer wg.Done()
			if _, err := s.Append(ctx, types.Turn{UserID: u, SessionID: 1, Role: types.RoleSystem, Content: "sys", TokenCount: 1}); err != nil {
				errs <- err
				return
			}
			for i := 0; i < turns; i++ {
				_, err := s.Append(ctx, types.Turn{UserID: u, SessionID: 1, Role: types.RoleUser, Content: fmt.Sprintf("u%d-%d", u, i), TokenCount: 1})
				if err != nil {
					errs <- err
				}
			}
		}(u)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	lifetime, err := s.LifetimeTokenTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(users*(turns+1)), lifetime)

	history, err := s.History(ctx, 3, 1)
	require.NoError(t, err)
	assert.Len(t, history, turns+1)
}

func TestReopenKeepsTurns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := NewLocalStore(path)
	require.NoError(t, err)
	openSession(t, s, 4, 1)
	require.NoError(t, s.Close())

	s, err = NewLocalStore(path)
	require.NoError(t, err)
	defer s.Close()

	count, err := s.SessionCount(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, path, s.Path())
}
