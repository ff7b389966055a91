package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/keeper/pkg/types"
)

func testIdentity() Identity {
	return Identity{AppID: "keeper-test", UserID: "user-" + uuid.NewString()[:8], SessionID: "s1"}
}

// runStoreConformance exercises the Store contract against any backend.
func runStoreConformance(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, testIdentity())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create then get", func(t *testing.T) {
		id := testIdentity()
		created, err := store.Create(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, created.ID)
		assert.Empty(t, created.Turns)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Empty(t, got.Turns)
	})

	t.Run("create twice", func(t *testing.T) {
		id := testIdentity()
		_, err := store.Create(ctx, id)
		require.NoError(t, err)
		_, err = store.Create(ctx, id)
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("create invalid identity", func(t *testing.T) {
		_, err := store.Create(ctx, Identity{AppID: "a"})
		assert.ErrorIs(t, err, ErrInvalidIdentity)
	})

	t.Run("append keeps order and events", func(t *testing.T) {
		id := testIdentity()
		_, err := store.Create(ctx, id)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			turn := Turn{
				User:   fmt.Sprintf("q%d", i),
				Agent:  fmt.Sprintf("a%d", i),
				Events: []*types.Event{types.NewFinalResponseEvent(fmt.Sprintf("a%d", i))},
			}
			require.NoError(t, store.AppendTurn(ctx, id, turn))
		}

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.Len(t, got.Turns, 3)
		for i, turn := range got.Turns {
			assert.Equal(t, fmt.Sprintf("q%d", i), turn.User)
			assert.Equal(t, fmt.Sprintf("a%d", i), turn.Agent)
			assert.False(t, turn.CreatedAt.IsZero())
			require.Len(t, turn.Events, 1)
			assert.True(t, turn.Events[0].IsFinalResponse())
		}
	})

	t.Run("append to missing", func(t *testing.T) {
		err := store.AppendTurn(ctx, testIdentity(), Turn{User: "q", Agent: "a"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete removes turns", func(t *testing.T) {
		id := testIdentity()
		_, err := store.Create(ctx, id)
		require.NoError(t, err)
		require.NoError(t, store.AppendTurn(ctx, id, Turn{User: "q", Agent: "a"}))

		require.NoError(t, store.Delete(ctx, id))
		_, err = store.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, id), ErrNotFound)

		recreated, err := store.Create(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, recreated.Turns)
	})

	t.Run("concurrent appends", func(t *testing.T) {
		id := testIdentity()
		_, err := store.Create(ctx, id)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, store.AppendTurn(ctx, id, Turn{User: fmt.Sprint(i), Agent: "a"}))
			}(i)
		}
		wg.Wait()

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Len(t, got.Turns, 10)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreConformance(t, NewMemoryStore())
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := testIdentity()
	_, err := store.Create(ctx, id)
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(ctx, id, Turn{User: "q", Agent: "a"}))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	got.Turns[0].Agent = "mutated"

	again, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Turns[0].Agent)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("KEEPER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("KEEPER_TEST_REDIS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := ConnectRedis(ctx, url, WithTTL(time.Minute), WithKeyPrefix("keeper:test:"+uuid.NewString()+":"))
	require.NoError(t, err)
	defer store.Close()

	runStoreConformance(t, store)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("KEEPER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("KEEPER_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := ConnectPostgres(ctx, url)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate(ctx))

	runStoreConformance(t, store)
}

func TestIdentity(t *testing.T) {
	id := Identity{AppID: "app", UserID: "u", SessionID: "s"}
	assert.Equal(t, "app/u/s", id.String())
	assert.NoError(t, id.Validate())

	err := Identity{AppID: "app", UserID: "u"}.Validate()
	assert.True(t, errors.Is(err, ErrInvalidIdentity))
}
