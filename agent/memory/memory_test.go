package memory

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/storyflow/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func newRedisStore(t *testing.T, cfg RedisStoreConfig) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, cfg, nil), mr
}

// storeCases runs the same contract against every backend available in tests.
func storeCases(t *testing.T) map[string]WorkingMemoryStore {
	redisStore, _ := newRedisStore(t, RedisStoreConfig{MaxRetries: 1000})
	stores := map[string]WorkingMemoryStore{
		"inmemory": NewInMemoryStore(nil),
		"redis":    redisStore,
	}
	if uri := os.Getenv("STORYFLOW_TEST_MONGO_URI"); uri != "" {
		client, err := mongo.Connect(options.Client().ApplyURI(uri))
		require.NoError(t, err)
		coll := client.Database("storyflow_test").Collection("working_memory_" + strings.ToLower(t.Name()))
		t.Cleanup(func() {
			_ = coll.Drop(context.Background())
			_ = client.Disconnect(context.Background())
		})
		store := NewMongoStore(coll, nil)
		store.maxRetries = 1000
		stores["mongo"] = store
	}
	return stores
}

func TestWorkingMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Get(ctx, "agent:s1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Set(ctx, "agent:s1", "hello"))
			v, ok, err := store.Get(ctx, "agent:s1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "hello", v)

			require.NoError(t, store.Set(ctx, "agent:s1", "again"))
			v, _, _ = store.Get(ctx, "agent:s1")
			assert.Equal(t, "again", v)
		})
	}
}

func TestWorkingMemoryStore_UpdateSerializesWriters(t *testing.T) {
	ctx := context.Background()
	const writers = 10
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.Update(ctx, "counter", func(current string, _ bool) (string, error) {
						return current + "x", nil
					})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			v, ok, err := store.Get(ctx, "counter")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, strings.Repeat("x", writers), v)
		})
	}
}

func TestWorkingMemoryStore_UpdateError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "k", "keep"))
			_, err := store.Update(ctx, "k", func(string, bool) (string, error) { return "", boom })
			assert.ErrorIs(t, err, boom)

			v, _, _ := store.Get(ctx, "k")
			assert.Equal(t, "keep", v)
		})
	}
}

func TestRedisStore_TTLAndPrefix(t *testing.T) {
	store, mr := newRedisStore(t, RedisStoreConfig{KeyPrefix: "p:", TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a:b", "v"))
	assert.True(t, mr.Exists("p:a:b"))
	assert.Equal(t, time.Minute, mr.TTL("p:a:b"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := store.Get(ctx, "a:b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_ConflictExhaustsRetries(t *testing.T) {
	store, mr := newRedisStore(t, RedisStoreConfig{MaxRetries: 2})
	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer other.Close()
	ctx := context.Background()

	_, err := store.Update(ctx, "k", func(current string, _ bool) (string, error) {
		// a concurrent writer touches the watched key every time
		if err := other.Set(ctx, "storyflow:memory:k", current+"-other", 0).Err(); err != nil {
			return "", err
		}
		return "mine", nil
	})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrMemoryConflict))
}

func TestWorkingMemory_Template(t *testing.T) {
	ctx := context.Background()
	wm := NewWorkingMemory(NewInMemoryStore(nil), "Project Manager", "\n# profile\n- project name:\n")

	v, err := wm.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "# profile\n- project name:", v)

	next, err := wm.Update(ctx, "s1", func(current string) (string, error) {
		return current + " storyflow", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "# profile\n- project name: storyflow", next)

	require.NoError(t, wm.Save(ctx, "s2", "  other  "))
	v, _ = wm.Load(ctx, "s2")
	assert.Equal(t, "other", v)

	assert.Equal(t, "project-manager:default", Key("Project Manager", ""))
}

func TestInMemoryVectorStore_Query(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore(2, nil)

	require.NoError(t, store.Upsert(ctx,
		VectorDocument{ID: "x", Vector: []float64{1, 0}, Text: "east", Metadata: map[string]any{"url": "a"}},
		VectorDocument{ID: "y", Vector: []float64{0, 1}, Text: "north", Metadata: map[string]any{"url": "b"}},
		VectorDocument{ID: "xy", Vector: []float64{1, 1}, Text: "north-east", Metadata: map[string]any{"url": "a"}},
	))
	assert.Equal(t, 3, store.Len())

	matches, err := store.Query(ctx, []float64{1, 0.1}, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "x", matches[0].ID)
	assert.Equal(t, "xy", matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)

	filtered, err := store.Query(ctx, []float64{0, 1}, 10, map[string]any{"url": "a"})
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, "xy", filtered[0].ID)

	// upsert replaces by id
	require.NoError(t, store.Upsert(ctx, VectorDocument{ID: "x", Vector: []float64{0, 1}, Text: "moved"}))
	matches, _ = store.Query(ctx, []float64{0, 1}, 1, map[string]any{})
	assert.Contains(t, []string{"x", "y"}, matches[0].ID)
	assert.Equal(t, 3, store.Len())

	empty, err := store.Query(ctx, []float64{1, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInMemoryVectorStore_Errors(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore(3, nil)

	assert.Error(t, store.Upsert(ctx, VectorDocument{Vector: []float64{1, 2, 3}}))
	assert.Error(t, store.Upsert(ctx, VectorDocument{ID: "a"}))
	assert.Error(t, store.Upsert(ctx, VectorDocument{ID: "a", Vector: []float64{1}}))

	_, err := store.Query(ctx, nil, 1, nil)
	assert.Error(t, err)
	_, err = store.Query(ctx, []float64{1, 2}, 1, nil)
	assert.Error(t, err)
}
