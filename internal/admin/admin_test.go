package admin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/warren/internal/bytecode"
	"github.com/dyluth/warren/internal/instance"
	"github.com/dyluth/warren/internal/loader"
	"github.com/dyluth/warren/internal/partition"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOperator struct {
	mu      sync.Mutex
	reloads int
	clears  int
	results []instance.ReloadResult
	stats   bytecode.Stats
}

func (f *fakeOperator) ReloadAll() []instance.ReloadResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return f.results
}

func (f *fakeOperator) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.stats = bytecode.Stats{}
}

func (f *fakeOperator) CacheStats() bytecode.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeOperator) counts() (reloads, clears int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads, f.clears
}

func (f *fakeOperator) Runtimes() []instance.Summary {
	return []instance.Summary{
		{Key: partition.Authority, Role: instance.RoleAuthority, State: instance.StateReady, Scripts: 3},
	}
}

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func startServer(t *testing.T, client *Client, op Operator) *Listener {
	listener, err := NewServer(client, op).Listen(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	return listener
}

func TestChannels(t *testing.T) {
	assert.Equal(t, "warren:prod:admin", CommandChannel("prod"))
	assert.Equal(t, "warren:prod:admin_replies", ReplyChannel("prod"))
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.Equal(t, "test-instance", client.InstanceName())
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestCommandValidate(t *testing.T) {
	assert.NoError(t, NewCommand(ActionReload).Validate())

	bad := NewCommand("explode")
	assert.Error(t, bad.Validate())

	noID := &Command{Action: ActionStats}
	assert.Error(t, noID.Validate())
}

func TestDo_Reload(t *testing.T) {
	client, _ := setupTestClient(t)
	op := &fakeOperator{results: []instance.ReloadResult{
		{Key: partition.Authority, Stats: loader.Statistics{Compiled: 2, Failed: 1}},
		{Key: 4, Stats: loader.Statistics{Cached: 2}},
	}}
	startServer(t, client, op)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := client.Do(ctx, ActionReload)
	require.NoError(t, err)
	assert.True(t, reply.OK)
	require.Len(t, reply.Partitions, 2)
	assert.Equal(t, -1, reply.Partitions[0].Key)
	assert.Equal(t, 2, reply.Partitions[0].Compiled)
	assert.Equal(t, 1, reply.Partitions[0].Failed)
	assert.Equal(t, 4, reply.Partitions[1].Key)
	assert.Equal(t, 2, reply.Partitions[1].Cached)
	reloads, _ := op.counts()
	assert.Equal(t, 1, reloads)
}

func TestDo_ReloadFailureIsReported(t *testing.T) {
	client, _ := setupTestClient(t)
	op := &fakeOperator{results: []instance.ReloadResult{
		{Key: partition.Authority},
		{Key: 2, Err: errors.New("interpreter could not be created")},
	}}
	startServer(t, client, op)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := client.Do(ctx, ActionReload)
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.NotEmpty(t, reply.Error)
	assert.True(t, reply.Partitions[0].OK)
	assert.False(t, reply.Partitions[1].OK)
	assert.Contains(t, reply.Partitions[1].Error, "interpreter")
}

func TestDo_ClearCacheAndStats(t *testing.T) {
	client, _ := setupTestClient(t)
	op := &fakeOperator{stats: bytecode.Stats{Entries: 5, Hits: 9}}
	startServer(t, client, op)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := client.Do(ctx, ActionStats)
	require.NoError(t, err)
	require.NotNil(t, reply.Cache)
	assert.Equal(t, 5, reply.Cache.Entries)
	require.Len(t, reply.Runtimes, 1)
	assert.Equal(t, 3, reply.Runtimes[0].Scripts)

	reply, err = client.Do(ctx, ActionClearCache)
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, 0, reply.Cache.Entries)
	_, clears := op.counts()
	assert.Equal(t, 1, clears)
}

func TestDo_NoDaemon(t *testing.T) {
	client, _ := setupTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.Do(ctx, ActionStats)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no warren daemon")
}

func TestListener_ReportsMalformedCommands(t *testing.T) {
	client, mr := setupTestClient(t)
	listener := startServer(t, client, &fakeOperator{})

	mr.Publish(CommandChannel("test-instance"), "not json")

	select {
	case err := <-listener.Errors():
		assert.Contains(t, err.Error(), "failed to unmarshal command")
	case <-time.After(5 * time.Second):
		t.Fatal("expected an error for the malformed command")
	}
}

func TestListener_Close(t *testing.T) {
	client, _ := setupTestClient(t)
	listener, err := NewServer(client, &fakeOperator{}).Listen(context.Background())
	require.NoError(t, err)

	require.NoError(t, listener.Close())
	require.NoError(t, listener.Close())

	select {
	case <-listener.Done():
	default:
		t.Fatal("listener should be done after Close")
	}
}

func TestServer_InvalidCommandReplyFailure(t *testing.T) {
	client, mr := setupTestClient(t)
	server := NewServer(client, &fakeOperator{})

	payload := `{"id":"` + NewCommand(ActionReload).ID + `","action":"explode"}`
	err := server.handle(context.Background(), payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid command")
	assert.NotContains(t, err.Error(), "failed to publish reply")

	mr.Close()
	err = server.handle(context.Background(), payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid command")
	assert.Contains(t, err.Error(), "failed to publish reply")
}
