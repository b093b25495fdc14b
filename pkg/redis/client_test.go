package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creatorpay-backend/pkg/config"
)

func TestIncrWithTTLArmsExpiryOnce(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCommands()
	client := &Client{store: fake}

	for want := int64(1); want <= 3; want++ {
		n, err := client.IncrWithTTL(ctx, "cp:rl:ip:tips:1.2.3.4", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, []time.Duration{time.Minute}, fake.ttls["cp:rl:ip:tips:1.2.3.4"])
}

func TestIncrWithTTLLoadsScriptWhenMissing(t *testing.T) {
	fake := newFakeCommands()
	fake.noScript = true
	client := &Client{store: fake}

	n, err := client.IncrWithTTL(context.Background(), "k", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, fake.evals)
}

func TestIncrWithTTLWrapsErrors(t *testing.T) {
	fake := newFakeCommands()
	fake.err = errors.New("connection reset")
	client := &Client{store: fake}

	_, err := client.IncrWithTTL(context.Background(), "k", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incr k")
}

func TestSetNXFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newFakeCommands()}
	k := client.IdempotencyKey("tips", "abc")

	first, err := client.SetNX(ctx, k, "1", time.Minute)
	require.NoError(t, err)
	second, err := client.SetNX(ctx, k, "2", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	require.NoError(t, client.Del(ctx, k))
	_, err = client.Get(ctx, k)
	assert.ErrorIs(t, err, redis.Nil)
	assert.NoError(t, client.Del(ctx))
}

func TestZeroClientReportsNotConnected(t *testing.T) {
	client := &Client{}
	ctx := context.Background()
	_, err := client.SetNX(ctx, "k", "v", time.Second)
	assert.ErrorIs(t, err, errNotConnected)
	_, err = client.IncrWithTTL(ctx, "k", time.Second)
	assert.ErrorIs(t, err, errNotConnected)
	assert.ErrorIs(t, client.Ping(ctx), errNotConnected)
	assert.NoError(t, client.Close())
}

func TestKeys(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "cp:idempotency:tips:id", client.IdempotencyKey("tips", "id"))
	assert.Equal(t, "cp:lock:cron-worker:prod", client.LockKey("cron-worker:prod"))
	assert.Equal(t, "cp:dedupe:ledger", client.DedupeKey("ledger", " "))
}

func TestOptions(t *testing.T) {
	_, err := options(config.RedisConfig{})
	assert.Error(t, err)

	opts, err := options(config.RedisConfig{URL: "redis://:secret@cache:6380/2", PoolSize: 20, DialTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 20, opts.PoolSize)
	assert.Equal(t, time.Second, opts.DialTimeout)

	opts, err = options(config.RedisConfig{Address: "localhost:6379", DB: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, opts.DB)
}

type noScriptError struct{}

func (noScriptError) Error() string { return "NOSCRIPT No matching script" }

func (noScriptError) RedisError() {}

// fakeCommands runs the Lua scripts natively. A string argument means the
// compare-and-delete script, an int64 the windowed incr.
type fakeCommands struct {
	data     map[string]string
	counters map[string]int64
	ttls     map[string][]time.Duration
	noScript bool
	evals    int
	err      error
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{
		data:     map[string]string{},
		counters: map[string]int64{},
		ttls:     map[string][]time.Duration{},
	}
}

func (f *fakeCommands) script(keys []string, args []any) *redis.Cmd {
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	k := keys[0]
	if want, ok := args[0].(string); ok {
		if v, held := f.data[k]; held && v == want {
			delete(f.data, k)
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	}
	f.counters[k]++
	if ms := args[0].(int64); f.counters[k] == 1 && ms > 0 {
		f.ttls[k] = append(f.ttls[k], time.Duration(ms)*time.Millisecond)
	}
	return redis.NewCmdResult(f.counters[k], nil)
}

func (f *fakeCommands) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	f.evals++
	return f.script(keys, args)
}

func (f *fakeCommands) EvalSha(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	if f.noScript {
		return redis.NewCmdResult(nil, noScriptError{})
	}
	return f.script(keys, args)
}

func (f *fakeCommands) EvalRO(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeCommands) EvalShaRO(ctx context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	return f.EvalSha(ctx, sha, keys, args...)
}

func (f *fakeCommands) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeCommands) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func (f *fakeCommands) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeCommands) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeCommands) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCommands) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCommands) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestDelIfEqualOnlyDeletesOwnValue(t *testing.T) {
	fake := newFakeCommands()
	c := &Client{store: fake}
	ctx := context.Background()
	fake.data["cp:lock:cron"] = "owner-b"

	deleted, err := c.DelIfEqual(ctx, "cp:lock:cron", "owner-a")
	if err != nil || deleted {
		t.Fatalf("stale owner must not delete, deleted=%v err=%v", deleted, err)
	}
	if _, ok := fake.data["cp:lock:cron"]; !ok {
		t.Fatalf("key was removed")
	}

	deleted, err = c.DelIfEqual(ctx, "cp:lock:cron", "owner-b")
	if err != nil || !deleted {
		t.Fatalf("owner should delete, deleted=%v err=%v", deleted, err)
	}
	if _, err := (&Client{}).DelIfEqual(ctx, "k", "v"); err == nil {
		t.Fatalf("expected error without connection")
	}
}
