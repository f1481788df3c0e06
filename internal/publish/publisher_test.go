package publish

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// setupTestPublisher creates a publisher connected to a miniredis instance
func setupTestPublisher(t *testing.T, opts ...Option) (*Publisher, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	p, err := NewPublisher(&redis.Options{Addr: mr.Addr()}, "test-instance", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	return p, mr
}

func successResult(uid string) spooltag.ScanResult {
	res := spooltag.Success(&spooltag.FilamentRecord{
		Format:       spooltag.FormatBambu,
		Manufacturer: "Bambu Lab",
		MaterialType: "PLA",
		Colors:       []string{"000000FF"},
		TagUID:       uid,
	})
	res.ScanID = "scan-1"
	res.TagUID = uid
	res.FinalState = spooltag.StateCompleted
	return res
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "spoolscan:bench:tag:5A3C910E", TagKey("bench", "5a3c910e"))
	assert.Equal(t, "spoolscan:bench:scan_events", ScanEventsChannel("bench"))
}

func TestNewPublisher(t *testing.T) {
	t.Run("creates publisher successfully", func(t *testing.T) {
		p, _ := setupTestPublisher(t)
		assert.Equal(t, "test-instance", p.instanceName)
		assert.Equal(t, DefaultTTL, p.ttl)
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewPublisher(&redis.Options{Addr: "localhost:6379"}, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})

	t.Run("rejects invalid instance name", func(t *testing.T) {
		_, err := NewPublisher(&redis.Options{Addr: "localhost:6379"}, "Bench_1")
		assert.Error(t, err)
	})

	t.Run("rejects bad url", func(t *testing.T) {
		_, err := NewPublisherFromURL("http://nope", "bench")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid redis url")
	})

	t.Run("from url", func(t *testing.T) {
		mr := miniredis.RunT(t)
		p, err := NewPublisherFromURL("redis://"+mr.Addr()+"/0", "bench")
		require.NoError(t, err)
		defer p.Close()
		assert.NoError(t, p.Ping(context.Background()))
	})
}

func TestPing(t *testing.T) {
	p, mr := setupTestPublisher(t)
	assert.NoError(t, p.Ping(context.Background()))

	mr.Close()
	assert.Error(t, p.Ping(context.Background()))
}

func TestPublish(t *testing.T) {
	ctx := context.Background()

	t.Run("caches result under tag key with ttl", func(t *testing.T) {
		p, mr := setupTestPublisher(t, WithTTL(time.Hour))

		require.NoError(t, p.Publish(ctx, successResult("5A3C910E")))

		key := TagKey("test-instance", "5A3C910E")
		assert.True(t, mr.Exists(key))
		assert.Equal(t, time.Hour, mr.TTL(key))

		raw, err := mr.Get(key)
		require.NoError(t, err)
		var stored spooltag.ScanResult
		require.NoError(t, json.Unmarshal([]byte(raw), &stored))
		assert.Equal(t, spooltag.ResultSuccess, stored.Kind)
		assert.Equal(t, "Bambu Lab", stored.Record.Manufacturer)
	})

	t.Run("results without a tag are only published", func(t *testing.T) {
		p, mr := setupTestPublisher(t)

		res := spooltag.NoTag()
		res.ScanID = "scan-2"
		require.NoError(t, p.Publish(ctx, res))

		assert.Empty(t, mr.Keys())
	})

	t.Run("later result replaces earlier", func(t *testing.T) {
		p, _ := setupTestPublisher(t)

		require.NoError(t, p.Publish(ctx, successResult("5A3C910E")))
		failed := spooltag.ParsingError("bambu: invalid diameter")
		failed.TagUID = "5A3C910E"
		require.NoError(t, p.Publish(ctx, failed))

		latest, err := p.Latest(ctx, "5a3c910e")
		require.NoError(t, err)
		assert.Equal(t, spooltag.ResultParsingError, latest.Kind)
		assert.Nil(t, latest.Record)
	})

	t.Run("redis unavailable", func(t *testing.T) {
		p, mr := setupTestPublisher(t)
		mr.Close()

		err := p.Publish(ctx, successResult("5A3C910E"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to write tag result")
	})
}

func TestLatest(t *testing.T) {
	p, mr := setupTestPublisher(t)
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		res, err := p.Latest(ctx, "DEADBEEF")
		assert.Nil(t, res)
		assert.True(t, IsNotFound(err))
	})

	t.Run("expired", func(t *testing.T) {
		require.NoError(t, p.Publish(ctx, successResult("01020304")))
		mr.FastForward(DefaultTTL + time.Second)

		_, err := p.Latest(ctx, "01020304")
		assert.True(t, IsNotFound(err))
	})

	t.Run("corrupt value", func(t *testing.T) {
		require.NoError(t, mr.Set(TagKey("test-instance", "0A0B0C0D"), "{not json"))

		_, err := p.Latest(ctx, "0A0B0C0D")
		require.Error(t, err)
		assert.False(t, IsNotFound(err))
		assert.Contains(t, err.Error(), "failed to unmarshal")
	})
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("receives published results", func(t *testing.T) {
		p, _ := setupTestPublisher(t)

		sub, err := p.Subscribe(ctx)
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, p.Publish(ctx, successResult("5A3C910E")))

		select {
		case received := <-sub.Events():
			assert.Equal(t, "scan-1", received.ScanID)
			assert.Equal(t, spooltag.ResultSuccess, received.Kind)
			assert.Equal(t, "000000FF", received.Record.PrimaryColor())
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	})

	t.Run("undecodable message goes to errors", func(t *testing.T) {
		p, mr := setupTestPublisher(t)

		sub, err := p.Subscribe(ctx)
		require.NoError(t, err)
		defer sub.Close()

		mr.Publish(ScanEventsChannel("test-instance"), "garbage")

		select {
		case err := <-sub.Errors():
			assert.Contains(t, err.Error(), "failed to unmarshal scan event")
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for error")
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		p, _ := setupTestPublisher(t)

		sub, err := p.Subscribe(ctx)
		require.NoError(t, err)
		assert.NoError(t, sub.Close())
		assert.NoError(t, sub.Close())
	})

	t.Run("cleanup on context cancellation", func(t *testing.T) {
		p, _ := setupTestPublisher(t)
		cancelCtx, cancel := context.WithCancel(ctx)

		sub, err := p.Subscribe(cancelCtx)
		require.NoError(t, err)
		cancel()

		select {
		case _, ok := <-sub.Events():
			assert.False(t, ok, "channel should be closed")
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for channel close")
		}
	})
}

func TestInstanceNamespacing(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	p1, err := NewPublisher(&redis.Options{Addr: mr.Addr()}, "bench-1")
	require.NoError(t, err)
	defer p1.Close()
	p2, err := NewPublisher(&redis.Options{Addr: mr.Addr()}, "bench-2")
	require.NoError(t, err)
	defer p2.Close()

	sub2, err := p2.Subscribe(ctx)
	require.NoError(t, err)
	defer sub2.Close()

	require.NoError(t, p1.Publish(ctx, successResult("5A3C910E")))

	_, err = p2.Latest(ctx, "5A3C910E")
	assert.True(t, IsNotFound(err))

	select {
	case <-sub2.Events():
		t.Fatal("bench-2 should not receive events from bench-1")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestScanTags(t *testing.T) {
	p, mr := setupTestPublisher(t)
	ctx := context.Background()

	uids, err := p.ScanTags(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, uids)

	for _, uid := range []string{"5A3C910E", "5A3C0001", "04A1B2C3D4E5F6"} {
		require.NoError(t, p.Publish(ctx, successResult(uid)))
	}
	// Other instances and non-tag keys are ignored.
	mr.Set("spoolscan:other:tag:5A3C7777", "{}")
	mr.Set("spoolscan:test-instance:scan_events", "x")

	uids, err = p.ScanTags(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"04A1B2C3D4E5F6", "5A3C0001", "5A3C910E"}, uids)

	uids, err = p.ScanTags(ctx, "5a3c")
	require.NoError(t, err)
	assert.Equal(t, []string{"5A3C0001", "5A3C910E"}, uids)

	uids, err = p.ScanTags(ctx, "FFFF")
	require.NoError(t, err)
	assert.Empty(t, uids)

	assert.Equal(t, "test-instance", p.InstanceName())
}
