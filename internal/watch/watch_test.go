package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/spoolscan/internal/filter"
	"github.com/dyluth/spoolscan/internal/publish"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

type fakeSource struct {
	events chan spooltag.ScanResult
	errs   chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan spooltag.ScanResult, 10), errs: make(chan error, 10)}
}

func (f *fakeSource) Events() <-chan spooltag.ScanResult { return f.events }
func (f *fakeSource) Errors() <-chan error                { return f.errs }

func bambuResult(uid string, started time.Time) spooltag.ScanResult {
	res := spooltag.Success(&spooltag.FilamentRecord{
		Format:       spooltag.FormatBambu,
		Manufacturer: "Bambu Lab",
		MaterialType: "PLA",
		MaterialName: "PLA Basic",
		Colors:       []string{"000000FF"},
	})
	res.TagUID = uid
	res.StartedAt = started
	return res
}

func TestFormatEvent(t *testing.T) {
	started := time.Date(2026, 3, 18, 9, 42, 5, 0, time.Local)

	tests := []struct {
		name     string
		result   spooltag.ScanResult
		expected string
	}{
		{
			name:     "success",
			result:   bambuResult("5A3C910E", started),
			expected: "[09:42:05] ✅ 5A3C910E bambu: Bambu Lab PLA Basic 000000FF",
		},
		{
			name:     "no tag",
			result:   spooltag.ScanResult{Kind: spooltag.ResultNoTag, StartedAt: started},
			expected: "[09:42:05] ⚪ - no_tag",
		},
		{
			name:     "authentication failed",
			result:   spooltag.ScanResult{Kind: spooltag.ResultAuthenticationFailed, TagUID: "01020304", StartedAt: started},
			expected: "[09:42:05] 🔒 01020304 authentication_failed",
		},
		{
			name:     "read error",
			result:   spooltag.ScanResult{Kind: spooltag.ResultReadError, Message: "scan timed out after 10s", StartedAt: started},
			expected: "[09:42:05] ❌ - read_error: scan timed out after 10s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatEvent(tt.result))
		})
	}
}

func TestStream(t *testing.T) {
	t.Run("writes matching results until the source closes", func(t *testing.T) {
		src := newFakeSource()
		now := time.Now()
		src.events <- bambuResult("5A3C910E", now)
		src.events <- spooltag.ScanResult{Kind: spooltag.ResultNoTag, StartedAt: now}
		src.events <- bambuResult("01020304", now)
		close(src.events)

		var out, errOut bytes.Buffer
		c := &filter.Criteria{Kind: spooltag.ResultSuccess}
		require.NoError(t, Stream(context.Background(), src, c, OutputFormatJSON, &out, &errOut))

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 2)
		var first spooltag.ScanResult
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
		assert.Equal(t, "5A3C910E", first.TagUID)
		assert.Empty(t, errOut.String())
	})

	t.Run("reports errors and keeps going", func(t *testing.T) {
		src := newFakeSource()
		src.errs <- errors.New("failed to unmarshal scan event")
		close(src.errs)

		ctx, cancel := context.WithCancel(context.Background())
		var out, errOut bytes.Buffer
		done := make(chan error, 1)
		go func() { done <- Stream(ctx, src, nil, OutputFormatDefault, &out, &errOut) }()

		src.events <- bambuResult("5A3C910E", time.Now())
		require.Eventually(t, func() bool { return len(src.events) == 0 }, time.Second, 10*time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("stream did not stop on cancel")
		}
		assert.Contains(t, errOut.String(), "failed to unmarshal scan event")
	})
}

func TestStream_FromPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	pub, err := publish.NewPublisher(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := pub.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- Stream(ctx, sub, nil, OutputFormatDefault, &out, &out) }()

	require.NoError(t, pub.Publish(context.Background(), bambuResult("5A3C910E", time.Now())))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "5A3C910E bambu: Bambu Lab PLA Basic")
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestPollForTag(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	pub, err := publish.NewPublisher(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	defer pub.Close()

	t.Run("returns result when found immediately", func(t *testing.T) {
		require.NoError(t, pub.Publish(ctx, bambuResult("0A0B0C0D", time.Now())))

		res, err := PollForTag(ctx, pub, "0A0B0C0D", nil, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "0A0B0C0D", res.TagUID)
	})

	t.Run("returns result when found after delay", func(t *testing.T) {
		go func() {
			time.Sleep(300 * time.Millisecond)
			pub.Publish(context.Background(), bambuResult("5A3C910E", time.Now()))
		}()

		start := time.Now()
		res, err := PollForTag(ctx, pub, "5a3c910e", nil, 2*time.Second)
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.Equal(t, spooltag.ResultSuccess, res.Kind)
		assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
		assert.Less(t, elapsed, 2*time.Second)
	})

	t.Run("ignores results that do not match", func(t *testing.T) {
		old := bambuResult("11223344", time.Now().Add(-time.Hour))
		require.NoError(t, pub.Publish(ctx, old))

		c := &filter.Criteria{Since: time.Now().Add(-time.Minute)}
		_, err := PollForTag(ctx, pub, "11223344", c, 300*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout waiting for tag 11223344")
	})

	t.Run("returns error on timeout", func(t *testing.T) {
		_, err := PollForTag(ctx, pub, "DEADBEEF", nil, 300*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := PollForTag(cctx, pub, "DEADBEEF", nil, 2*time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
