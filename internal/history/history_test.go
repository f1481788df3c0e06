package history

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/spoolscan/internal/filter"
	"github.com/dyluth/spoolscan/internal/publish"
	"github.com/dyluth/spoolscan/internal/resolver"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

func setupStore(t *testing.T) (*publish.Publisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	pub, err := publish.NewPublisher(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { pub.Close() })
	return pub, mr
}

func record(uid, material string, started time.Time) spooltag.ScanResult {
	res := spooltag.Success(&spooltag.FilamentRecord{
		Format:       spooltag.FormatBambu,
		Manufacturer: "Bambu Lab",
		MaterialType: material,
		Colors:       []string{"FF6A13FF"},
		TagUID:       uid,
	})
	res.TagUID = uid
	res.StartedAt = started
	return res
}

func TestListTags(t *testing.T) {
	ctx := context.Background()

	t.Run("empty cache - default format", func(t *testing.T) {
		pub, _ := setupStore(t)

		var out, errOut bytes.Buffer
		require.NoError(t, ListTags(ctx, pub, "test-instance", OutputFormatDefault, nil, &out, &errOut))
		assert.Contains(t, out.String(), "No tags found for instance 'test-instance'")
	})

	t.Run("empty cache - JSON format", func(t *testing.T) {
		pub, _ := setupStore(t)

		var out, errOut bytes.Buffer
		require.NoError(t, ListTags(ctx, pub, "test-instance", OutputFormatJSON, nil, &out, &errOut))
		assert.Empty(t, out.String())
	})

	t.Run("table sorted by scan time", func(t *testing.T) {
		pub, _ := setupStore(t)
		now := time.Now()
		require.NoError(t, pub.Publish(ctx, record("5A3C910E", "PETG", now.Add(-2*time.Hour))))
		require.NoError(t, pub.Publish(ctx, record("01020304", "PLA", now.Add(-5*time.Minute))))
		noTag := spooltag.AuthenticationFailed()
		noTag.TagUID = "DEADBEEF"
		noTag.StartedAt = now
		require.NoError(t, pub.Publish(ctx, noTag))

		var out, errOut bytes.Buffer
		require.NoError(t, ListTags(ctx, pub, "test-instance", OutputFormatDefault, nil, &out, &errOut))

		s := out.String()
		assert.Less(t, strings.Index(s, "5A3C910E"), strings.Index(s, "01020304"))
		assert.Less(t, strings.Index(s, "01020304"), strings.Index(s, "DEADBEEF"))
		assert.Contains(t, s, "#FF6A13")
		assert.Contains(t, s, "2h ago")
		assert.Contains(t, s, "authentication_failed")
		assert.Contains(t, s, "3 tags found")
	})

	t.Run("filters and skips malformed entries", func(t *testing.T) {
		pub, mr := setupStore(t)
		now := time.Now()
		require.NoError(t, pub.Publish(ctx, record("5A3C910E", "PETG", now)))
		require.NoError(t, pub.Publish(ctx, record("01020304", "PLA", now)))
		mr.Set(publish.TagKey("test-instance", "0BADBEEF"), "not json")

		var out, errOut bytes.Buffer
		c := &filter.Criteria{MaterialGlob: "pet*"}
		require.NoError(t, ListTags(ctx, pub, "test-instance", OutputFormatJSON, c, &out, &errOut))

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 1)
		var res spooltag.ScanResult
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &res))
		assert.Equal(t, "5A3C910E", res.TagUID)
		assert.Contains(t, errOut.String(), "Skipping tag 0BADBEEF")
	})

	t.Run("unknown format", func(t *testing.T) {
		pub, _ := setupStore(t)
		err := ListTags(ctx, pub, "test-instance", OutputFormat("yaml"), nil, &bytes.Buffer{}, &bytes.Buffer{})
		require.Error(t, err)
	})
}

func TestGetTag(t *testing.T) {
	ctx := context.Background()
	pub, _ := setupStore(t)
	require.NoError(t, pub.Publish(ctx, record("5A3C910E", "PLA", time.Now())))
	require.NoError(t, pub.Publish(ctx, record("5A3C0001", "PLA", time.Now())))

	t.Run("resolves prefix", func(t *testing.T) {
		res, err := GetTag(ctx, pub, "5a3c91")
		require.NoError(t, err)
		assert.Equal(t, "5A3C910E", res.TagUID)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := GetTag(ctx, pub, "DEADBEEF")
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := GetTag(ctx, pub, "5A3C")
		require.Error(t, err)
		assert.True(t, resolver.IsAmbiguousError(err))
		assert.False(t, IsNotFound(err))
	})
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "-", formatFormat(nil))
	assert.Equal(t, "-", formatMaterial(nil))
	assert.Equal(t, "-", formatColour(nil))
	assert.Equal(t, "-", formatAge(time.Time{}))

	r := &spooltag.FilamentRecord{MaterialType: "PLA", MaterialName: "PLA Silk+ Dual Colour Gradient", Colors: []string{"00AE42"}}
	assert.Equal(t, "PLA Silk+ Dual ...", formatMaterial(r))
	assert.Equal(t, "00AE42", formatColour(r))

	assert.Equal(t, "3d ago", formatAge(time.Now().Add(-73*time.Hour)))
	assert.Equal(t, "10m ago", formatAge(time.Now().Add(-10*time.Minute-time.Second)))
}
