package properties

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBag_SetUsesSchema(t *testing.T) {
	b := NewBag(MediaSchema)

	b.Set("show", "Evening News").
		Set("publication_date", 1700000000).
		Set("auto_mode", true).
		Set("unregistered", 42)

	tests := []struct {
		key  string
		want any
	}{
		{"s:show", "Evening News"},
		{"d:publication_date", 1700000000},
		{"b:auto_mode", true},
		{"unregistered", 42},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := b.Get(tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := b.Get("show")
	assert.False(t, ok, "registered key must not be stored bare")
}

func TestBag_SetTypedOverridesSchema(t *testing.T) {
	b := NewBag(MediaSchema)
	b.SetTyped("show", 7, Number)

	v, ok := b.Get("n:show")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = b.Get("s:show")
	assert.False(t, ok)
}

func TestBag_SetAll(t *testing.T) {
	b := NewBag(MediaSchema)
	b.SetAll(map[string]any{
		"channel": "one",
		"other":   "x",
	})

	assert.Equal(t, 2, b.Len())
	v, _ := b.Get("s:channel")
	assert.Equal(t, "one", v)
	v, _ = b.Get("other")
	assert.Equal(t, "x", v)
}

func TestBag_CopyAllLastWriterWins(t *testing.T) {
	dst := NewBag(nil)
	dst.SetTyped("id", "old", String).SetTyped("keep", 1, Number)

	src := NewBag(nil)
	src.SetTyped("id", "new", String)

	dst.CopyAll(src)

	v, _ := dst.Get("s:id")
	assert.Equal(t, "new", v)
	v, _ = dst.Get("n:keep")
	assert.Equal(t, 1, v)

	// copying a bag into itself is a no-op rather than a deadlock
	dst.CopyAll(dst)
	assert.Equal(t, 2, dst.Len())
	assert.Same(t, dst, dst.CopyAll(nil))
}

func TestBag_SnapshotIsDetached(t *testing.T) {
	b := NewBag(nil)
	tags := []string{"a", "b"}
	b.SetTyped("tags", tags, StringArray)

	snap := b.Snapshot()
	tags[0] = "mutated"
	b.SetTyped("late", true, Boolean)

	assert.Equal(t, []string{"a", "b"}, snap["a:s:tags"])
	_, ok := snap["b:late"]
	assert.False(t, ok)
}

func TestBag_ConcurrentAccess(t *testing.T) {
	b := NewBag(MediaSchema)
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.SetTyped(fmt.Sprintf("k%d", n), j, Number)
				_ = b.Snapshot()
				_, _ = b.Get(fmt.Sprintf("n:k%d", n))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16, b.Len())
	for i := 0; i < 16; i++ {
		v, ok := b.Get(fmt.Sprintf("n:k%d", i))
		require.True(t, ok)
		assert.Equal(t, 99, v)
	}
}

func TestSchema_Merge(t *testing.T) {
	merged := MediaSchema.Merge(Schema{Number: {"show", "bitrate"}})

	b := NewBag(merged)
	b.Set("show", 3).
		Set("bitrate", 4500).
		Set("channel", "one").
		Set("publication_date", "2024-01-15")

	assert.Equal(t, map[string]any{
		"n:show":             3,
		"n:bitrate":          4500,
		"s:channel":          "one",
		"d:publication_date": "2024-01-15",
	}, b.Snapshot())

	// the receiver is left alone
	assert.Equal(t, map[string]any{"s:show": "x"}, NewBag(MediaSchema).Set("show", "x").Snapshot())
}

func TestSchema_IgnoresInvalidTypes(t *testing.T) {
	b := NewBag(Schema{Type("x"): {"weird"}})
	b.Set("weird", 1)

	v, ok := b.Get("weird")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}
