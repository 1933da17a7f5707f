package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot/kernel/store"
)

func TestStore_ListRecentOrdersNewestFirstAndExcludesForgotten(t *testing.T) {
	s := New()
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, s.SaveRecord(ctx, store.Record{ID: "old", CreatedAt: base}))
	require.NoError(t, s.SaveRecord(ctx, store.Record{ID: "new", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.SaveRecord(ctx, store.Record{ID: "forgotten", CreatedAt: base.Add(2 * time.Minute)}))
	require.NoError(t, s.MarkForgotten(ctx, "forgotten"))

	out, err := s.ListRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "new", out[0].ID)
	assert.Equal(t, "old", out[1].ID)
}

func TestStore_ListRecentRespectsLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveRecord(ctx, store.Record{ID: string(rune('a' + i)), CreatedAt: time.Now().UTC()}))
	}

	out, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}
