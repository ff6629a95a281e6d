package infra

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScrollSource(t *testing.T) {
	ctx := context.Background()
	page := newFakePage()
	page.html = articlesHTML
	height := 1000.0
	page.returns("prepare", "list")
	page.on("extent", func(string) (any, error) { return height, nil })
	page.on("advance", func(string) (any, error) {
		height += 500
		return height, nil
	})
	page.returns("fallback", 2)
	dir := NewContactDirectory()
	source := NewScrollSource(page, dir, zap.NewNop())

	require.NoError(t, source.Prepare(ctx))

	extent, err := source.Extent(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), extent)

	require.NoError(t, source.Advance(ctx))
	extent, err = source.Extent(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), extent)

	require.NoError(t, source.AdvanceFallback(ctx))
	assert.Equal(t, 1, page.count("fallback"))

	contacts, err := source.ScanVisible(ctx)
	require.NoError(t, err)
	assert.Len(t, contacts, 3)
	_, ok := dir.Name("ken.thompson")
	assert.True(t, ok)
}

func TestScrollSource_Errors(t *testing.T) {
	ctx := context.Background()
	page := newFakePage()
	page.returns("prepare", "")
	page.on("extent", func(string) (any, error) { return nil, errPage })
	page.htmlErr = errPage
	source := NewScrollSource(page, nil, zap.NewNop())

	assert.Error(t, source.Prepare(ctx))

	_, err := source.Extent(ctx)
	assert.ErrorIs(t, err, errPage)

	// Scripts the page does not know fail like a detached tab would.
	assert.Error(t, source.Advance(ctx))
	assert.Error(t, source.AdvanceFallback(ctx))

	_, err = source.ScanVisible(ctx)
	assert.ErrorIs(t, err, errPage)
}
