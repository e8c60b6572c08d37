package ebay

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAspectFetcher счетный источник схем аспектов
type fakeAspectFetcher struct {
	calls int32
	meta  *AspectMetadata
}

func (f *fakeAspectFetcher) GetItemAspects(ctx context.Context, categoryTreeID, categoryID string) (*AspectMetadata, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.meta, nil
}

func TestResolveCategory(t *testing.T) {
	ctx := context.Background()
	resolver := NewCategoryResolver(&fakeAspectFetcher{}, nil, testLogger(t), "0", "")

	t.Run("defaults to nonfiction", func(t *testing.T) {
		got := resolver.Resolve(ctx, "A History of Rome", map[string]string{"Genre": "History"})
		assert.Equal(t, CategoryNonfiction, got)
	})

	t.Run("audience signals select the children's category", func(t *testing.T) {
		for _, audience := range []string{"Children", "Young Adult", "ya", "Juvenile", "Teen", "Preschool"} {
			got := resolver.Resolve(ctx, "Some Book", map[string]string{"Intended Audience": audience})
			assert.Equal(t, CategoryChildrens, got, "audience %q", audience)
		}
	})

	t.Run("short keywords match whole words only", func(t *testing.T) {
		got := resolver.Resolve(ctx, "Some Book", map[string]string{"Intended Audience": "yacht owners"})
		assert.Equal(t, CategoryNonfiction, got)
	})

	t.Run("genre signals select the children's category", func(t *testing.T) {
		got := resolver.Resolve(ctx, "Some Book", map[string]string{"Genre": "Picture Book"})
		assert.Equal(t, CategoryChildrens, got)
	})

	t.Run("title signals select the children's category", func(t *testing.T) {
		got := resolver.Resolve(ctx, "The Children's Treasury of Verse", nil)
		assert.Equal(t, CategoryChildrens, got)
	})

	t.Run("configured override wins", func(t *testing.T) {
		overridden := NewCategoryResolver(&fakeAspectFetcher{}, nil, testLogger(t), "0", CategoryChildrens)
		got := overridden.Resolve(ctx, "A History of Rome", nil)
		assert.Equal(t, CategoryChildrens, got)
	})

	t.Run("override outside the closed set is ignored", func(t *testing.T) {
		overridden := NewCategoryResolver(&fakeAspectFetcher{}, nil, testLogger(t), "0", "12345")
		got := overridden.Resolve(ctx, "A History of Rome", nil)
		assert.Equal(t, CategoryNonfiction, got)
	})
}

func TestAspectSchemaIsCached(t *testing.T) {
	fetcher := &fakeAspectFetcher{meta: &AspectMetadata{
		Aspects: []AspectInfo{
			{LocalizedAspectName: "Author", AspectConstraint: AspectConstraint{AspectRequired: true}},
			{LocalizedAspectName: "Language"},
		},
	}}

	resolver := NewCategoryResolver(fetcher, nil, testLogger(t), "0", "")
	ctx := context.Background()

	first, err := resolver.AspectSchema(ctx, CategoryNonfiction)
	require.NoError(t, err)
	second, err := resolver.AspectSchema(ctx, CategoryNonfiction)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))

	allowed, err := resolver.AllowedAspects(ctx, CategoryNonfiction)
	require.NoError(t, err)
	assert.True(t, allowed["Author"])
	assert.True(t, allowed["Language"])
	assert.False(t, allowed["Genre"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
}

func TestForeignAndRequiredAspects(t *testing.T) {
	assert.True(t, ForeignAspects(CategoryNonfiction)["Genre"])
	assert.True(t, ForeignAspects(CategoryChildrens)["Binding"])
	assert.Nil(t, ForeignAspects("12345"))

	assert.Equal(t, []string{"Author", "Language", "Book Title"}, RequiredAspects(CategoryChildrens))
	assert.Nil(t, RequiredAspects(CategoryNonfiction))
}
