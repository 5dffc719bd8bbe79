package sqlite

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khanhnv2901/vela/internal/catalog"
	"github.com/khanhnv2901/vela/internal/domain/pattern"
	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

func seedPatterns(t *testing.T, repo *PatternRepository) {
	t.Helper()
	docs := "https://developers.google.com/tag-platform/tag-manager"
	entries := []pattern.Entry{
		{ID: "gtm", Name: "Google Tag Manager", Vendor: "Google", Category: pattern.CategoryTagManager, URLPatterns: []string{"*://www.googletagmanager.com/gtm.js*"}, DocsURL: &docs, Active: true},
		{ID: "ga4", Name: "Google Analytics 4", Vendor: "Google", Category: pattern.CategoryAnalytics, URLPatterns: []string{"*://www.googletagmanager.com/gtag/js*"}, Active: true},
		{ID: "hotjar", Name: "Hotjar", Vendor: "Contentsquare", Category: pattern.CategoryAnalytics, URLPatterns: []string{"*://static.hotjar.com/*"}, Active: true},
	}
	for _, e := range entries {
		require.NoError(t, repo.Create(context.Background(), e))
	}
}

func TestPatternRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewPatternRepository(openMemory(t))
	seedPatterns(t, repo)

	got, err := repo.Get(ctx, "gtm")
	require.NoError(t, err)
	assert.Equal(t, "Google Tag Manager", got.Name)
	require.NotNil(t, got.DocsURL)
	assert.Equal(t, []string{}, got.KnownIssues)
	assert.True(t, got.Active)

	err = repo.Create(ctx, pattern.Entry{ID: "gtm", Name: "x", Vendor: "x", Category: pattern.CategoryOther, URLPatterns: []string{"*"}})
	assert.ErrorIs(t, err, sharedErrors.ErrDuplicatePattern)

	err = repo.Create(ctx, pattern.Entry{ID: "bad", Name: "x", Vendor: "x", Category: pattern.CategoryOther})
	assert.ErrorIs(t, err, sharedErrors.ErrEmptyURLPatterns)

	updated := *got
	updated.Name = "GTM"
	require.NoError(t, repo.Upsert(ctx, updated))
	got, err = repo.Get(ctx, "gtm")
	require.NoError(t, err)
	assert.Equal(t, "GTM", got.Name)

	require.NoError(t, repo.Delete(ctx, "gtm"))
	_, err = repo.Get(ctx, "gtm")
	assert.ErrorIs(t, err, sharedErrors.ErrPatternNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "gtm"), sharedErrors.ErrPatternNotFound)
}

func TestPatternRepositoryListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewPatternRepository(openMemory(t))
	seedPatterns(t, repo)

	all, total, err := repo.List(ctx, pattern.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, "Google Analytics 4", all[0].Name)

	analytics, total, err := repo.List(ctx, pattern.Filter{Category: pattern.CategoryAnalytics})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, analytics, 2)

	google, _, err := repo.List(ctx, pattern.Filter{Vendor: "google"})
	require.NoError(t, err)
	assert.Len(t, google, 2)

	search, _, err := repo.List(ctx, pattern.Filter{Search: "JAR"})
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.Equal(t, "hotjar", search[0].ID)

	page, total, err := repo.List(ctx, pattern.Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "Google Tag Manager", page[0].Name)

	require.NoError(t, repo.Deactivate(ctx, "hotjar"))
	_, total, err = repo.List(ctx, pattern.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	_, total, err = repo.List(ctx, pattern.Filter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestPatternRepositoryCatalogOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewPatternRepository(openMemory(t))
	seedPatterns(t, repo)

	ordered, _, err := repo.List(ctx, pattern.Filter{CatalogOrder: true})
	require.NoError(t, err)
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"gtm", "ga4", "hotjar"}, []string{ordered[0].ID, ordered[1].ID, ordered[2].ID})

	// an in-place update keeps the entry where it was
	first := ordered[0]
	first.Name = "Tag Manager"
	require.NoError(t, repo.Upsert(ctx, first))
	ordered, _, err = repo.List(ctx, pattern.Filter{CatalogOrder: true})
	require.NoError(t, err)
	assert.Equal(t, "gtm", ordered[0].ID)
	assert.Equal(t, "Tag Manager", ordered[0].Name)
}

func TestStoredCatalogMatchesEmbedded(t *testing.T) {
	ctx := context.Background()
	repo := NewPatternRepository(openMemory(t))

	defaults, err := catalog.DefaultEntries()
	require.NoError(t, err)
	for _, e := range defaults {
		require.NoError(t, repo.Upsert(ctx, e))
	}

	embedded, err := catalog.Default()
	require.NoError(t, err)

	stored, _, err := repo.List(ctx, pattern.Filter{CatalogOrder: true})
	require.NoError(t, err)
	fromStore := catalog.Build(stored, nil)
	require.Equal(t, embedded.Len(), fromStore.Len())

	urls := []string{"https://cdn.jsdelivr.net/npm/bootstrapx/dist/js/bootstrap.min.js"}
	for _, e := range defaults {
		for _, p := range e.URLPatterns {
			urls = append(urls, strings.ReplaceAll(strings.Replace(p, "*", "https", 1), "*", "x"))
		}
	}
	for _, u := range urls {
		want, got := embedded.Match(u), fromStore.Match(u)
		require.Equal(t, want.Identified(), got.Identified(), u)
		if want.Identified() {
			assert.Equal(t, want.Entry.ID, got.Entry.ID, u)
		}
	}
}
