package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/iwbot/internal/wiki"
)

type fakeWiki struct {
	pages   map[string]wiki.Page
	records map[string]wiki.Record
	pageErr error
	calls   atomic.Int32
}

func (f *fakeWiki) FetchPage(_ context.Context, lang, title string) (wiki.Page, error) {
	f.calls.Add(1)
	if f.pageErr != nil {
		return wiki.Page{}, f.pageErr
	}
	p, ok := f.pages[lang+":"+title]
	if !ok {
		return wiki.Page{Lang: lang, Title: title}, nil
	}
	p.Exists = true
	return p, nil
}

func (f *fakeWiki) FetchIdentity(_ context.Context, lang, titleOrID string) (wiki.Record, error) {
	rec, ok := f.records[lang+":"+titleOrID]
	if !ok {
		return wiki.Record{}, wiki.ErrNoRecord
	}
	return rec, nil
}

type memBackend struct {
	mu      sync.Mutex
	rows    map[Key]Lookup
	expires map[Key]time.Time
}

func newMemBackend() *memBackend {
	return &memBackend{rows: map[Key]Lookup{}, expires: map[Key]time.Time{}}
}

func (b *memBackend) GetIdentity(_ context.Context, lang, title string, now time.Time) (Lookup, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := Key{lang, title}
	l, ok := b.rows[k]
	if !ok {
		return Lookup{}, false, nil
	}
	if exp := b.expires[k]; !exp.IsZero() && !exp.After(now) {
		return Lookup{}, false, nil
	}
	return l, true, nil
}

func (b *memBackend) PutIdentity(_ context.Context, lang, title string, l Lookup, expiresAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows[Key{lang, title}] = l
	b.expires[Key{lang, title}] = expiresAt
	return nil
}

func (b *memBackend) ClearIdentities(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = map[Key]Lookup{}
	b.expires = map[Key]time.Time{}
	return nil
}

func newFixture() *fakeWiki {
	return &fakeWiki{
		pages: map[string]wiki.Page{
			"en:Test Article": {Title: "Test Article", Text: "..."},
			"en:TA":           {Title: "TA", IsRedirect: true, RedirectTarget: "Test_Article"},
			"en:Orphan":       {Title: "Orphan"},
			"uk:Інша назва":   {Title: "Інша назва"},
		},
		records: map[string]wiki.Record{
			"en:Test Article": {ID: "Q1", Sitelinks: map[string]string{"en": "Test Article", "uk": "Інша назва"}},
			"uk:Інша назва":   {ID: "Q1", Sitelinks: map[string]string{"en": "Test Article", "uk": "Інша назва"}},
			"d:Q1":            {ID: "Q1", Sitelinks: map[string]string{"uk": "Інша назва"}},
		},
	}
}

func TestFetcher_Lookup(t *testing.T) {
	w := newFixture()
	f := NewFetcher(w, w, "uk")
	ctx := context.Background()

	tests := []struct {
		name  string
		lang  string
		title string
		want  Lookup
	}{
		{
			name:  "existing page with record",
			lang:  "en",
			title: "Test Article",
			want:  Lookup{Exists: true, IdentityID: "Q1", LocalEquivalent: "Інша назва"},
		},
		{
			name:  "redirect resolves target identity",
			lang:  "en",
			title: "TA",
			want: Lookup{
				Exists:                  true,
				RedirectTarget:          "Test Article",
				RedirectIdentityID:      "Q1",
				RedirectLocalEquivalent: "Інша назва",
			},
		},
		{
			name:  "page without record",
			lang:  "en",
			title: "Orphan",
			want:  Lookup{Exists: true},
		},
		{
			name:  "missing page",
			lang:  "en",
			title: "Nothing Here",
			want:  Lookup{},
		},
		{
			name:  "local page drops its own title",
			lang:  "uk",
			title: "Інша назва",
			want:  Lookup{Exists: true, IdentityID: "Q1"},
		},
		{
			name:  "registry id",
			lang:  "d",
			title: "Q1",
			want:  Lookup{Exists: true, IdentityID: "Q1", LocalEquivalent: "Інша назва"},
		},
		{
			name:  "unknown registry id",
			lang:  "d",
			title: "Q999",
			want:  Lookup{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Lookup(ctx, tt.lang, tt.title)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetcher_PropagatesNetworkErrors(t *testing.T) {
	w := newFixture()
	w.pageErr = errors.New("connection reset")
	f := NewFetcher(w, w, "uk")

	_, err := f.Lookup(context.Background(), "en", "Test Article")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestCache_MemoizesAndNormalizes(t *testing.T) {
	w := newFixture()
	c := NewCache(NewFetcher(w, w, "uk"), nil, Options{})
	ctx := context.Background()

	first, err := c.Get(ctx, "en", "test_Article")
	require.NoError(t, err)
	second, err := c.Get(ctx, "en", "Test Article")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "Q1", first.IdentityID)
	assert.Equal(t, int32(1), w.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCache_InvalidTitle(t *testing.T) {
	w := newFixture()
	c := NewCache(NewFetcher(w, w, "uk"), nil, Options{})

	for _, title := range []string{"", "   ", "A[b]", "x|y"} {
		_, err := c.Get(context.Background(), "en", title)
		require.Error(t, err, title)
		assert.True(t, IsInvalidTitle(err), title)
	}
	assert.Equal(t, int32(0), w.calls.Load())
}

func TestCanonicalKey_DropsSection(t *testing.T) {
	key, err := CanonicalKey("uk", "стаття#Розділ")
	require.NoError(t, err)
	assert.Equal(t, Key{"uk", "Стаття"}, key)

	_, err = CanonicalKey("uk", "#Розділ")
	assert.True(t, IsInvalidTitle(err))
}

func TestCache_SectionLinkUsesPage(t *testing.T) {
	w := newFixture()
	c := NewCache(NewFetcher(w, w, "uk"), nil, Options{})

	got, err := c.Get(context.Background(), "uk", "Інша назва#Історія")
	require.NoError(t, err)
	assert.True(t, got.Exists)
	assert.Equal(t, "Q1", got.IdentityID)
}

func TestCache_MemoryEntriesExpire(t *testing.T) {
	w := newFixture()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(NewFetcher(w, w, "uk"), nil, Options{
		PositiveTTL: 7 * 24 * time.Hour,
		NegativeTTL: 24 * time.Hour,
		Now:         func() time.Time { return now },
	})
	ctx := context.Background()

	got, err := c.Get(ctx, "uk", "Нова стаття")
	require.NoError(t, err)
	require.False(t, got.Exists)
	_, err = c.Get(ctx, "en", "Test Article")
	require.NoError(t, err)
	require.Equal(t, int32(2), w.calls.Load())

	// the page gets created; within the TTL the negative entry is still served
	w.pages["uk:Нова стаття"] = wiki.Page{Title: "Нова стаття"}
	now = now.Add(time.Hour)
	got, err = c.Get(ctx, "uk", "Нова стаття")
	require.NoError(t, err)
	assert.False(t, got.Exists)
	assert.Equal(t, int32(2), w.calls.Load())

	now = now.Add(48 * time.Hour)
	got, err = c.Get(ctx, "uk", "Нова стаття")
	require.NoError(t, err)
	assert.True(t, got.Exists)
	assert.Equal(t, int32(3), w.calls.Load())

	// the positive entry is still fresh
	_, err = c.Get(ctx, "en", "Test Article")
	require.NoError(t, err)
	assert.Equal(t, int32(3), w.calls.Load())
}

func TestCache_BackendExpiry(t *testing.T) {
	w := newFixture()
	backend := newMemBackend()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	opts := Options{
		PositiveTTL: 7 * 24 * time.Hour,
		NegativeTTL: time.Hour,
		Now:         func() time.Time { return now },
	}
	ctx := context.Background()

	c := NewCache(NewFetcher(w, w, "uk"), backend, opts)
	_, err := c.Get(ctx, "en", "Test Article")
	require.NoError(t, err)
	_, err = c.Get(ctx, "en", "Missing")
	require.NoError(t, err)
	require.Equal(t, int32(2), w.calls.Load())

	assert.Equal(t, now.Add(7*24*time.Hour), backend.expires[Key{"en", "Test Article"}])
	assert.Equal(t, now.Add(time.Hour), backend.expires[Key{"en", "Missing"}])

	// a fresh process two hours later: the negative entry has expired
	now = now.Add(2 * time.Hour)
	c = NewCache(NewFetcher(w, w, "uk"), backend, opts)
	_, err = c.Get(ctx, "en", "Test Article")
	require.NoError(t, err)
	assert.Equal(t, int32(2), w.calls.Load())
	_, err = c.Get(ctx, "en", "Missing")
	require.NoError(t, err)
	assert.Equal(t, int32(3), w.calls.Load())
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	w := newFixture()
	backend := newMemBackend()
	c := NewCache(NewFetcher(w, w, "uk"), backend, Options{})

	_, err := c.Get(context.Background(), "en", "Missing")
	require.NoError(t, err)
	assert.True(t, backend.expires[Key{"en", "Missing"}].IsZero())
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	w := newFixture()
	w.pageErr = errors.New("timeout")
	c := NewCache(NewFetcher(w, w, "uk"), nil, Options{})
	ctx := context.Background()

	_, err := c.Get(ctx, "en", "Test Article")
	require.Error(t, err)

	w.pageErr = nil
	got, err := c.Get(ctx, "en", "Test Article")
	require.NoError(t, err)
	assert.True(t, got.Exists)
}

func TestCache_PrefetchAndClear(t *testing.T) {
	w := newFixture()
	backend := newMemBackend()
	c := NewCache(NewFetcher(w, w, "uk"), backend, Options{Concurrency: 4})
	ctx := context.Background()

	keys := []Key{
		{"en", "Test Article"},
		{"en", "Test_Article"},
		{"en", "Orphan"},
		{"uk", "Інша назва"},
		{"en", "bad|title"},
	}
	require.NoError(t, c.Prefetch(ctx, keys))
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, int32(3), w.calls.Load())

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, backend.rows)
}

func TestLookup_Identities(t *testing.T) {
	assert.Empty(t, Lookup{Exists: true}.Identities())
	assert.Equal(t, []string{"Q1", "Q2"}, Lookup{IdentityID: "Q1", RedirectIdentityID: "Q2"}.Identities())
	assert.Equal(t, []string{"Q2"}, Lookup{RedirectIdentityID: "Q2"}.Identities())
	assert.False(t, Lookup{}.HasIdentity())
}
