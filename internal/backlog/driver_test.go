package backlog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/MimeLyc/iwbot/internal/identity"
	"github.com/MimeLyc/iwbot/internal/ledger"
	"github.com/MimeLyc/iwbot/internal/resolver"
	"github.com/MimeLyc/iwbot/internal/wiki"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeWiki serves pages, identity records, listings and saves.
type fakeWiki struct {
	mu       sync.Mutex
	pages    map[string]wiki.Page
	records  map[string]wiki.Record
	failing  map[string]error
	saves    map[string]string
	saveErr  error
	onFetch  func(title string)
	search   []string
	category []string
}

func newFakeWiki() *fakeWiki {
	return &fakeWiki{
		pages:   map[string]wiki.Page{},
		records: map[string]wiki.Record{},
		failing: map[string]error{},
		saves:   map[string]string{},
	}
}

func (f *fakeWiki) page(lang, title, text string) {
	f.pages[lang+":"+title] = wiki.Page{Lang: lang, Title: title, Text: text, Exists: true}
}

func (f *fakeWiki) record(lang, title, id string, sitelinks map[string]string) {
	f.records[lang+":"+title] = wiki.Record{ID: id, Sitelinks: sitelinks}
}

func (f *fakeWiki) FetchPage(ctx context.Context, lang, title string) (wiki.Page, error) {
	if f.onFetch != nil {
		f.onFetch(title)
	}
	if err := ctx.Err(); err != nil {
		return wiki.Page{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing[lang+":"+title]; err != nil {
		return wiki.Page{}, err
	}
	if text, ok := f.saves[title]; ok && lang == "uk" {
		return wiki.Page{Lang: lang, Title: title, Text: text, Exists: true}, nil
	}
	p, ok := f.pages[lang+":"+title]
	if !ok {
		return wiki.Page{Lang: lang, Title: title}, nil
	}
	return p, nil
}

func (f *fakeWiki) FetchIdentity(_ context.Context, lang, title string) (wiki.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[lang+":"+title]
	if !ok {
		return wiki.Record{}, wiki.ErrNoRecord
	}
	return rec, nil
}

func (f *fakeWiki) SavePage(_ context.Context, lang, title, text, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves[title] = text
	return nil
}

func (f *fakeWiki) saved(title string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.saves[title]
	return text, ok
}

func (f *fakeWiki) Search(context.Context, string, string, []int) ([]string, error) {
	return f.search, nil
}

func (f *fakeWiki) CategoryMembers(context.Context, string, string) ([]string, error) {
	return f.category, nil
}

func (f *fakeWiki) Backlinks(context.Context, string, string) ([]string, error) {
	return nil, nil
}

type memStore struct {
	mu       sync.Mutex
	states   map[string]State
	problems []ledger.Entry
	passes   map[string]PassRecord
}

func newMemStore() *memStore {
	return &memStore{states: map[string]State{}, passes: map[string]PassRecord{}}
}

func (s *memStore) SaveBacklog(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Pass] = state
	return nil
}

func (s *memStore) LoadBacklog(_ context.Context, pass string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[pass]
	return st, ok, nil
}

func (s *memStore) ReplaceProblems(_ context.Context, entries []ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.problems = entries
	return nil
}

func (s *memStore) LoadProblems(context.Context) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.problems, nil
}

func (s *memStore) RecordPass(_ context.Context, rec PassRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes[rec.ID] = rec
	return nil
}

func (s *memStore) ListPasses(context.Context, int) ([]PassRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]PassRecord, 0, len(s.passes))
	for _, p := range s.passes {
		ret = append(ret, p)
	}
	return ret, nil
}

type fixture struct {
	wiki   *fakeWiki
	store  *memStore
	cache  *identity.Cache
	ledger *ledger.Ledger
	driver *Driver
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	w := newFakeWiki()
	cache := identity.NewCache(identity.NewFetcher(w, w, "uk"), nil, identity.Options{Concurrency: 2})
	res := resolver.New(cache, resolver.Options{LocalLang: "uk"})
	l := ledger.New(nil)
	store := newMemStore()
	if opts.Lang == "" {
		opts.Lang = "uk"
	}
	return &fixture{
		wiki:   w,
		store:  store,
		cache:  cache,
		ledger: l,
		driver: NewDriver(w, w, cache, res, l, store, opts),
	}
}

func TestDriver_ConflictAnnotatedExactlyOnce(t *testing.T) {
	f := newFixture(t, Options{Annotate: true})
	f.wiki.page("en", "Test Article", "...")
	f.wiki.record("en", "Test Article", "X", map[string]string{"en": "Test Article", "uk": "Інша назва"})
	original := "Див. {{Не перекладено|Тестова стаття||en|Test Article}} тут."
	f.wiki.page("uk", "Сторінка", original)

	ctx := context.Background()
	res, err := f.driver.ProcessPage(ctx, "Сторінка")
	require.NoError(t, err)
	require.Len(t, res.Problems, 1)
	assert.Contains(t, res.Problems[0], "перекладена як [[Інша назва]], хоча хотіли [[Тестова стаття]]")
	assert.True(t, res.Saved)

	saved, ok := f.wiki.saved("Сторінка")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(saved, "Див. {{Не перекладено|Тестова стаття||en|Test Article}}<!-- Проблема з шаблоном Не перекладено: "))
	assert.Equal(t, 1, strings.Count(saved, annotationPrefix))

	// a rerun on the annotated text changes nothing
	res, err = f.driver.ProcessPage(ctx, "Сторінка")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	again, _ := f.wiki.saved("Сторінка")
	assert.Equal(t, saved, again)

	e, ok := f.ledger.Get("Сторінка")
	require.True(t, ok)
	assert.Len(t, e.Messages, 1)
}

func TestDriver_ReplaceDropsStaleAnnotation(t *testing.T) {
	f := newFixture(t, Options{Annotate: true})
	f.wiki.page("en", "Test Article", "...")
	f.wiki.record("en", "Test Article", "X", map[string]string{"uk": "Тестова стаття"})
	f.wiki.page("uk", "Тестова стаття", "...")
	f.wiki.record("uk", "Тестова стаття", "X", map[string]string{"uk": "Тестова стаття"})
	f.wiki.page("uk", "Сторінка",
		"А {{Нп|Тестова стаття|статті|en|Test Article}}"+annotation("стара")+" Б {{нп|Тестова стаття|||Test Article}}")

	res, err := f.driver.ProcessPage(context.Background(), "Сторінка")
	require.NoError(t, err)
	assert.Empty(t, res.Problems)
	assert.Equal(t, "А [[Тестова стаття|статті]] Б [[Тестова стаття]]", res.NewText)
}

func TestDriver_ProblemsDoNotBlockOtherOccurrences(t *testing.T) {
	f := newFixture(t, Options{})
	f.wiki.page("en", "Good", "...")
	f.wiki.record("en", "Good", "Q1", nil)
	f.wiki.page("uk", "Добре", "...")
	f.wiki.record("uk", "Добре", "Q1", nil)
	f.wiki.failing["en:Flaky"] = errors.New("connection reset")
	f.wiki.page("uk", "Сторінка", "{{Нп|Погано|||Flaky}} {{Нп|Добре|||Good}} {{Нп|Ой||xx|Oops}}")

	res, err := f.driver.ProcessPage(context.Background(), "Сторінка")
	require.NoError(t, err)
	require.Len(t, res.Problems, 2)
	assert.Contains(t, res.Problems[0], "[[:en:Flaky]]")
	assert.Contains(t, res.Problems[1], "\"xx\"")
	assert.Equal(t, "{{Нп|Погано|||Flaky}} [[Добре]] {{Нп|Ой||xx|Oops}}", res.NewText)
	assert.True(t, res.Saved)
}

func TestDriver_LookupFailureIsNotWrittenToPage(t *testing.T) {
	f := newFixture(t, Options{Annotate: true})
	f.wiki.failing["en:Something"] = errors.New("connection reset")
	original := "Текст {{Нп|Щось|||Something}} кінець"
	f.wiki.page("uk", "Сторінка", original)

	res, err := f.driver.ProcessPage(context.Background(), "Сторінка")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.False(t, res.Saved)
	assert.Empty(t, f.wiki.saves)

	e, ok := f.ledger.Get("Сторінка")
	require.True(t, ok)
	assert.Equal(t, []string{"Не вдалося перевірити [[:en:Something]], спробуємо пізніше"}, e.Messages)
}

func TestDriver_LookupFailureKeepsOtherEdits(t *testing.T) {
	f := newFixture(t, Options{Annotate: true})
	f.wiki.page("en", "Good", "...")
	f.wiki.record("en", "Good", "Q1", nil)
	f.wiki.page("uk", "Добре", "...")
	f.wiki.record("uk", "Добре", "Q1", nil)
	f.wiki.failing["en:Something"] = errors.New("connection reset")
	f.wiki.page("uk", "Сторінка", "{{Нп|Щось|||Something}} {{Нп|Добре|||Good}}")

	res, err := f.driver.ProcessPage(context.Background(), "Сторінка")
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, "{{Нп|Щось|||Something}} [[Добре]]", res.NewText)
	assert.NotContains(t, res.NewText, annotationPrefix)
}

func TestDriver_NoActionClearsAnnotation(t *testing.T) {
	f := newFixture(t, Options{Annotate: true})
	f.wiki.page("en", "Something", "...")
	f.wiki.record("en", "Something", "Q7", map[string]string{"en": "Something", "uk": "Інше"})
	f.wiki.page("uk", "Сторінка", "Текст {{Нп|Щось|||Something}} кінець")
	ctx := context.Background()

	_, err := f.driver.ProcessPage(ctx, "Сторінка")
	require.NoError(t, err)
	annotated, ok := f.wiki.saved("Сторінка")
	require.True(t, ok)
	require.Contains(t, annotated, "перекладена як [[Інше]]")

	// the wrong sitelink gets removed
	f.wiki.record("en", "Something", "Q7", map[string]string{"en": "Something"})
	require.NoError(t, f.cache.Clear(ctx))

	res, err := f.driver.ProcessPage(ctx, "Сторінка")
	require.NoError(t, err)
	assert.Empty(t, res.Problems)
	assert.True(t, res.Saved)
	text, _ := f.wiki.saved("Сторінка")
	assert.Equal(t, "Текст {{Нп|Щось|||Something}} кінець", text)
	_, ok = f.ledger.Get("Сторінка")
	assert.False(t, ok)
}

func TestDriver_UnfinishedPageIsNotCounted(t *testing.T) {
	f := newFixture(t, Options{})
	f.wiki.page("en", "Good", "...")
	f.wiki.record("en", "Good", "Q1", nil)
	f.wiki.page("uk", "Добре", "...")
	f.wiki.record("uk", "Добре", "Q1", nil)
	f.wiki.page("uk", "Сторінка", "{{Нп|Добре|||Good}}")
	f.wiki.saveErr = context.Canceled

	_, err := f.driver.ProcessPage(context.Background(), "Сторінка")
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.driver.resolver.Counter().Len())

	f.wiki.saveErr = nil
	_, err = f.driver.ProcessPage(context.Background(), "Сторінка")
	require.NoError(t, err)
	assert.Equal(t, []resolver.Count{{Lang: "en", Title: "Good", N: 1}}, f.driver.resolver.Counter().Snapshot())
}

func TestDriver_SkipsPages(t *testing.T) {
	f := newFixture(t, Options{
		SkipPrefixes:        []string{"Користувач:"},
		ManualEditTemplates: []string{"Редагую"},
	})
	f.wiki.page("uk", "Користувач:Бот", "{{Нп|Щось}}")
	f.wiki.page("uk", "Редагована", "{{редагую}} {{Нп|Щось}}")
	f.wiki.pages["uk:Перенаправлення"] = wiki.Page{Title: "Перенаправлення", Exists: true, IsRedirect: true, Text: "#REDIRECT [[Київ]]"}
	f.ledger.Record("Редагована", "стара")

	for _, title := range []string{"Користувач:Бот", "Редагована", "Перенаправлення", "Відсутня"} {
		res, err := f.driver.ProcessPage(context.Background(), title)
		require.NoError(t, err)
		assert.True(t, res.Skipped, title)
	}
	assert.Equal(t, 0, f.ledger.Len())
	assert.Empty(t, f.wiki.saves)
}

func TestDriver_FetchFailureIsLedgered(t *testing.T) {
	f := newFixture(t, Options{})
	f.wiki.failing["uk:Зламана"] = errors.New("timeout")

	res, err := f.driver.ProcessPage(context.Background(), "Зламана")
	require.NoError(t, err)
	assert.Len(t, res.Problems, 1)
	_, ok := f.ledger.Get("Зламана")
	assert.True(t, ok)
}

func TestDriver_SaveFailureIsLedgered(t *testing.T) {
	f := newFixture(t, Options{})
	f.wiki.page("en", "Good", "...")
	f.wiki.record("en", "Good", "Q1", nil)
	f.wiki.page("uk", "Добре", "...")
	f.wiki.record("uk", "Добре", "Q1", nil)
	f.wiki.page("uk", "Захищена", "{{Нп|Добре|||Good}}")
	f.wiki.saveErr = &wiki.SaveError{Code: wiki.SaveProtected, Title: "Захищена"}

	res, err := f.driver.ProcessPage(context.Background(), "Захищена")
	require.NoError(t, err)
	assert.False(t, res.Saved)
	e, ok := f.ledger.Get("Захищена")
	require.True(t, ok)
	assert.Equal(t, []string{"Не вдалося зберегти сторінку: сторінка захищена"}, e.Messages)
}

func TestDriver_DryRunDoesNotSave(t *testing.T) {
	f := newFixture(t, Options{DryRun: true, ReportPage: "Звіт", Searches: []string{"insource:Нп"}})
	f.wiki.page("en", "Good", "...")
	f.wiki.record("en", "Good", "Q1", nil)
	f.wiki.page("uk", "Добре", "...")
	f.wiki.record("uk", "Добре", "Q1", nil)
	f.wiki.page("uk", "Сторінка", "{{Нп|Добре|||Good}}")
	f.wiki.search = []string{"Сторінка"}

	require.NoError(t, f.driver.Run(context.Background()))
	assert.Empty(t, f.wiki.saves)
}

func TestDriver_RunInterruptAndResume(t *testing.T) {
	f := newFixture(t, Options{
		Searches:   []string{"insource:Нп"},
		ReportPage: "Вікіпедія:Нп/Звіт",
		StatsPage:  "Вікіпедія:Нп/Статистика",
		StatsTop:   10,
	})
	f.wiki.page("en", "Good", "...")
	f.wiki.record("en", "Good", "Q1", nil)
	f.wiki.page("uk", "Добре", "...")
	f.wiki.record("uk", "Добре", "Q1", nil)
	for _, title := range []string{"А", "Б", "В"} {
		f.wiki.page("uk", title, "{{Нп|Добре|||Good}}")
	}
	f.wiki.search = []string{"В", "А", "Б", "А"}

	ctx, cancel := context.WithCancel(context.Background())
	f.wiki.onFetch = func(title string) {
		if title == "Б" {
			cancel()
		}
	}
	err := f.driver.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusInterrupted, f.driver.Snapshot().Status)

	state, ok, _ := f.store.LoadBacklog(context.Background(), PassBulk)
	require.True(t, ok)
	assert.Equal(t, []string{"А", "Б", "В"}, state.Titles)
	assert.Equal(t, 1, state.Cursor)
	assert.Equal(t, []resolver.Count{{Lang: "en", Title: "Good", N: 1}}, state.Frequency)

	f.wiki.onFetch = nil
	require.NoError(t, f.driver.Run(context.Background()))
	assert.Equal(t, StatusCompleted, f.driver.Snapshot().Status)
	for _, title := range []string{"А", "Б", "В"} {
		text, ok := f.wiki.saved(title)
		require.True(t, ok, title)
		assert.Equal(t, "[[Добре]]", text)
	}

	report, ok := f.wiki.saved("Вікіпедія:Нп/Звіт")
	require.True(t, ok)
	assert.Contains(t, report, "Всього таких статей 0.")
	stats, ok := f.wiki.saved("Вікіпедія:Нп/Статистика")
	require.True(t, ok)
	assert.Contains(t, stats, "| 1 || [[:en:Good]] || 3")

	// the next pass starts over from a fresh backlog
	state, ok, _ = f.store.LoadBacklog(context.Background(), PassBulk)
	require.True(t, ok)
	assert.Equal(t, 0, state.Cursor)
	assert.Empty(t, state.Frequency)
}

func TestDriver_MaxPagesStopsEarly(t *testing.T) {
	f := newFixture(t, Options{MaxPages: 2, Categories: []string{"Статті з Нп"}})
	f.wiki.category = []string{"А", "Б", "В"}

	require.NoError(t, f.driver.Run(context.Background()))
	state, _, _ := f.store.LoadBacklog(context.Background(), PassBulk)
	assert.Equal(t, 2, state.Cursor)
	assert.Equal(t, StatusInterrupted, f.driver.Snapshot().Status)
}

func TestDriver_RecheckClearsFixedProblems(t *testing.T) {
	f := newFixture(t, Options{})
	f.wiki.page("en", "Good", "...")
	f.wiki.record("en", "Good", "Q1", nil)
	f.wiki.page("uk", "Сторінка", "{{Нп|Добре|||Good}}")
	f.ledger.Record("Сторінка", "стара проблема")
	f.ledger.Record("Інша", "стара проблема")
	f.driver.resolver.Counter().Record("en", "Kept")

	// prime the cache with "Добре does not exist"
	_, err := f.cache.Get(context.Background(), "uk", "Добре")
	require.NoError(t, err)

	// a human creates the article meanwhile
	f.wiki.page("uk", "Добре", "...")
	f.wiki.record("uk", "Добре", "Q1", nil)

	require.NoError(t, f.driver.Recheck(context.Background()))
	text, ok := f.wiki.saved("Сторінка")
	require.True(t, ok)
	assert.Equal(t, "[[Добре]]", text)
	assert.Equal(t, 0, f.ledger.Len())
	assert.Empty(t, f.store.problems)
	assert.Equal(t, []resolver.Count{{Lang: "en", Title: "Kept", N: 1}}, f.driver.resolver.Counter().Snapshot())
}

func TestDriver_RestoreLoadsLedger(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.problems = []ledger.Entry{{Page: "А", Messages: []string{"m"}}}
	f.store.states[PassBulk] = State{Pass: PassBulk, Frequency: []resolver.Count{{Lang: "en", Title: "X", N: 2}}}

	require.NoError(t, f.driver.Restore(context.Background()))
	assert.Equal(t, []string{"А"}, f.ledger.Pages())
	assert.Equal(t, 1, f.driver.resolver.Counter().Len())
}
