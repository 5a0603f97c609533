// Package ledger collects per-page resolution problems and renders them as
// report tables, optionally split by topical project.
package ledger

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/iwbot/internal/wikitext"
)

// Entry holds the problems of one page, in the order they were found.
type Entry struct {
	Page     string    `json:"page"`
	Messages []string  `json:"messages"`
	Projects []string  `json:"projects,omitempty"`
	Updated  time.Time `json:"updated"`
}

type Ledger struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	projects []Project
	now      func() time.Time
}

func New(projects []Project) *Ledger {
	return &Ledger{
		entries:  make(map[string]*Entry),
		projects: projects,
		now:      time.Now,
	}
}

func (l *Ledger) Projects() []Project {
	return l.projects
}

// Project finds a project by name.
func (l *Ledger) Project(name string) (Project, bool) {
	for _, p := range l.projects {
		if p.Name == name {
			return p, true
		}
	}
	return Project{}, false
}

// NeedsTalkPage reports whether any project matches by talk-page banners.
func (l *Ledger) NeedsTalkPage() bool {
	for _, p := range l.projects {
		if p.NeedsTalkPage() {
			return true
		}
	}
	return false
}

// Record appends a problem to page.
func (l *Ledger) Record(page, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[page]
	if !ok {
		e = &Entry{Page: page}
		l.entries[page] = e
	}
	e.Messages = append(e.Messages, message)
	e.Updated = l.now()
}

// Clear removes page; it is called before a page is reprocessed.
func (l *Ledger) Clear(page string) {
	l.mu.Lock()
	delete(l.entries, page)
	l.mu.Unlock()
}

// Set replaces all problems of page. No messages removes the page.
func (l *Ledger) Set(page string, messages []string) {
	if len(messages) == 0 {
		l.Clear(page)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[page] = &Entry{Page: page, Messages: slices.Clone(messages), Updated: l.now()}
}

// Assign derives the projects of page from its title and talk-page templates.
func (l *Ledger) Assign(page string, talkTemplates []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[page]
	if !ok {
		return
	}
	e.Projects = e.Projects[:0]
	for _, p := range l.projects {
		if p.Matches(page, talkTemplates) {
			e.Projects = append(e.Projects, p.Name)
		}
	}
}

// Get returns a copy of the entry of page.
func (l *Ledger) Get(page string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[page]
	if !ok {
		return Entry{}, false
	}
	return copyEntry(e), true
}

// Entries returns the entries of project sorted by page title. An empty
// project name selects every entry.
func (l *Ledger) Entries(project string) []Entry {
	l.mu.RLock()
	ret := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if project != "" && !slices.Contains(e.Projects, project) {
			continue
		}
		ret = append(ret, copyEntry(e))
	}
	l.mu.RUnlock()
	slices.SortFunc(ret, func(a, b Entry) int { return strings.Compare(a.Page, b.Page) })
	return ret
}

func (l *Ledger) Pages() []string {
	entries := l.Entries("")
	ret := make([]string, len(entries))
	for i, e := range entries {
		ret[i] = e.Page
	}
	return ret
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Restore replaces the contents, e.g. with entries loaded from the store.
func (l *Ledger) Restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*Entry, len(entries))
	for _, e := range entries {
		if len(e.Messages) == 0 {
			continue
		}
		c := copyEntry(&e)
		l.entries[e.Page] = &c
	}
}

func copyEntry(e *Entry) Entry {
	return Entry{
		Page:     e.Page,
		Messages: slices.Clone(e.Messages),
		Projects: slices.Clone(e.Projects),
		Updated:  e.Updated,
	}
}

const (
	reportHeading = "== Сторінки, які можливо потребують уваги =="
	reportDate    = "02.01.2006, 15:04:05"
)

// Render formats the entries of project as a sortable wiki table. A page
// with several problems takes one row with the page cell spanning them.
func (l *Ledger) Render(project string, now time.Time) string {
	entries := l.Entries(project)

	var b strings.Builder
	b.WriteString(reportHeading)
	fmt.Fprintf(&b, "\n\nСтаном на %s. Всього таких статей %d.\n\n", now.Format(reportDate), len(entries))
	b.WriteString("{| class=\"standard sortable\"\n")
	b.WriteString("! Стаття з проблемами || Опис проблеми || N\n")
	for _, e := range entries {
		n := len(e.Messages)
		page := wikitext.WikiLink(e.Page)
		if n == 1 {
			fmt.Fprintf(&b, "|-\n| %s || %s || %d\n", page, e.Messages[0], n)
			continue
		}
		fmt.Fprintf(&b, "|-\n| rowspan=\"%d\" | %s || %s || rowspan=\"%d\" | %d\n", n, page, e.Messages[0], n, n)
		for _, msg := range e.Messages[1:] {
			fmt.Fprintf(&b, "|-\n| %s\n", msg)
		}
	}
	b.WriteString("|}")
	return b.String()
}
