package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/MimeLyc/iwbot/internal/marker"
	"github.com/MimeLyc/iwbot/internal/wiki"
	"github.com/MimeLyc/iwbot/internal/wikitext"
)

// PageFetcher reads one page from a language edition.
type PageFetcher interface {
	FetchPage(ctx context.Context, lang, title string) (wiki.Page, error)
}

// RecordFetcher reads an identity record, by page title or, for the
// registry language, by id. It returns wiki.ErrNoRecord when none exists.
type RecordFetcher interface {
	FetchIdentity(ctx context.Context, lang, titleOrID string) (wiki.Record, error)
}

// Fetcher performs live lookups against the wiki and the registry.
type Fetcher struct {
	pages     PageFetcher
	records   RecordFetcher
	localLang string
}

func NewFetcher(pages PageFetcher, records RecordFetcher, localLang string) *Fetcher {
	return &Fetcher{pages: pages, records: records, localLang: localLang}
}

func (f *Fetcher) Lookup(ctx context.Context, lang, title string) (Lookup, error) {
	if lang == marker.RegistryLang {
		return f.lookupRecord(ctx, title)
	}

	page, err := f.pages.FetchPage(ctx, lang, title)
	if err != nil {
		return Lookup{}, fmt.Errorf("fetch page %s:%s: %w", lang, title, err)
	}
	if !page.Exists {
		return Lookup{}, nil
	}

	ret := Lookup{Exists: true}
	ret.IdentityID, ret.LocalEquivalent, err = f.identityOf(ctx, lang, title)
	if err != nil {
		return Lookup{}, err
	}

	if page.IsRedirect && page.RedirectTarget != "" {
		ret.RedirectTarget = wikitext.NormalizeTitle(page.RedirectTarget)
		id, local, err := f.identityOf(ctx, lang, ret.RedirectTarget)
		if err != nil {
			return Lookup{}, err
		}
		if id != ret.IdentityID {
			ret.RedirectIdentityID = id
		}
		ret.RedirectLocalEquivalent = local
	}

	// asking the local wiki about itself: only a different title counts
	if lang == f.localLang {
		if wikitext.EqualFold(ret.LocalEquivalent, title) {
			ret.LocalEquivalent = ""
		}
		if wikitext.EqualFold(ret.RedirectLocalEquivalent, ret.RedirectTarget) {
			ret.RedirectLocalEquivalent = ""
		}
	}
	return ret, nil
}

func (f *Fetcher) lookupRecord(ctx context.Context, id string) (Lookup, error) {
	rec, err := f.records.FetchIdentity(ctx, marker.RegistryLang, id)
	if errors.Is(err, wiki.ErrNoRecord) {
		return Lookup{}, nil
	}
	if err != nil {
		return Lookup{}, fmt.Errorf("fetch identity %s: %w", id, err)
	}
	return Lookup{
		Exists:          true,
		IdentityID:      rec.ID,
		LocalEquivalent: rec.Sitelinks[f.localLang],
	}, nil
}

// identityOf returns the record id of a page and the local title linked to
// it. A page without a record is not an error.
func (f *Fetcher) identityOf(ctx context.Context, lang, title string) (string, string, error) {
	rec, err := f.records.FetchIdentity(ctx, lang, title)
	if errors.Is(err, wiki.ErrNoRecord) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("fetch identity of %s:%s: %w", lang, title, err)
	}
	return rec.ID, rec.Sitelinks[f.localLang], nil
}
