package backlog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/iwbot/internal/identity"
	"github.com/MimeLyc/iwbot/internal/ledger"
	"github.com/MimeLyc/iwbot/internal/marker"
	"github.com/MimeLyc/iwbot/internal/metrics"
	"github.com/MimeLyc/iwbot/internal/resolver"
	"github.com/MimeLyc/iwbot/internal/wiki"
	"github.com/MimeLyc/iwbot/internal/wikitext"
	"github.com/MimeLyc/iwbot/pkg/log"
)

const (
	editSummary     = "[[User:PavloChemBot/Iw|автоматична заміна]] {{[[Шаблон:Не перекладено|Не перекладено]]}} вікі-посиланнями на перекладені статті"
	annotateSummary = "[[User:PavloChemBot/Iw|позначення проблем]] у {{[[Шаблон:Не перекладено|Не перекладено]]}}"
)

// PageResult is what happened to one page.
type PageResult struct {
	Title    string
	Skipped  bool
	Changed  bool
	Saved    bool
	Problems []string
	NewText  string
}

func (d *Driver) skipped(title string) bool {
	for _, p := range d.opts.SkipPrefixes {
		if p != "" && strings.Contains(title, p) {
			return true
		}
	}
	return false
}

// ProcessPage resolves every marker on title and saves the page if its text
// changed. Only cancellation is returned as an error; every other failure
// ends up in the ledger.
func (d *Driver) ProcessPage(ctx context.Context, title string) (PageResult, error) {
	ret := PageResult{Title: title}
	if d.skipped(title) {
		ret.Skipped = true
		return ret, nil
	}

	snap := d.Snapshot()
	log.Info("%d. Processing page [[%s]]", snap.Record.Pages+1, title)

	page, err := d.pages.FetchPage(ctx, d.opts.Lang, title)
	if err != nil {
		if resolver.Classify(err) == resolver.ErrCancelled {
			return ret, err
		}
		log.Error("fetch [[%s]]: %v", title, err)
		ret.Problems = []string{"Не вдалося завантажити сторінку, її буде перевірено пізніше"}
		d.ledger.Set(title, ret.Problems)
		return ret, nil
	}
	if !page.Exists || page.IsRedirect || hasTemplate(page.Text, d.opts.ManualEditTemplates) {
		d.ledger.Clear(title)
		ret.Skipped = true
		return ret, nil
	}

	d.ledger.Clear(title)
	occs := marker.Find(page.Text)
	if len(occs) == 0 {
		return ret, nil
	}
	if err := d.prefetch(ctx, occs); err != nil {
		if resolver.Classify(err) == resolver.ErrCancelled {
			return ret, err
		}
		log.Warn("prefetch for [[%s]]: %v", title, err)
	}

	edits := make([]edit, 0, len(occs))
	requested := make([]identity.Key, 0, len(occs))
	for _, occ := range occs {
		var out resolver.Outcome
		err := resolver.SafeExecute(func() error {
			var rerr error
			out, rerr = d.resolver.Resolve(ctx, occ)
			return rerr
		})
		if err != nil {
			if resolver.IsErrorType(err, resolver.ErrCancelled) || ctx.Err() != nil {
				return ret, err
			}
			log.Error("resolve %s on [[%s]]: %v", occ.Raw, title, err)
			metrics.Outcomes.WithLabelValues(resolver.Problem.String()).Inc()
			// ledgered for the next pass, never written into the article
			ret.Problems = append(ret.Problems,
				fmt.Sprintf("Не вдалося перевірити %s, спробуємо пізніше", wikitext.InterwikiLink(occ.SourceLang, occ.SourceTitle)))
			continue
		}
		metrics.Outcomes.WithLabelValues(out.Kind.String()).Inc()
		requested = append(requested, out.Requested)

		switch out.Kind {
		case resolver.Replace:
			edits = append(edits, replaceEdit(page.Text, occ, out.Text))
		case resolver.NoAction:
			if e, ok := clearAnnotationEdit(page.Text, occ); ok {
				edits = append(edits, e)
			}
		case resolver.Problem:
			msg := out.Message()
			log.Info("\t>>> %s", msg)
			ret.Problems = append(ret.Problems, msg)
			if d.opts.Annotate {
				if e, ok := annotateEdit(page.Text, occ, msg); ok {
					edits = append(edits, e)
				}
			}
		}
	}

	d.ledger.Set(title, ret.Problems)
	if len(ret.Problems) > 0 {
		d.assignProjects(ctx, title)
	}

	// counted only once the page is finished, so a page redone after an
	// interruption is not counted twice
	finish := func() { d.resolver.Counter().Add(requested...) }

	text := dedupeAnnotations(applyEdits(page.Text, edits))
	if text == page.Text {
		finish()
		return ret, nil
	}
	ret.Changed = true
	ret.NewText = text
	if d.opts.DryRun {
		log.Info("dry run: [[%s]] would change", title)
		finish()
		return ret, nil
	}

	summary := editSummary
	if !hasReplace(edits) {
		summary = annotateSummary
	}
	if err := d.pages.SavePage(ctx, d.opts.Lang, title, text, summary); err != nil {
		if resolver.Classify(err) == resolver.ErrCancelled {
			return ret, err
		}
		log.Error("save [[%s]]: %v", title, err)
		d.ledger.Record(title, saveFailure(err))
		ret.Problems = append(ret.Problems, saveFailure(err))
		finish()
		return ret, nil
	}
	finish()
	ret.Saved = true
	return ret, nil
}

func hasReplace(edits []edit) bool {
	for _, e := range edits {
		if e.text != "" && !strings.HasPrefix(e.text, annotationPrefix) {
			return true
		}
	}
	return false
}

func saveFailure(err error) string {
	var saveErr *wiki.SaveError
	if errors.As(err, &saveErr) {
		switch saveErr.Code {
		case wiki.SaveEditConflict:
			return "Не вдалося зберегти сторінку: конфлікт редагувань"
		case wiki.SaveProtected:
			return "Не вдалося зберегти сторінку: сторінка захищена"
		case wiki.SaveSpamFilter:
			return "Не вдалося зберегти сторінку: спрацював фільтр"
		}
	}
	return "Не вдалося зберегти сторінку"
}

// prefetch loads every identity the page needs up front, so all of its
// occurrences see the same cache state.
func (d *Driver) prefetch(ctx context.Context, occs []marker.Occurrence) error {
	keys := make([]identity.Key, 0, 2*len(occs))
	for _, o := range occs {
		if !marker.SupportedLang(o.SourceLang) || o.LocalTitle == "" {
			continue
		}
		keys = append(keys,
			identity.Key{Lang: o.SourceLang, Title: o.SourceTitle},
			identity.Key{Lang: d.opts.Lang, Title: o.LocalTitle},
		)
	}
	return d.cache.Prefetch(ctx, keys)
}

func (d *Driver) assignProjects(ctx context.Context, title string) {
	if !d.ledger.NeedsTalkPage() {
		d.ledger.Assign(title, nil)
		return
	}
	talk, err := d.pages.FetchPage(ctx, d.opts.Lang, wikitext.TalkPage(title))
	if err != nil {
		log.Warn("fetch talk page of [[%s]]: %v", title, err)
		d.ledger.Assign(title, nil)
		return
	}
	d.ledger.Assign(title, ledger.TalkTemplates(talk.Text))
}
