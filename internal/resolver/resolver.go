package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/iwbot/internal/identity"
	"github.com/MimeLyc/iwbot/internal/marker"
	"github.com/MimeLyc/iwbot/internal/wikitext"
)

// LinkPolicy picks the link target when the requested local title is a
// redirect to the right article.
type LinkPolicy int

const (
	// LinkRequested keeps the title the marker asked for.
	LinkRequested LinkPolicy = iota
	// LinkRedirectTarget links straight to the redirect target.
	LinkRedirectTarget
)

func ParseLinkPolicy(s string) (LinkPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "requested":
		return LinkRequested, nil
	case "redirect-target", "redirect_target":
		return LinkRedirectTarget, nil
	default:
		return LinkRequested, fmt.Errorf("unknown link policy %q", s)
	}
}

// Lookuper is the identity cache as seen by the resolver.
type Lookuper interface {
	Get(ctx context.Context, lang, title string) (identity.Lookup, error)
}

// Adjudicator holds human decisions. Answer returns the 1-based chosen
// variant, or false when the question is still open.
type Adjudicator interface {
	Answer(question string, variants ...string) (int, bool)
}

const (
	answerLinkExisting = 1
	answerKeepMarker   = 2
)

type Options struct {
	LocalLang   string
	Policy      LinkPolicy
	Counter     *Counter
	Adjudicator Adjudicator
}

type Resolver struct {
	cache Lookuper
	opts  Options
}

func New(cache Lookuper, opts Options) *Resolver {
	if opts.LocalLang == "" {
		opts.LocalLang = "uk"
	}
	if opts.Counter == nil {
		opts.Counter = NewCounter()
	}
	return &Resolver{cache: cache, opts: opts}
}

func (r *Resolver) Counter() *Counter {
	return r.opts.Counter
}

// Resolve decides the fate of one occurrence. Problems are outcomes, not
// errors; the error is reserved for network failures and cancellation.
// The request is not counted here: callers pass Outcome.Requested to the
// counter once the page it came from is finished.
func (r *Resolver) Resolve(ctx context.Context, occ marker.Occurrence) (Outcome, error) {
	local, _, lang, source := occ.Fields()

	if !marker.SupportedLang(lang) {
		return problem(ErrInput, "Мовний код \"%s\" не підтримується", lang), nil
	}
	if strings.TrimSpace(local) == "" {
		return problem(ErrInput, "Сторінка містить шаблон {{tl|Не перекладено}} без назви статті"), nil
	}

	there, err := r.cache.Get(ctx, lang, source)
	if err != nil {
		return r.lookupFailure(err, lang, source)
	}
	if !there.Exists {
		return r.sourceMissing(lang, source), nil
	}

	here, err := r.cache.Get(ctx, r.opts.LocalLang, local)
	if err != nil {
		return r.lookupFailure(err, r.opts.LocalLang, local)
	}

	out := r.decide(occ, there, here)
	if key, err := identity.CanonicalKey(lang, source); err == nil {
		out.Requested = key
	}
	return out, nil
}

func (r *Resolver) decide(occ marker.Occurrence, there, here identity.Lookup) Outcome {
	_, _, lang, source := occ.Fields()
	if !there.HasIdentity() {
		if here.Exists {
			return problem(ErrNotFound, "Сторінка %s не має елемента вікіданих", r.sourceLink(lang, source, there))
		}
		return noAction()
	}
	if here.Exists {
		return r.resolveExisting(occ, there, here)
	}
	return r.resolveMissing(occ, there)
}

func (r *Resolver) resolveExisting(occ marker.Occurrence, there, here identity.Lookup) Outcome {
	local, text, lang, source := occ.Fields()

	if sameConcept(here.IdentityID, there) {
		return replaceWith(wikitext.PipedLink(local, text))
	}
	if here.IsRedirect() && sameConcept(here.RedirectIdentityID, there) {
		target := local
		if r.opts.Policy == LinkRedirectTarget {
			target = here.RedirectTarget
		}
		return replaceWith(wikitext.PipedLink(target, text))
	}
	if !here.HasIdentity() {
		return problem(ErrNotFound, "Сторінка %s не має елемента вікіданих", wikitext.WikiLink(local))
	}
	return problem(ErrIdentityConflict, "Сторінки %s та %s пов'язані з різними елементами вікіданих",
		r.sourceLink(lang, source, there), wikitext.WikiLink(local))
}

func (r *Resolver) resolveMissing(occ marker.Occurrence, there identity.Lookup) Outcome {
	local, text, lang, source := occ.Fields()

	equivalent := there.LocalEquivalent
	via := wikitext.InterwikiLink(lang, source)
	if equivalent == "" && there.RedirectLocalEquivalent != "" {
		equivalent = there.RedirectLocalEquivalent
		via = fmt.Sprintf("%s (→ %s)", via, wikitext.InterwikiLink(lang, there.RedirectTarget))
	}
	if equivalent == "" || wikitext.EqualFold(equivalent, wikitext.StripFragment(local)) {
		return noAction()
	}

	out := problem(ErrIdentityConflict, "Сторінка %s перекладена як %s, хоча хотіли %s",
		via, wikitext.WikiLink(equivalent), wikitext.WikiLink(local))
	if r.opts.Adjudicator == nil {
		return out
	}
	answer, ok := r.opts.Adjudicator.Answer(out.Message(),
		fmt.Sprintf("Замінити посиланням на %s", wikitext.WikiLink(equivalent)),
		"Залишити шаблон",
	)
	switch {
	case !ok:
		return out
	case answer == answerLinkExisting:
		return replaceWith(wikitext.PipedLink(equivalent, text))
	case answer == answerKeepMarker:
		return noAction()
	default:
		return out
	}
}

func (r *Resolver) sourceMissing(lang, source string) Outcome {
	if lang == marker.RegistryLang {
		return problem(ErrNotFound, "Елемента вікіданих %s не існує", wikitext.InterwikiLink(lang, source))
	}
	return problem(ErrNotFound, "Не знайдено сторінки %s%s", wikitext.InterwikiLink(lang, source), languageHint(source, lang))
}

func (r *Resolver) sourceLink(lang, source string, there identity.Lookup) string {
	link := wikitext.InterwikiLink(lang, source)
	if there.IsRedirect() {
		link = fmt.Sprintf("%s (← %s)", wikitext.InterwikiLink(lang, there.RedirectTarget), link)
	}
	return link
}

func (r *Resolver) lookupFailure(err error, lang, title string) (Outcome, error) {
	switch Classify(err) {
	case ErrInvalidTitle:
		return problem(ErrInvalidTitle, "Некоректна назва сторінки \"<nowiki>%s:%s</nowiki>\"", lang, title), nil
	case ErrCancelled:
		return Outcome{}, WrapError(err, ErrCancelled, "lookup cancelled")
	}
	var rErr *Error
	if errors.As(err, &rErr) {
		return Outcome{}, rErr
	}
	return Outcome{}, WrapError(err, ErrTransientNetwork, "identity lookup failed").
		WithContext("lang", lang).
		WithContext("title", title)
}

// sameConcept compares by identity id only.
func sameConcept(id string, there identity.Lookup) bool {
	return id != "" && (id == there.IdentityID || id == there.RedirectIdentityID)
}
