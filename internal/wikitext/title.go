package wikitext

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var ErrEmptyTitle = errors.New("empty title")

// illegalTitleChars cannot appear in a MediaWiki page title.
const illegalTitleChars = "#<>[]|{}"

// NormalizeTitle applies the wiki title convention: NFC form, underscores as
// spaces, collapsed whitespace, first character upper-cased.
func NormalizeTitle(title string) string {
	title = norm.NFC.String(title)
	title = strings.ReplaceAll(title, "_", " ")
	title = strings.Join(strings.Fields(title), " ")
	return UpperFirst(title)
}

// StripFragment drops a "#section" suffix from a link target.
func StripFragment(title string) string {
	if i := strings.IndexByte(title, '#'); i >= 0 {
		return title[:i]
	}
	return title
}

// UpperFirst upper-cases only the first rune.
func UpperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// LowerFirst lower-cases only the first rune.
func LowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

// EqualFold compares titles the way a first-letter-case-insensitive wiki does.
func EqualFold(a, b string) bool {
	return LowerFirst(a) == LowerFirst(b)
}

// ValidateTitle rejects titles that no wiki page can carry. The title is
// expected to be normalized already.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrEmptyTitle
	}
	if i := strings.IndexAny(title, illegalTitleChars); i >= 0 {
		return fmt.Errorf("illegal character %q", title[i])
	}
	for _, r := range title {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return fmt.Errorf("illegal character %U", r)
		}
	}
	if strings.HasPrefix(title, ":") || strings.Contains(title, "~~~") {
		return fmt.Errorf("malformed title %q", title)
	}
	if strings.Contains(title, "&") && strings.Contains(title, ";") && htmlEntity(title) {
		return fmt.Errorf("unescaped entity in %q", title)
	}
	if len(title) > 255 {
		return fmt.Errorf("title longer than 255 bytes")
	}
	return nil
}

func htmlEntity(s string) bool {
	for {
		i := strings.IndexByte(s, '&')
		if i < 0 {
			return false
		}
		s = s[i+1:]
		j := strings.IndexByte(s, ';')
		if j > 0 && j <= 8 && !strings.ContainsAny(s[:j], " &") {
			return true
		}
	}
}

var colonPrefixed = []string{"Файл:", "Категорія:", "File:", "Category:", "Image:", "Зображення:"}

// WikiLink formats a title as an internal link. File and category titles
// get a leading colon so the link does not embed or categorize.
func WikiLink(title string) string {
	for _, p := range colonPrefixed {
		if strings.HasPrefix(title, p) {
			return "[[:" + title + "]]"
		}
	}
	return "[[" + title + "]]"
}

// InterwikiLink formats a link to a page on another language edition.
func InterwikiLink(lang, title string) string {
	return fmt.Sprintf("[[:%s:%s]]", lang, title)
}

// PipedLink renders a link to target showing text, in its shortest form:
// [[T]] when text equals target, [[text]] when they differ only in the case
// of the first letter, otherwise [[T|text]].
func PipedLink(target, text string) string {
	switch {
	case text == "" || text == target:
		return "[[" + target + "]]"
	case EqualFold(target, text):
		return "[[" + text + "]]"
	default:
		return "[[" + target + "|" + text + "]]"
	}
}

var talkNamespaces = []struct{ subject, talk string }{
	{"Шаблон:", "Обговорення шаблону:"},
	{"Категорія:", "Обговорення категорії:"},
	{"Файл:", "Обговорення файлу:"},
	{"Вікіпедія:", "Обговорення Вікіпедії:"},
	{"Користувач:", "Обговорення користувача:"},
	{"Портал:", "Обговорення порталу:"},
	{"Довідка:", "Обговорення довідки:"},
}

// TalkPage returns the title of the discussion page of a Ukrainian wiki page.
func TalkPage(title string) string {
	for _, ns := range talkNamespaces {
		if strings.HasPrefix(title, ns.subject) {
			return ns.talk + strings.TrimPrefix(title, ns.subject)
		}
	}
	return "Обговорення:" + title
}
