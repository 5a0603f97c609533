package marker

import (
	"strings"

	"github.com/MimeLyc/iwbot/internal/wikitext"
)

// Aliases are the names under which the marker template has been used.
var Aliases = []string{"Не перекладено", "Нп", "Нп5", "Iw", "Iw2", "Interwiki"}

var templateNamespaces = []string{"Шаблон:", "Template:", "Ш:"}

// homoglyphs maps Latin letters that editors type by accident in Cyrillic
// words to their Cyrillic look-alikes.
var homoglyphs = strings.NewReplacer(
	"a", "а", "A", "А",
	"e", "е", "E", "Е",
	"o", "о", "O", "О",
	"p", "р", "P", "Р",
	"c", "с", "C", "С",
	"x", "х", "X", "Х",
	"y", "у", "H", "Н",
	"i", "і", "I", "І",
	"K", "К", "k", "к",
	"M", "М", "T", "Т",
	"B", "В",
)

func fold(s string) string {
	return homoglyphs.Replace(s)
}

var aliasSet = func() map[string]struct{} {
	ret := make(map[string]struct{}, len(Aliases))
	for _, a := range Aliases {
		ret[fold(Normalize(a))] = struct{}{}
	}
	return ret
}()

// Normalize canonicalizes a template name: namespace prefix dropped,
// underscores as spaces, whitespace trimmed, first letter upper-cased.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	for _, ns := range templateNamespaces {
		if len(name) > len(ns) && strings.EqualFold(name[:len(ns)], ns) {
			name = name[len(ns):]
			break
		}
	}
	name = strings.Join(strings.Fields(strings.ReplaceAll(name, "_", " ")), " ")
	return wikitext.UpperFirst(name)
}

// IsMarker reports whether a template name is one of the marker aliases,
// tolerating Latin look-alike letters.
func IsMarker(name string) bool {
	_, ok := aliasSet[fold(Normalize(name))]
	return ok
}
