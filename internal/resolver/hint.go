package resolver

import (
	"fmt"
	"unicode"

	"github.com/abadojack/whatlanggo"
)

var cyrillicLangs = map[string]bool{
	"uk": true, "ru": true, "be": true, "be-x-old": true, "bg": true, "sr": true,
	"mk": true, "kk": true, "ky": true, "tg": true, "mn": true, "ba": true,
	"tt": true, "cv": true, "os": true, "ce": true, "sah": true, "rue": true,
}

var scriptNames = map[*unicode.RangeTable]string{
	unicode.Cyrillic: "кирилицею",
	unicode.Latin:    "латиницею",
}

// languageHint explains a missing source page whose title is written in a
// script the requested edition does not use. It returns "" when nothing
// looks off.
func languageHint(title, lang string) string {
	info := whatlanggo.Detect(title)
	script, ok := scriptNames[info.Script]
	if !ok {
		return ""
	}
	mismatch := (info.Script == unicode.Cyrillic && !cyrillicLangs[lang]) ||
		(info.Script == unicode.Latin && cyrillicLangs[lang])
	if !mismatch {
		return ""
	}
	if code := info.Lang.Iso6391(); info.IsReliable() && code != "" && code != lang {
		return fmt.Sprintf(" (назва написана %s, можливо мовний код має бути \"%s\")", script, code)
	}
	return fmt.Sprintf(" (назва написана %s)", script)
}
