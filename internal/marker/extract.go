package marker

import (
	"cmp"
	"slices"
	"strings"

	"github.com/MimeLyc/iwbot/internal/wikitext"
)

// DefaultLang is assumed when a marker names no source language.
const DefaultLang = "en"

// Named parameter keys of the marker template, in field order.
const (
	KeyLocalTitle  = "треба"
	KeyText        = "текст"
	KeyLang        = "мова"
	KeySourceTitle = "є"
)

var fieldKeys = map[string]int{
	fold(KeyLocalTitle):  0,
	fold(KeyText):        1,
	fold(KeyLang):        2,
	fold(KeySourceTitle): 3,
}

// Occurrence is one decoded marker found in a page. Raw is the exact text
// matched, so text[Start:End] == Raw.
type Occurrence struct {
	Raw         string
	Start       int
	End         int
	LocalTitle  string
	DisplayText string
	SourceLang  string
	SourceTitle string
}

// Extract decodes the four marker fields from a parsed template.
// Positional parameters 1..4 are read first; named parameters then
// overwrite them. Empty values never overwrite.
func Extract(tmpl wikitext.Template) Occurrence {
	var fields [4]string
	for _, p := range tmpl.Params {
		if n, ok := p.Positional(); ok && n >= 1 && n <= 4 && p.Value != "" {
			fields[n-1] = p.Value
		}
	}
	for _, p := range tmpl.Params {
		if _, ok := p.Positional(); ok {
			continue
		}
		if i, ok := fieldKeys[fold(strings.ToLower(p.Name))]; ok && p.Value != "" {
			fields[i] = p.Value
		}
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	occ := Occurrence{
		Raw:         tmpl.Raw,
		Start:       tmpl.Start,
		End:         tmpl.End,
		LocalTitle:  fields[0],
		DisplayText: fields[1],
		SourceLang:  FixLang(fields[2]),
		SourceTitle: fields[3],
	}
	if occ.DisplayText == "" {
		occ.DisplayText = occ.LocalTitle
	}
	if occ.SourceLang == "" {
		occ.SourceLang = DefaultLang
	}
	if occ.SourceTitle == "" {
		occ.SourceTitle = occ.LocalTitle
	}
	return occ
}

// Fields returns the decoded 4-tuple.
func (o Occurrence) Fields() (localTitle, displayText, sourceLang, sourceTitle string) {
	return o.LocalTitle, o.DisplayText, o.SourceLang, o.SourceTitle
}

// Find returns every marker occurrence in a page: plain template syntax
// first, then markers inside gallery captions, sorted by position.
func Find(text string) []Occurrence {
	ret := make([]Occurrence, 0)
	for _, tmpl := range wikitext.ParseTemplates(text) {
		if IsMarker(tmpl.Name) {
			ret = append(ret, Extract(tmpl))
		}
	}
	for _, gallery := range wikitext.ParseTags(text, "gallery") {
		for _, line := range gallery.Lines() {
			caption, off, ok := wikitext.GalleryCaption(line.Text)
			if !ok {
				continue
			}
			for _, tmpl := range wikitext.ParseTemplatesAt(caption, line.Start+off) {
				if IsMarker(tmpl.Name) {
					ret = append(ret, Extract(tmpl))
				}
			}
		}
	}
	sortByStart(ret)
	return dropNested(ret)
}

func sortByStart(occs []Occurrence) {
	slices.SortStableFunc(occs, func(a, b Occurrence) int {
		return cmp.Compare(a.Start, b.Start)
	})
}

// dropNested removes markers contained in another marker, which would be
// rewritten along with their outer one.
func dropNested(occs []Occurrence) []Occurrence {
	ret := occs[:0]
	end := -1
	for _, o := range occs {
		if o.Start < end {
			continue
		}
		ret = append(ret, o)
		end = o.End
	}
	return ret
}
