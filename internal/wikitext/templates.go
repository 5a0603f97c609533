package wikitext

import (
	"strconv"
	"strings"
)

// Param is one template argument. Positional arguments have an empty Name
// and a 1-based Index; named ones keep their key as written (trimmed).
type Param struct {
	Name  string
	Index int
	Value string
}

// Positional reports whether the parameter was written without a key, or
// with an explicit numeric key such as "2=".
func (p Param) Positional() (int, bool) {
	if p.Name == "" {
		return p.Index, true
	}
	if n, err := strconv.Atoi(p.Name); err == nil && n > 0 {
		return n, true
	}
	return 0, false
}

// Template is a located template invocation. Start and End are byte offsets
// into the text it was parsed from, so Raw == text[Start:End].
type Template struct {
	Name   string
	Raw    string
	Start  int
	End    int
	Params []Param
}

// opaqueTags hide their contents from template scanning.
var opaqueTags = []string{"nowiki", "pre", "gallery", "math", "syntaxhighlight", "source"}

// ParseTemplates returns every template invocation in text, nested ones
// included, in order of their opening braces. Contents of comments and
// opaque tags (nowiki, pre, gallery, ...) are skipped; a gallery caption is
// the caller's job to parse separately. Unclosed invocations are ignored.
func ParseTemplates(text string) []Template {
	hidden := hiddenRanges(text)
	ret := make([]Template, 0)
	for i := 0; i+1 < len(text); i++ {
		if text[i] != '{' || text[i+1] != '{' {
			continue
		}
		if insideAny(hidden, i) {
			continue
		}
		// template parameter {{{x}}} or its tail
		if (i+2 < len(text) && text[i+2] == '{') || (i > 0 && text[i-1] == '{') {
			continue
		}
		tmpl, ok := parseTemplateAt(text, i)
		if !ok {
			continue
		}
		ret = append(ret, tmpl)
	}
	return ret
}

// ParseTemplatesAt parses fragment and shifts offsets by base, for fragments
// cut out of a larger text.
func ParseTemplatesAt(fragment string, base int) []Template {
	ret := ParseTemplates(fragment)
	for i := range ret {
		ret[i].Start += base
		ret[i].End += base
	}
	return ret
}

func parseTemplateAt(text string, start int) (Template, bool) {
	braces := 0
	brackets := 0
	fields := make([]string, 0, 4)
	fieldStart := start + 2
	for i := start; i < len(text); i++ {
		switch {
		case strings.HasPrefix(text[i:], "<!--"):
			end := strings.Index(text[i:], "-->")
			if end < 0 {
				return Template{}, false
			}
			i += end + 2
		case strings.HasPrefix(text[i:], "{{"):
			braces++
			i++
		case strings.HasPrefix(text[i:], "}}"):
			braces--
			i++
			if braces == 0 {
				fields = append(fields, text[fieldStart:i-1])
				return buildTemplate(text, start, i+1, fields)
			}
		case strings.HasPrefix(text[i:], "[["):
			brackets++
			i++
		case strings.HasPrefix(text[i:], "]]") && brackets > 0:
			brackets--
			i++
		case text[i] == '|' && braces == 1 && brackets == 0:
			fields = append(fields, text[fieldStart:i])
			fieldStart = i + 1
		}
	}
	return Template{}, false
}

func buildTemplate(text string, start, end int, fields []string) (Template, bool) {
	name := strings.TrimSpace(stripComments(fields[0]))
	if name == "" || strings.ContainsAny(name, "{}[]<>") {
		return Template{}, false
	}
	tmpl := Template{
		Name:   name,
		Raw:    text[start:end],
		Start:  start,
		End:    end,
		Params: make([]Param, 0, len(fields)-1),
	}
	index := 0
	for _, field := range fields[1:] {
		if key, value, ok := splitNamed(field); ok {
			tmpl.Params = append(tmpl.Params, Param{Name: key, Value: strings.TrimSpace(value)})
			continue
		}
		index++
		tmpl.Params = append(tmpl.Params, Param{Index: index, Value: strings.TrimSpace(field)})
	}
	return tmpl, true
}

// splitNamed splits "key=value" at the first top-level '='.
func splitNamed(field string) (string, string, bool) {
	depth := 0
	for i := 0; i < len(field); i++ {
		switch field[i] {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			key := strings.TrimSpace(field[:i])
			if key == "" || strings.ContainsAny(key, "<>") {
				return "", "", false
			}
			return key, field[i+1:], true
		}
	}
	return "", "", false
}

// Get returns the value of the first parameter with the given key.
func (t Template) Get(name string) (string, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

type span struct{ start, end int }

func insideAny(spans []span, pos int) bool {
	for _, s := range spans {
		if s.start <= pos && pos < s.end {
			return true
		}
	}
	return false
}

func hiddenRanges(text string) []span {
	spans := make([]span, 0)
	for off := 0; ; {
		i := strings.Index(text[off:], "<!--")
		if i < 0 {
			break
		}
		start := off + i
		end := strings.Index(text[start:], "-->")
		if end < 0 {
			spans = append(spans, span{start, len(text)})
			break
		}
		spans = append(spans, span{start, start + end + 3})
		off = start + end + 3
	}
	for _, name := range opaqueTags {
		for _, tag := range ParseTags(text, name) {
			spans = append(spans, span{tag.Start, tag.End})
		}
	}
	return spans
}

func stripComments(s string) string {
	for {
		i := strings.Index(s, "<!--")
		if i < 0 {
			return s
		}
		j := strings.Index(s[i:], "-->")
		if j < 0 {
			return s[:i]
		}
		s = s[:i] + s[i+j+3:]
	}
}
