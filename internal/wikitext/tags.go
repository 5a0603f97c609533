package wikitext

import (
	"regexp"
	"strings"
	"sync"
)

// Tag is an extension tag such as <gallery>...</gallery>. Contents starts at
// ContentStart in the original text.
type Tag struct {
	Name         string
	Attrs        string
	Contents     string
	Start        int
	End          int
	ContentStart int
}

var tagPatterns sync.Map

func tagPattern(name string) *regexp.Regexp {
	if re, ok := tagPatterns.Load(name); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?is)<` + regexp.QuoteMeta(name) + `(\s[^>]*)?>(.*?)</` + regexp.QuoteMeta(name) + `\s*>`)
	tagPatterns.Store(name, re)
	return re
}

// ParseTags finds paired tags with the given name, case-insensitively.
// Self-closing tags carry no contents and are not returned.
func ParseTags(text, name string) []Tag {
	re := tagPattern(strings.ToLower(name))
	ret := make([]Tag, 0)
	for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
		tag := Tag{
			Name:         name,
			Start:        m[0],
			End:          m[1],
			Contents:     text[m[4]:m[5]],
			ContentStart: m[4],
		}
		if m[2] >= 0 {
			tag.Attrs = strings.TrimSpace(text[m[2]:m[3]])
		}
		ret = append(ret, tag)
	}
	return ret
}

// Line is one line of a tag body, with its offset in the original text.
type Line struct {
	Text  string
	Start int
}

// Lines splits tag contents into lines keeping absolute offsets.
func (t Tag) Lines() []Line {
	ret := make([]Line, 0)
	off := t.ContentStart
	for _, l := range strings.SplitAfter(t.Contents, "\n") {
		trimmed := strings.TrimSuffix(l, "\n")
		if strings.TrimSpace(trimmed) != "" {
			ret = append(ret, Line{Text: trimmed, Start: off})
		}
		off += len(l)
	}
	return ret
}

// GalleryCaption returns the caption part of a gallery line ("File:x.jpg|caption")
// and its offset within the line. ok is false for lines without a caption.
func GalleryCaption(line string) (caption string, offset int, ok bool) {
	depth := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '[', '{':
			depth++
		case ']', '}':
			depth--
		case '|':
			if depth == 0 {
				return line[i+1:], i + 1, true
			}
		}
	}
	return "", 0, false
}
