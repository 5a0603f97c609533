package backlog

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	"github.com/MimeLyc/iwbot/internal/marker"
	"github.com/MimeLyc/iwbot/internal/wikitext"
)

const annotationPrefix = "<!-- Проблема з шаблоном Не перекладено: "

var annotationPattern = regexp.MustCompile(`<!-- Проблема з шаблоном Не перекладено: (.*?) -->`)

// annotation renders a problem message as an inline comment.
func annotation(message string) string {
	message = strings.ReplaceAll(message, "--", "—")
	message = strings.ReplaceAll(message, "\n", " ")
	return annotationPrefix + message + " -->"
}

// annotationAt returns the end of an annotation starting at pos and its text.
func annotationAt(text string, pos int) (int, string, bool) {
	if !strings.HasPrefix(text[pos:], annotationPrefix) {
		return 0, "", false
	}
	loc := annotationPattern.FindStringIndex(text[pos:])
	if loc == nil || loc[0] != 0 {
		return 0, "", false
	}
	return pos + loc[1], text[pos : pos+loc[1]], true
}

type edit struct {
	start int
	end   int
	text  string
}

// replaceEdit rewrites the marker into link, dropping an annotation left
// after it by an earlier run.
func replaceEdit(text string, occ marker.Occurrence, link string) edit {
	end := occ.End
	if annEnd, _, ok := annotationAt(text, end); ok {
		end = annEnd
	}
	return edit{start: occ.Start, end: end, text: link}
}

// annotateEdit puts the comment for message right after the marker. It
// returns false when exactly that comment is already there.
func annotateEdit(text string, occ marker.Occurrence, message string) (edit, bool) {
	want := annotation(message)
	if annEnd, existing, ok := annotationAt(text, occ.End); ok {
		if existing == want {
			return edit{}, false
		}
		return edit{start: occ.End, end: annEnd, text: want}, true
	}
	return edit{start: occ.End, end: occ.End, text: want}, true
}

// clearAnnotationEdit removes an annotation left after the marker once its
// problem is gone.
func clearAnnotationEdit(text string, occ marker.Occurrence) (edit, bool) {
	annEnd, _, ok := annotationAt(text, occ.End)
	if !ok {
		return edit{}, false
	}
	return edit{start: occ.End, end: annEnd}, true
}

// applyEdits applies non-overlapping edits from the end of the text
// backwards so earlier offsets stay valid.
func applyEdits(text string, edits []edit) string {
	sorted := slices.Clone(edits)
	slices.SortFunc(sorted, func(a, b edit) int {
		if a.start != b.start {
			return cmp.Compare(b.start, a.start)
		}
		return cmp.Compare(b.end, a.end)
	})
	limit := len(text)
	for _, e := range sorted {
		if e.end > limit || e.start > e.end {
			continue
		}
		text = text[:e.start] + e.text + text[e.end:]
		limit = e.start
	}
	return text
}

// dedupeAnnotations collapses runs of identical adjacent annotations,
// which accumulate when a page was annotated by several runs.
func dedupeAnnotations(text string) string {
	locs := annotationPattern.FindAllStringIndex(text, -1)
	if len(locs) < 2 {
		return text
	}
	var b strings.Builder
	last := 0
	prev := ""
	prevEnd := -1
	for _, loc := range locs {
		cur := text[loc[0]:loc[1]]
		if cur == prev && strings.TrimSpace(text[prevEnd:loc[0]]) == "" {
			b.WriteString(text[last:prevEnd])
			last = loc[1]
			prevEnd = loc[1]
			continue
		}
		prev = cur
		prevEnd = loc[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

// hasTemplate reports whether text uses any of names.
func hasTemplate(text string, names []string) bool {
	if len(names) == 0 {
		return false
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[marker.Normalize(n)] = struct{}{}
	}
	for _, t := range wikitext.ParseTemplates(text) {
		if _, ok := want[marker.Normalize(t.Name)]; ok {
			return true
		}
	}
	return false
}
