package wikitext

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTemplates_PositionalAndNamed(t *testing.T) {
	text := "Текст {{Нп|Галф-Кантрі|||Gulf Country}} і {{iw|треба=Б|є=B|мова=en}}."

	got := ParseTemplates(text)
	require.Len(t, got, 2)

	assert.Equal(t, "Нп", got[0].Name)
	assert.Equal(t, "{{Нп|Галф-Кантрі|||Gulf Country}}", got[0].Raw)
	assert.Equal(t, got[0].Raw, text[got[0].Start:got[0].End])
	want := []Param{
		{Index: 1, Value: "Галф-Кантрі"},
		{Index: 2, Value: ""},
		{Index: 3, Value: ""},
		{Index: 4, Value: "Gulf Country"},
	}
	if diff := cmp.Diff(want, got[0].Params); diff != "" {
		t.Fatalf("params mismatch (-want +got):\n%s", diff)
	}

	lang, ok := got[1].Get("мова")
	require.True(t, ok)
	assert.Equal(t, "en", lang)
}

func TestParseTemplates_NestedLinksAndTemplates(t *testing.T) {
	text := "{{cite|title={{нп|Марковська модель|марковська модель||Markov model}}|url=[[a|b]]}}"

	got := ParseTemplates(text)
	require.Len(t, got, 2)
	assert.Equal(t, "cite", got[0].Name)
	require.Len(t, got[0].Params, 2)
	assert.Equal(t, "url", got[0].Params[1].Name)
	assert.Equal(t, "[[a|b]]", got[0].Params[1].Value)

	assert.Equal(t, "нп", got[1].Name)
	require.Len(t, got[1].Params, 4)
	assert.Equal(t, "Markov model", got[1].Params[3].Value)
}

func TestParseTemplates_SkipsNowikiCommentsAndGallery(t *testing.T) {
	text := "<nowiki>{{нп|A}}</nowiki> <!-- {{нп|B}} --> <gallery>\nFile:x.jpg|{{нп|C}}\n</gallery> {{нп|D}}"

	got := ParseTemplates(text)
	require.Len(t, got, 1)
	assert.Equal(t, "{{нп|D}}", got[0].Raw)
}

func TestParseTemplates_IgnoresUnclosedAndTripleBraces(t *testing.T) {
	got := ParseTemplates("{{{1}}} {{нп|A")
	assert.Empty(t, got)
}

func TestParam_Positional(t *testing.T) {
	n, ok := Param{Name: "3", Value: "x"}.Positional()
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = Param{Name: "мова", Value: "x"}.Positional()
	assert.False(t, ok)
}

func TestParseTemplatesAt_ShiftsOffsets(t *testing.T) {
	got := ParseTemplatesAt("a {{нп|X}}", 100)
	require.Len(t, got, 1)
	assert.Equal(t, 102, got[0].Start)
	assert.Equal(t, 112, got[0].End)
}
