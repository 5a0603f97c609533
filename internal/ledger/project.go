package ledger

import (
	"strings"

	"github.com/MimeLyc/iwbot/internal/marker"
	"github.com/MimeLyc/iwbot/internal/wikitext"
)

// Project is a topical bucket of the report. A page belongs to it when its
// title starts with one of Prefixes or its talk page carries one of Banners.
type Project struct {
	Name       string   `yaml:"name" json:"name"`
	ReportPage string   `yaml:"report_page" json:"report_page"`
	Prefixes   []string `yaml:"prefixes" json:"prefixes,omitempty"`
	Banners    []string `yaml:"banners" json:"banners,omitempty"`
}

// NeedsTalkPage reports whether membership depends on talk-page banners.
func (p Project) NeedsTalkPage() bool {
	return len(p.Banners) > 0
}

// Matches checks title and the template names found on its talk page.
func (p Project) Matches(title string, talkTemplates []string) bool {
	for _, prefix := range p.Prefixes {
		if prefix != "" && strings.HasPrefix(title, prefix) {
			return true
		}
	}
	for _, banner := range p.Banners {
		want := marker.Normalize(banner)
		for _, name := range talkTemplates {
			if marker.Normalize(name) == want {
				return true
			}
		}
	}
	return false
}

// TalkTemplates lists template names used on a talk page.
func TalkTemplates(text string) []string {
	tmpls := wikitext.ParseTemplates(text)
	ret := make([]string, 0, len(tmpls))
	for _, t := range tmpls {
		ret = append(ret, t.Name)
	}
	return ret
}
