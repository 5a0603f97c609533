package backlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/iwbot/internal/resolver"
	"github.com/MimeLyc/iwbot/internal/wikitext"
	"github.com/MimeLyc/iwbot/pkg/log"
)

const (
	reportSummary = "Автоматичне оновлення таблиць"
	statsDate     = "02.01.2006"
)

// RenderStats formats the most requested source pages as a wiki table.
func RenderStats(rows []resolver.Count, now time.Time) string {
	var b strings.Builder
	b.WriteString("== Найбільш запитувані переклади ==\n\n")
	fmt.Fprintf(&b, "Станом на %s.\n\n", now.Format(statsDate))
	b.WriteString("{| class=\"standard sortable\"\n")
	b.WriteString("! № || Стаття || Запитів\n")
	for i, r := range rows {
		fmt.Fprintf(&b, "|-\n| %d || %s || %d\n", i+1, wikitext.InterwikiLink(r.Lang, r.Title), r.N)
	}
	b.WriteString("|}")
	return b.String()
}

// PublishReports saves the catch-all report and one report per project
// that has a report page.
func (d *Driver) PublishReports(ctx context.Context) error {
	now := d.opts.Now()
	if d.opts.ReportPage != "" {
		if err := d.publish(ctx, d.opts.ReportPage, d.ledger.Render("", now)); err != nil {
			return err
		}
	}
	for _, p := range d.ledger.Projects() {
		if p.ReportPage == "" {
			continue
		}
		if err := d.publish(ctx, p.ReportPage, d.ledger.Render(p.Name, now)); err != nil {
			return err
		}
	}
	return nil
}

// PublishStats saves the most requested translations page.
func (d *Driver) PublishStats(ctx context.Context) error {
	if d.opts.StatsPage == "" {
		return nil
	}
	rows := d.resolver.Counter().Top(d.opts.StatsTop)
	return d.publish(ctx, d.opts.StatsPage, RenderStats(rows, d.opts.Now()))
}

func (d *Driver) publish(ctx context.Context, title, text string) error {
	if d.opts.DryRun {
		log.Info("dry run: would update [[%s]] (%d bytes)", title, len(text))
		return nil
	}
	if err := d.pages.SavePage(ctx, d.opts.Lang, title, text, reportSummary); err != nil {
		return fmt.Errorf("publish [[%s]]: %w", title, err)
	}
	log.Info("updated [[%s]]", title)
	return nil
}
