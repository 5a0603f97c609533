// Package wiki is a small client for the MediaWiki Action API and the
// Wikidata entity API, covering what the bot reads and writes.
package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/iwbot/pkg/log"
)

// Config configures a Client.
//
// APIURL may contain "{lang}", replaced by the language edition code.
// Token, when set, is sent as an OAuth 2 bearer token.
type Config struct {
	APIURL      string
	WikidataURL string
	UserAgent   string
	Token       string
	Timeout     time.Duration
	MaxRetries  int
	// MaxLag is passed as maxlag to play well with replication lag.
	MaxLag int
}

// Client talks to every language edition through one HTTP client.
// Safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client

	mu     sync.Mutex
	tokens map[string]string
}

func NewClient(config Config) (*Client, error) {
	if strings.TrimSpace(config.APIURL) == "" {
		return nil, fmt.Errorf("api url is required")
	}
	if strings.TrimSpace(config.WikidataURL) == "" {
		return nil, fmt.Errorf("wikidata url is required")
	}
	if config.UserAgent == "" {
		config.UserAgent = "iwbot/1.0"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		tokens:     make(map[string]string),
	}, nil
}

func (c *Client) endpoint(lang string) string {
	return strings.ReplaceAll(c.config.APIURL, "{lang}", lang)
}

var redirectPattern = regexp.MustCompile(`(?i)^\s*#\s*(?:REDIRECT|ПЕРЕНАПРАВЛЕННЯ|ПЕРЕНАПР|ПЕРЕАДРЕСАЦИЯ|WEITERLEITUNG|REDIRECTION)\s*:?\s*\[\[([^\]|#]+)`)

type queryPagesResponse struct {
	Query struct {
		Pages []struct {
			Title     string `json:"title"`
			Missing   bool   `json:"missing"`
			Invalid   bool   `json:"invalid"`
			Redirect  bool   `json:"redirect"`
			Revisions []struct {
				Slots struct {
					Main struct {
						Content string `json:"content"`
					} `json:"main"`
				} `json:"slots"`
			} `json:"revisions"`
		} `json:"pages"`
	} `json:"query"`
}

// FetchPage reads the current text of title on the lang edition. Redirects
// are not followed; a redirect page reports its target instead.
func (c *Client) FetchPage(ctx context.Context, lang, title string) (Page, error) {
	params := url.Values{
		"action":  {"query"},
		"prop":    {"info|revisions"},
		"rvprop":  {"content"},
		"rvslots": {"main"},
		"titles":  {title},
	}
	var resp queryPagesResponse
	if err := c.get(ctx, c.endpoint(lang), params, &resp); err != nil {
		return Page{}, err
	}
	ret := Page{Lang: lang, Title: title}
	if len(resp.Query.Pages) == 0 {
		return ret, nil
	}
	p := resp.Query.Pages[0]
	if p.Invalid {
		return Page{}, fmt.Errorf("invalid title %q on %s", title, lang)
	}
	if p.Title != "" {
		ret.Title = p.Title
	}
	if p.Missing {
		return ret, nil
	}
	ret.Exists = true
	if len(p.Revisions) > 0 {
		ret.Text = p.Revisions[0].Slots.Main.Content
	}
	if m := redirectPattern.FindStringSubmatch(ret.Text); m != nil {
		ret.IsRedirect = true
		ret.RedirectTarget = strings.TrimSpace(m[1])
	} else if p.Redirect {
		ret.IsRedirect = true
	}
	return ret, nil
}

type entitiesResponse struct {
	Entities map[string]struct {
		ID        string          `json:"id"`
		Missing   json.RawMessage `json:"missing"`
		Sitelinks map[string]struct {
			Site  string `json:"site"`
			Title string `json:"title"`
		} `json:"sitelinks"`
	} `json:"entities"`
}

// FetchIdentity reads the Wikidata item of a page, or, for lang "d", the
// item with the given id. It returns ErrNoRecord when there is none.
func (c *Client) FetchIdentity(ctx context.Context, lang, titleOrID string) (Record, error) {
	params := url.Values{
		"action":    {"wbgetentities"},
		"props":     {"sitelinks"},
		"redirects": {"no"},
	}
	if lang == "d" {
		params.Set("ids", titleOrID)
	} else {
		params.Set("sites", siteID(lang))
		params.Set("titles", titleOrID)
	}
	var resp entitiesResponse
	if err := c.get(ctx, c.config.WikidataURL, params, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "no-such-entity" {
			return Record{}, ErrNoRecord
		}
		return Record{}, err
	}
	for _, e := range resp.Entities {
		if e.Missing != nil || e.ID == "" {
			continue
		}
		rec := Record{ID: e.ID, Sitelinks: make(map[string]string, len(e.Sitelinks))}
		for site, link := range e.Sitelinks {
			if code, ok := langOfSite(site); ok {
				rec.Sitelinks[code] = link.Title
			}
		}
		return rec, nil
	}
	return Record{}, ErrNoRecord
}

func siteID(lang string) string {
	return strings.ReplaceAll(lang, "-", "_") + "wiki"
}

func langOfSite(site string) (string, bool) {
	code, ok := strings.CutSuffix(site, "wiki")
	if !ok || code == "" || strings.Contains(code, "wiki") {
		return "", false
	}
	switch code {
	case "commons", "meta", "species", "wikidata", "mediawiki", "sources", "outreach", "incubator":
		return "", false
	}
	return strings.ReplaceAll(code, "_", "-"), true
}

// SavePage replaces the text of title. A refused edit is a *SaveError.
func (c *Client) SavePage(ctx context.Context, lang, title, text, summary string) error {
	token, err := c.csrfToken(ctx, lang)
	if err != nil {
		return err
	}
	form := url.Values{
		"action":  {"edit"},
		"title":   {title},
		"text":    {text},
		"summary": {summary},
		"bot":     {"1"},
		"token":   {token},
	}
	var resp struct {
		Edit struct {
			Result string `json:"result"`
			Info   string `json:"info"`
		} `json:"edit"`
	}
	err = c.post(ctx, c.endpoint(lang), form, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == "badtoken" {
			c.mu.Lock()
			delete(c.tokens, lang)
			c.mu.Unlock()
		}
		return &SaveError{Code: saveCode(apiErr.Code), Title: title, Info: apiErr.Info}
	}
	if err != nil {
		return err
	}
	if resp.Edit.Result != "Success" {
		return &SaveError{Code: SaveOther, Title: title, Info: resp.Edit.Info}
	}
	return nil
}

func saveCode(apiCode string) SaveErrorCode {
	switch apiCode {
	case "editconflict":
		return SaveEditConflict
	case "protectedpage", "cascadeprotected", "protectedtitle":
		return SaveProtected
	case "spamblacklist", "spamdetected", "abusefilter-disallowed":
		return SaveSpamFilter
	default:
		return SaveOther
	}
}

func (c *Client) csrfToken(ctx context.Context, lang string) (string, error) {
	c.mu.Lock()
	token, ok := c.tokens[lang]
	c.mu.Unlock()
	if ok {
		return token, nil
	}
	var resp struct {
		Query struct {
			Tokens struct {
				CSRF string `json:"csrftoken"`
			} `json:"tokens"`
		} `json:"query"`
	}
	params := url.Values{"action": {"query"}, "meta": {"tokens"}, "type": {"csrf"}}
	if err := c.get(ctx, c.endpoint(lang), params, &resp); err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}
	token = resp.Query.Tokens.CSRF
	if token == "" || token == "+\\" {
		return "", fmt.Errorf("no csrf token for %s: not logged in", lang)
	}
	c.mu.Lock()
	c.tokens[lang] = token
	c.mu.Unlock()
	return token, nil
}

func nsParam(namespaces []int) string {
	parts := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		parts = append(parts, strconv.Itoa(ns))
	}
	return strings.Join(parts, "|")
}

// Search runs a full-text search on lang and returns every matching title.
func (c *Client) Search(ctx context.Context, lang, query string, namespaces []int) ([]string, error) {
	params := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {"max"},
		"srinfo":   {""},
		"srprop":   {""},
	}
	if len(namespaces) > 0 {
		params.Set("srnamespace", nsParam(namespaces))
	}
	return c.listTitles(ctx, lang, params, "search")
}

// CategoryMembers lists the pages of a category. The namespace prefix is
// added when missing.
func (c *Client) CategoryMembers(ctx context.Context, lang, category string) ([]string, error) {
	if !strings.Contains(category, ":") {
		category = "Категорія:" + category
	}
	params := url.Values{
		"action":  {"query"},
		"list":    {"categorymembers"},
		"cmtitle": {category},
		"cmlimit": {"max"},
	}
	return c.listTitles(ctx, lang, params, "categorymembers")
}

// Backlinks lists the pages that transclude template.
func (c *Client) Backlinks(ctx context.Context, lang, template string) ([]string, error) {
	if !strings.Contains(template, ":") {
		template = "Шаблон:" + template
	}
	params := url.Values{
		"action":  {"query"},
		"list":    {"embeddedin"},
		"eititle": {template},
		"eilimit": {"max"},
	}
	return c.listTitles(ctx, lang, params, "embeddedin")
}

// listTitles follows API continuation until the list is exhausted.
func (c *Client) listTitles(ctx context.Context, lang string, params url.Values, list string) ([]string, error) {
	ret := make([]string, 0)
	for {
		var resp struct {
			Continue map[string]any             `json:"continue"`
			Query    map[string]json.RawMessage `json:"query"`
		}
		if err := c.get(ctx, c.endpoint(lang), params, &resp); err != nil {
			return nil, err
		}
		var items []struct {
			Title string `json:"title"`
		}
		if raw, ok := resp.Query[list]; ok {
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("decode %s: %w", list, err)
			}
		}
		for _, item := range items {
			ret = append(ret, item.Title)
		}
		if len(resp.Continue) == 0 {
			return ret, nil
		}
		for k, v := range resp.Continue {
			params.Set(k, fmt.Sprint(v))
		}
	}
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, params, out)
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, endpoint, form, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, out any) error {
	params.Set("format", "json")
	params.Set("formatversion", "2")
	if c.config.MaxLag > 0 {
		params.Set("maxlag", strconv.Itoa(c.config.MaxLag))
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * time.Second
			log.Debug("retrying %s %s in %s: %v", method, endpoint, delay, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		retry, err := c.once(ctx, method, endpoint, params, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, endpoint string, params url.Values, out any) (bool, error) {
	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return true, fmt.Errorf("api status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("api status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error.Code == "maxlag", envelope.Error
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
