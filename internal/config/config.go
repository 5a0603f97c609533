package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/iwbot/internal/marker"
	"github.com/MimeLyc/iwbot/internal/resolver"
	"github.com/MimeLyc/iwbot/pkg/log"
)

// Config holds all application configuration
// Supports environment variables (and an optional .env file) with sensible defaults
//
// Environment Variables:
// Wiki Access:
// - WIKI_LANG: local language edition (default: uk)
// - WIKI_API_URL: Action API URL, {lang} is substituted (default: https://{lang}.wikipedia.org/w/api.php)
// - WIKIDATA_API_URL: identity registry API (default: https://www.wikidata.org/w/api.php)
// - WIKI_USER_AGENT: User-Agent sent with every request
// - WIKI_OAUTH_TOKEN: bearer token for edits (required unless DRY_RUN)
// - WIKI_TIMEOUT: request timeout (default: 30s)
//
// Backlog:
// - BACKLOG_SEARCH: comma separated search queries
// - BACKLOG_NAMESPACES: comma separated namespace ids (default: 0)
// - BACKLOG_CATEGORIES, BACKLOG_TEMPLATES: extra candidate sources
// - SKIP_PREFIXES, MANUAL_EDIT_TEMPLATES: pages left alone
// - LOOP, FLUSH_EVERY, MAX_PAGES, DRY_RUN, ANNOTATE_PROBLEMS
//
// Cache:
// - CACHE_BACKEND: sqlite, redis or memory (default: sqlite)
// - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB
// - CACHE_POSITIVE_TTL (default: 168h), CACHE_NEGATIVE_TTL (default: 24h)
// - LOOKUP_CONCURRENCY (default: 4)
//
// Reports and scheduling:
// - REPORT_PAGE, STATS_PAGE, STATS_TOP, PROJECTS_FILE
// - PASS_CRON (default: @daily), RECHECK_CRON (default: @weekly)
// - LINK_POLICY: requested or redirect-target
//
// System:
// - DATA_DIR (default: /app/data), TURK_FILE, LOG_LEVEL, LOG_FILE, HTTP_ADDR
type Config struct {
	Wiki     WikiConfig     `json:"wiki"`
	Backlog  BacklogConfig  `json:"backlog"`
	Cache    CacheConfig    `json:"cache"`
	Reports  ReportsConfig  `json:"reports"`
	Schedule ScheduleConfig `json:"schedule"`
	System   SystemConfig   `json:"system"`
}

type WikiConfig struct {
	Lang        string        `json:"lang"`
	APIURL      string        `json:"api_url"`
	WikidataURL string        `json:"wikidata_url"`
	UserAgent   string        `json:"user_agent"`
	Token       string        `json:"-"`
	Timeout     time.Duration `json:"timeout"`
	MaxRetries  int           `json:"max_retries"`
}

type BacklogConfig struct {
	Searches            []string `json:"searches"`
	Namespaces          []int    `json:"namespaces"`
	Categories          []string `json:"categories"`
	Templates           []string `json:"templates"`
	SkipPrefixes        []string `json:"skip_prefixes"`
	ManualEditTemplates []string `json:"manual_edit_templates"`
	Loop                bool     `json:"loop"`
	FlushEvery          int      `json:"flush_every"`
	MaxPages            int      `json:"max_pages"`
	DryRun              bool     `json:"dry_run"`
	Annotate            bool     `json:"annotate"`
	LinkPolicy          string   `json:"link_policy"`
}

type CacheConfig struct {
	Backend       string        `json:"backend"`
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"-"`
	RedisDB       int           `json:"redis_db"`
	PositiveTTL   time.Duration `json:"positive_ttl"`
	NegativeTTL   time.Duration `json:"negative_ttl"`
	Concurrency   int           `json:"concurrency"`
}

type ReportsConfig struct {
	ReportPage   string `json:"report_page"`
	StatsPage    string `json:"stats_page"`
	StatsTop     int    `json:"stats_top"`
	ProjectsFile string `json:"projects_file"`
}

type ScheduleConfig struct {
	PassCron    string `json:"pass_cron"`
	RecheckCron string `json:"recheck_cron"`
}

type SystemConfig struct {
	DataDir  string `json:"data_dir"`
	TurkFile string `json:"turk_file"`
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
	HTTPAddr string `json:"http_addr"`
}

// Cache backends.
const (
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

const defaultUserAgent = "iwbot/1.0 (https://uk.wikipedia.org/wiki/User:PavloChemBot/Iw)"

// Option is a function type for configuring Config
type Option func(*Config)

// WithDryRun forces dry-run mode, e.g. from a command line flag.
func WithDryRun(dry bool) Option {
	return func(c *Config) {
		if dry {
			c.Backlog.DryRun = true
		}
	}
}

// WithMaxPages overrides MAX_PAGES when n is positive.
func WithMaxPages(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Backlog.MaxPages = n
		}
	}
}

// NewFromEnv creates a new Config instance with values from environment variables and options.
// A .env file in the working directory, if present, fills variables not already set.
func NewFromEnv(opts ...Option) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to load .env: %v", err)
	}

	config := &Config{
		Wiki: WikiConfig{
			Lang:        getEnvString("WIKI_LANG", "uk"),
			APIURL:      getEnvString("WIKI_API_URL", "https://{lang}.wikipedia.org/w/api.php"),
			WikidataURL: getEnvString("WIKIDATA_API_URL", "https://www.wikidata.org/w/api.php"),
			UserAgent:   getEnvString("WIKI_USER_AGENT", defaultUserAgent),
			Token:       getEnvString("WIKI_OAUTH_TOKEN", ""),
			Timeout:     getEnvDuration("WIKI_TIMEOUT", 30*time.Second),
			MaxRetries:  getEnvInt("WIKI_MAX_RETRIES", 3),
		},
		Backlog: BacklogConfig{
			Searches:            getEnvList("BACKLOG_SEARCH", []string{`insource:/\{\{[Нн]е перекладено/`}),
			Namespaces:          getEnvIntList("BACKLOG_NAMESPACES", []int{0}),
			Categories:          getEnvList("BACKLOG_CATEGORIES", nil),
			Templates:           getEnvList("BACKLOG_TEMPLATES", nil),
			SkipPrefixes:        getEnvList("SKIP_PREFIXES", nil),
			ManualEditTemplates: getEnvList("MANUAL_EDIT_TEMPLATES", []string{"Редагую", "Inuse"}),
			Loop:                getEnvBool("LOOP", false),
			FlushEvery:          getEnvInt("FLUSH_EVERY", 20),
			MaxPages:            getEnvInt("MAX_PAGES", 0),
			DryRun:              getEnvBool("DRY_RUN", false),
			Annotate:            getEnvBool("ANNOTATE_PROBLEMS", true),
			LinkPolicy:          getEnvString("LINK_POLICY", "requested"),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(getEnvString("CACHE_BACKEND", CacheSQLite)),
			RedisAddr:     getEnvString("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnvString("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			PositiveTTL:   getEnvDuration("CACHE_POSITIVE_TTL", 168*time.Hour),
			NegativeTTL:   getEnvDuration("CACHE_NEGATIVE_TTL", 24*time.Hour),
			Concurrency:   getEnvInt("LOOKUP_CONCURRENCY", 4),
		},
		Reports: ReportsConfig{
			ReportPage:   getEnvString("REPORT_PAGE", ""),
			StatsPage:    getEnvString("STATS_PAGE", ""),
			StatsTop:     getEnvInt("STATS_TOP", 100),
			ProjectsFile: getEnvString("PROJECTS_FILE", ""),
		},
		Schedule: ScheduleConfig{
			PassCron:    getEnvString("PASS_CRON", "@daily"),
			RecheckCron: getEnvString("RECHECK_CRON", "@weekly"),
		},
		System: SystemConfig{
			DataDir:  getEnvString("DATA_DIR", "/app/data"),
			TurkFile: getEnvString("TURK_FILE", ""),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
			LogFile:  getEnvString("LOG_FILE", ""),
			HTTPAddr: getEnvString("HTTP_ADDR", ":8080"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	log.Debug("Config: %+v", *config)

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if !marker.SupportedLang(c.Wiki.Lang) || c.Wiki.Lang == marker.RegistryLang {
		return fmt.Errorf("WIKI_LANG %q is not a supported language code", c.Wiki.Lang)
	}
	if c.Wiki.Token == "" && !c.Backlog.DryRun {
		return fmt.Errorf("WIKI_OAUTH_TOKEN is required unless DRY_RUN is set")
	}
	if !strings.Contains(c.Wiki.APIURL, "{lang}") {
		return fmt.Errorf("WIKI_API_URL must contain {lang}")
	}
	for name, expr := range map[string]string{
		"PASS_CRON":    c.Schedule.PassCron,
		"RECHECK_CRON": c.Schedule.RecheckCron,
	} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	switch c.Cache.Backend {
	case CacheSQLite, CacheRedis, CacheMemory:
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}
	if c.Cache.Concurrency < 1 {
		return fmt.Errorf("LOOKUP_CONCURRENCY must be positive")
	}
	if _, err := resolver.ParseLinkPolicy(c.Backlog.LinkPolicy); err != nil {
		return fmt.Errorf("invalid LINK_POLICY: %w", err)
	}
	return nil
}

// DBPath is the SQLite database under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "iwbot.db")
}

// TurkPath is the adjudication file, by default next to the database.
func (c *Config) TurkPath() string {
	if c.System.TurkFile != "" {
		return c.System.TurkFile
	}
	return filepath.Join(c.System.DataDir, "turk.json")
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90m") or bare seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	ret := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			ret = append(ret, item)
		}
	}
	return ret
}

func getEnvIntList(key string, defaultValue []int) []int {
	items := getEnvList(key, nil)
	if len(items) == 0 {
		return defaultValue
	}
	ret := make([]int, 0, len(items))
	for _, item := range items {
		n, err := strconv.Atoi(item)
		if err != nil {
			return defaultValue
		}
		ret = append(ret, n)
	}
	return ret
}
