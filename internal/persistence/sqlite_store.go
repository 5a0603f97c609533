package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MimeLyc/iwbot/internal/backlog"
	"github.com/MimeLyc/iwbot/internal/identity"
	"github.com/MimeLyc/iwbot/internal/ledger"
	"github.com/MimeLyc/iwbot/internal/resolver"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

var (
	_ identity.Backend = (*SQLiteStore)(nil)
	_ backlog.Store    = (*SQLiteStore)(nil)
)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var applied int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer of a migration file name,
// "001_init.sql" → 1.
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) GetIdentity(ctx context.Context, lang, title string, now time.Time) (identity.Lookup, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT page_exists, redirect_target, identity_id, redirect_identity_id, local_equivalent, redirect_local_equivalent
		 FROM identity_cache
		 WHERE lang = ? AND title = ? AND (expires_at IS NULL OR expires_at > ?)`,
		lang,
		title,
		now.UTC(),
	)
	var ret identity.Lookup
	var exists int
	if err := row.Scan(
		&exists,
		&ret.RedirectTarget,
		&ret.IdentityID,
		&ret.RedirectIdentityID,
		&ret.LocalEquivalent,
		&ret.RedirectLocalEquivalent,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.Lookup{}, false, nil
		}
		return identity.Lookup{}, false, err
	}
	ret.Exists = exists == 1
	return ret, true, nil
}

func (s *SQLiteStore) PutIdentity(ctx context.Context, lang, title string, l identity.Lookup, expiresAt time.Time) error {
	var expires any
	if !expiresAt.IsZero() {
		expires = expiresAt.UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO identity_cache (
			lang, title, page_exists, redirect_target, identity_id, redirect_identity_id,
			local_equivalent, redirect_local_equivalent, expires_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lang, title) DO UPDATE SET
			page_exists=excluded.page_exists,
			redirect_target=excluded.redirect_target,
			identity_id=excluded.identity_id,
			redirect_identity_id=excluded.redirect_identity_id,
			local_equivalent=excluded.local_equivalent,
			redirect_local_equivalent=excluded.redirect_local_equivalent,
			expires_at=excluded.expires_at,
			updated_at=excluded.updated_at`,
		lang,
		title,
		boolToInt(l.Exists),
		l.RedirectTarget,
		l.IdentityID,
		l.RedirectIdentityID,
		l.LocalEquivalent,
		l.RedirectLocalEquivalent,
		expires,
		time.Now().UTC(),
	)
	return err
}

func (s *SQLiteStore) ClearIdentities(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM identity_cache`)
	return err
}

// DeleteExpiredIdentities removes identity rows whose expires_at is before now.
func (s *SQLiteStore) DeleteExpiredIdentities(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM identity_cache WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) SaveBacklog(ctx context.Context, state backlog.State) error {
	titlesJSON, err := json.Marshal(state.Titles)
	if err != nil {
		return err
	}
	frequency := state.Frequency
	if frequency == nil {
		frequency = []resolver.Count{}
	}
	frequencyJSON, err := json.Marshal(frequency)
	if err != nil {
		return err
	}
	updatedAt := state.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO backlog_state (pass, titles_json, cursor, frequency_json, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(pass) DO UPDATE SET
			titles_json=excluded.titles_json,
			cursor=excluded.cursor,
			frequency_json=excluded.frequency_json,
			updated_at=excluded.updated_at`,
		state.Pass,
		string(titlesJSON),
		state.Cursor,
		string(frequencyJSON),
		updatedAt,
	)
	return err
}

func (s *SQLiteStore) LoadBacklog(ctx context.Context, pass string) (backlog.State, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT pass, titles_json, cursor, frequency_json, updated_at
		 FROM backlog_state
		 WHERE pass = ?`,
		pass,
	)
	var ret backlog.State
	var titlesJSON string
	var frequencyJSON string
	if err := row.Scan(&ret.Pass, &titlesJSON, &ret.Cursor, &frequencyJSON, &ret.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return backlog.State{}, false, nil
		}
		return backlog.State{}, false, err
	}
	if err := json.Unmarshal([]byte(titlesJSON), &ret.Titles); err != nil {
		return backlog.State{}, false, err
	}
	if err := json.Unmarshal([]byte(frequencyJSON), &ret.Frequency); err != nil {
		return backlog.State{}, false, err
	}
	return ret, true, nil
}

// ReplaceProblems swaps the whole stored ledger for entries.
func (s *SQLiteStore) ReplaceProblems(ctx context.Context, entries []ledger.Entry) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM problem_projects`); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM problems`); err != nil {
		return err
	}
	for _, e := range entries {
		var messagesJSON []byte
		messagesJSON, err = json.Marshal(e.Messages)
		if err != nil {
			return err
		}
		updatedAt := e.Updated.UTC()
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO problems (page, messages_json, updated_at) VALUES (?, ?, ?)`,
			e.Page,
			string(messagesJSON),
			updatedAt,
		); err != nil {
			return err
		}
		for _, project := range e.Projects {
			if _, err = tx.ExecContext(
				ctx,
				`INSERT OR IGNORE INTO problem_projects (page, project) VALUES (?, ?)`,
				e.Page,
				project,
			); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadProblems(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT page, messages_json, updated_at
		 FROM problems
		 ORDER BY page ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]ledger.Entry, 0)
	index := make(map[string]int)
	for rows.Next() {
		var item ledger.Entry
		var messagesJSON string
		if err := rows.Scan(&item.Page, &messagesJSON, &item.Updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(messagesJSON), &item.Messages); err != nil {
			return nil, err
		}
		index[item.Page] = len(ret)
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	projRows, err := s.db.QueryContext(ctx, `SELECT page, project FROM problem_projects ORDER BY page, project`)
	if err != nil {
		return nil, err
	}
	defer projRows.Close()
	for projRows.Next() {
		var page, project string
		if err := projRows.Scan(&page, &project); err != nil {
			return nil, err
		}
		if i, ok := index[page]; ok {
			ret[i].Projects = append(ret[i].Projects, project)
		}
	}
	return ret, projRows.Err()
}

func (s *SQLiteStore) RecordPass(ctx context.Context, rec backlog.PassRecord) error {
	var finished any
	if !rec.FinishedAt.IsZero() {
		finished = rec.FinishedAt.UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO pass_history (id, kind, status, started_at, finished_at, pages, changed, skipped, problems)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			finished_at=excluded.finished_at,
			pages=excluded.pages,
			changed=excluded.changed,
			skipped=excluded.skipped,
			problems=excluded.problems`,
		rec.ID,
		rec.Kind,
		string(rec.Status),
		rec.StartedAt.UTC(),
		finished,
		rec.Pages,
		rec.Changed,
		rec.Skipped,
		rec.Problems,
	)
	return err
}

// ListPasses returns the most recent passes first.
func (s *SQLiteStore) ListPasses(ctx context.Context, limit int) ([]backlog.PassRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, kind, status, started_at, finished_at, pages, changed, skipped, problems
		 FROM pass_history
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]backlog.PassRecord, 0)
	for rows.Next() {
		var item backlog.PassRecord
		var status string
		var finished sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&item.Kind,
			&status,
			&item.StartedAt,
			&finished,
			&item.Pages,
			&item.Changed,
			&item.Skipped,
			&item.Problems,
		); err != nil {
			return nil, err
		}
		item.Status = backlog.PassStatus(status)
		if finished.Valid {
			item.FinishedAt = finished.Time
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
