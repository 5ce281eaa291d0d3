package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"newsdigest/internal/core"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// timeFormat has a fixed width so that text comparison orders correctly.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists everything in a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, path: path, now: time.Now}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *SQLiteStore) initialize() error {
	digestsTable := `
	CREATE TABLE IF NOT EXISTS digests (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		word_count INTEGER NOT NULL DEFAULT 0,
		articles TEXT NOT NULL DEFAULT '[]',
		image_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`

	emailLogsTable := `
	CREATE TABLE IF NOT EXISTS email_logs (
		id TEXT PRIMARY KEY,
		digest_id TEXT NOT NULL,
		recipient TEXT NOT NULL,
		subject TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		sent_at TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (digest_id) REFERENCES digests (id)
	);`

	systemLogsTable := `
	CREATE TABLE IF NOT EXISTS system_logs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		message TEXT NOT NULL,
		details TEXT,
		created_at TEXT NOT NULL
	);`

	settingsTable := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`

	indexes := `
	CREATE INDEX IF NOT EXISTS idx_email_logs_digest ON email_logs (digest_id);
	CREATE INDEX IF NOT EXISTS idx_system_logs_created ON system_logs (created_at);`

	for _, stmt := range []string{digestsTable, emailLogsTable, systemLogsTable, settingsTable, indexes} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// CreateDigest inserts a digest
func (s *SQLiteStore) CreateDigest(ctx context.Context, digest *core.Digest) error {
	if digest.ID == "" {
		digest.ID = uuid.NewString()
	}
	if digest.CreatedAt.IsZero() {
		digest.CreatedAt = s.now().UTC()
	}
	if digest.Status == "" {
		digest.Status = core.DigestGenerated
	}
	articles := digest.Articles
	if articles == nil {
		articles = []core.Article{}
	}
	articlesJSON, err := json.Marshal(articles)
	if err != nil {
		return fmt.Errorf("failed to encode articles: %w", err)
	}

	query, args, err := sq.Insert("digests").
		Columns("id", "title", "content", "word_count", "articles", "image_url", "status", "created_at").
		Values(digest.ID, digest.Title, digest.Content, digest.WordCount, string(articlesJSON),
			digest.ImageURL, string(digest.Status), formatTime(digest.CreatedAt)).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert digest: %w", err)
	}
	return nil
}

var digestColumns = []string{"id", "title", "content", "word_count", "articles", "image_url", "status", "created_at"}

func scanDigest(row interface{ Scan(...any) error }) (*core.Digest, error) {
	var (
		d            core.Digest
		articlesJSON string
		status       string
		createdAt    string
	)
	if err := row.Scan(&d.ID, &d.Title, &d.Content, &d.WordCount, &articlesJSON, &d.ImageURL, &status, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(articlesJSON), &d.Articles); err != nil {
		return nil, fmt.Errorf("failed to decode articles: %w", err)
	}
	d.Status = core.DigestStatus(status)
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = t
	return &d, nil
}

// GetDigest retrieves a digest by ID
func (s *SQLiteStore) GetDigest(ctx context.Context, id string) (*core.Digest, error) {
	query, args, err := sq.Select(digestColumns...).From("digests").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	d, err := scanDigest(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("digest %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan digest: %w", err)
	}
	return d, nil
}

// ListDigests retrieves digests, newest first
func (s *SQLiteStore) ListDigests(ctx context.Context, opts ListOptions) ([]core.Digest, error) {
	opts = opts.normalize()
	query, args, err := sq.Select(digestColumns...).From("digests").
		OrderBy("created_at DESC", "rowid DESC").
		Limit(uint64(opts.Limit)).Offset(uint64(opts.Offset)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query digests: %w", err)
	}
	defer rows.Close()

	digests := []core.Digest{}
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan digest: %w", err)
		}
		digests = append(digests, *d)
	}
	return digests, rows.Err()
}

// UpdateDigestStatus moves a digest forward. The status check and the
// write are one conditional UPDATE, so concurrent callers cannot both win.
func (s *SQLiteStore) UpdateDigestStatus(ctx context.Context, id string, status core.DigestStatus) error {
	if !core.DigestGenerated.CanTransition(status) {
		return s.transitionError(ctx, id, status)
	}

	query, args, err := sq.Update("digests").
		Set("status", string(status)).
		Where(sq.Eq{"id": id, "status": string(core.DigestGenerated)}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update digest status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update digest status: %w", err)
	}
	if n == 0 {
		return s.transitionError(ctx, id, status)
	}
	return nil
}

// transitionError reports why a status update matched no row.
func (s *SQLiteStore) transitionError(ctx context.Context, id string, status core.DigestStatus) error {
	query, args, err := sq.Select("status").From("digests").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	var current string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("digest %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to read digest status: %w", err)
	}
	if err := checkTransition(id, core.DigestStatus(current), status); err != nil {
		return err
	}
	return fmt.Errorf("digest %s: %s -> %s: %w", id, current, status, ErrInvalidTransition)
}

// CreateEmailLog inserts an email log
func (s *SQLiteStore) CreateEmailLog(ctx context.Context, log *core.EmailLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now().UTC()
	}
	if log.Status == "" {
		log.Status = core.EmailPending
	}

	var sentAt any
	if log.SentAt != nil {
		sentAt = formatTime(*log.SentAt)
	}

	query, args, err := sq.Insert("email_logs").
		Columns("id", "digest_id", "recipient", "subject", "status", "error", "sent_at", "created_at").
		Values(log.ID, log.DigestID, log.Recipient, log.Subject, string(log.Status), log.Error, sentAt, formatTime(log.CreatedAt)).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert email log: %w", err)
	}
	return nil
}

var emailLogColumns = []string{"id", "digest_id", "recipient", "subject", "status", "error", "sent_at", "created_at"}

func (s *SQLiteStore) queryEmailLogs(ctx context.Context, b sq.SelectBuilder) ([]core.EmailLog, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query email logs: %w", err)
	}
	defer rows.Close()

	logs := []core.EmailLog{}
	for rows.Next() {
		var (
			l         core.EmailLog
			status    string
			errText   sql.NullString
			sentAt    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&l.ID, &l.DigestID, &l.Recipient, &l.Subject, &status, &errText, &sentAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan email log: %w", err)
		}
		l.Status = core.EmailStatus(status)
		if errText.Valid {
			l.Error = &errText.String
		}
		if sentAt.Valid {
			t, err := parseTime(sentAt.String)
			if err != nil {
				return nil, err
			}
			l.SentAt = &t
		}
		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ListEmailLogs retrieves email logs, newest first
func (s *SQLiteStore) ListEmailLogs(ctx context.Context, opts ListOptions) ([]core.EmailLog, error) {
	opts = opts.normalize()
	return s.queryEmailLogs(ctx, sq.Select(emailLogColumns...).From("email_logs").
		OrderBy("created_at DESC", "rowid DESC").
		Limit(uint64(opts.Limit)).Offset(uint64(opts.Offset)))
}

// ListEmailLogsByDigest retrieves the logs of one digest in insertion order
func (s *SQLiteStore) ListEmailLogsByDigest(ctx context.Context, digestID string) ([]core.EmailLog, error) {
	return s.queryEmailLogs(ctx, sq.Select(emailLogColumns...).From("email_logs").
		Where(sq.Eq{"digest_id": digestID}).
		OrderBy("rowid ASC"))
}

// CreateSystemLog appends a system log
func (s *SQLiteStore) CreateSystemLog(ctx context.Context, log *core.SystemLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now().UTC()
	}
	if log.Type == "" {
		log.Type = core.LogInfo
	}

	var details any
	if log.Details != nil {
		encoded, err := json.Marshal(log.Details)
		if err != nil {
			return fmt.Errorf("failed to encode log details: %w", err)
		}
		details = string(encoded)
	}

	query, args, err := sq.Insert("system_logs").
		Columns("id", "type", "message", "details", "created_at").
		Values(log.ID, string(log.Type), log.Message, details, formatTime(log.CreatedAt)).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert system log: %w", err)
	}
	return nil
}

// ListSystemLogs retrieves system logs, newest first
func (s *SQLiteStore) ListSystemLogs(ctx context.Context, opts ListOptions) ([]core.SystemLog, error) {
	opts = opts.normalize()
	query, args, err := sq.Select("id", "type", "message", "details", "created_at").From("system_logs").
		OrderBy("created_at DESC", "rowid DESC").
		Limit(uint64(opts.Limit)).Offset(uint64(opts.Offset)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query system logs: %w", err)
	}
	defer rows.Close()

	logs := []core.SystemLog{}
	for rows.Next() {
		var (
			l         core.SystemLog
			logType   string
			details   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&l.ID, &logType, &l.Message, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan system log: %w", err)
		}
		l.Type = core.LogType(logType)
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &l.Details); err != nil {
				return nil, fmt.Errorf("failed to decode log details: %w", err)
			}
		}
		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// GetSetting retrieves a setting
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (*core.Setting, error) {
	query, args, err := sq.Select("key", "value", "updated_at").From("settings").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return nil, err
	}

	var (
		setting   core.Setting
		updatedAt string
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&setting.Key, &setting.Value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read setting: %w", err)
	}
	if setting.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &setting, nil
}

// SetSetting writes a setting
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	query, args, err := sq.Insert("settings").
		Columns("key", "value", "updated_at").
		Values(key, value, formatTime(s.now())).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to write setting: %w", err)
	}
	return nil
}

// ListSettings retrieves every setting ordered by key
func (s *SQLiteStore) ListSettings(ctx context.Context) ([]core.Setting, error) {
	query, args, err := sq.Select("key", "value", "updated_at").From("settings").OrderBy("key").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	settings := []core.Setting{}
	for rows.Next() {
		var (
			setting   core.Setting
			updatedAt string
		)
		if err := rows.Scan(&setting.Key, &setting.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		if setting.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		settings = append(settings, setting)
	}
	return settings, rows.Err()
}

// Stats computes the dashboard counters
func (s *SQLiteStore) Stats(ctx context.Context) (*core.DigestStats, error) {
	var totalDigests int
	query, args, err := sq.Select("COUNT(*)").From("digests").ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&totalDigests); err != nil {
		return nil, fmt.Errorf("failed to count digests: %w", err)
	}

	var totalLogs int
	var sentLogs sql.NullInt64
	query, args, err = sq.Select("COUNT(*)").
		Column("SUM(CASE WHEN status = ? THEN 1 ELSE 0 END)", string(core.EmailSent)).
		From("email_logs").ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&totalLogs, &sentLogs); err != nil {
		return nil, fmt.Errorf("failed to count email logs: %w", err)
	}

	var latest string
	query, args, err = sq.Select("type").From("system_logs").
		OrderBy("created_at DESC", "rowid DESC").Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&latest); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read latest system log: %w", err)
	}

	var lastDigest string
	if setting, err := s.GetSetting(ctx, core.SettingLastDigestTime); err == nil {
		lastDigest = setting.Value
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return buildStats(totalDigests, int(sentLogs.Int64), totalLogs, lastDigest, core.LogType(latest)), nil
}
