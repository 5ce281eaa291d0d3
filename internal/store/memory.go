package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"newsdigest/internal/core"

	"github.com/google/uuid"
)

// record pairs a value with its insertion sequence, the tie-breaker for
// rows created within the same clock tick.
type record[T any] struct {
	seq   uint64
	value T
}

// MemoryStore keeps everything in process memory. It is the default
// backend and loses its contents on restart.
type MemoryStore struct {
	mu         sync.RWMutex
	seq        uint64
	now        func() time.Time
	digests    map[string]*record[core.Digest]
	emailLogs  []record[core.EmailLog]
	systemLogs []record[core.SystemLog]
	settings   map[string]core.Setting
}

var _ Repository = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock replaces time.Now.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:      time.Now,
		digests:  make(map[string]*record[core.Digest]),
		settings: make(map[string]core.Setting),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// CreateDigest inserts a digest
func (s *MemoryStore) CreateDigest(_ context.Context, digest *core.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if digest.ID == "" {
		digest.ID = uuid.NewString()
	}
	if _, exists := s.digests[digest.ID]; exists {
		return fmt.Errorf("digest %s already exists", digest.ID)
	}
	if digest.CreatedAt.IsZero() {
		digest.CreatedAt = s.now().UTC()
	}
	if digest.Status == "" {
		digest.Status = core.DigestGenerated
	}

	stored := *digest
	stored.Articles = append([]core.Article(nil), digest.Articles...)
	s.digests[digest.ID] = &record[core.Digest]{seq: s.nextSeq(), value: stored}
	return nil
}

// GetDigest retrieves a digest by ID
func (s *MemoryStore) GetDigest(_ context.Context, id string) (*core.Digest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.digests[id]
	if !ok {
		return nil, fmt.Errorf("digest %s: %w", id, ErrNotFound)
	}
	d := rec.value
	d.Articles = append([]core.Article(nil), rec.value.Articles...)
	return &d, nil
}

// ListDigests retrieves digests, newest first
func (s *MemoryStore) ListDigests(_ context.Context, opts ListOptions) ([]core.Digest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]record[core.Digest], 0, len(s.digests))
	for _, rec := range s.digests {
		recs = append(recs, *rec)
	}
	sortNewestFirst(recs, func(d core.Digest) time.Time { return d.CreatedAt })
	return values(paginate(recs, opts)), nil
}

// UpdateDigestStatus moves a digest forward
func (s *MemoryStore) UpdateDigestStatus(_ context.Context, id string, status core.DigestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.digests[id]
	if !ok {
		return fmt.Errorf("digest %s: %w", id, ErrNotFound)
	}
	if err := checkTransition(id, rec.value.Status, status); err != nil {
		return err
	}
	rec.value.Status = status
	return nil
}

// CreateEmailLog inserts an email log
func (s *MemoryStore) CreateEmailLog(_ context.Context, log *core.EmailLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now().UTC()
	}
	if log.Status == "" {
		log.Status = core.EmailPending
	}
	s.emailLogs = append(s.emailLogs, record[core.EmailLog]{seq: s.nextSeq(), value: *log})
	return nil
}

// ListEmailLogs retrieves email logs, newest first
func (s *MemoryStore) ListEmailLogs(_ context.Context, opts ListOptions) ([]core.EmailLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := append([]record[core.EmailLog](nil), s.emailLogs...)
	sortNewestFirst(recs, func(l core.EmailLog) time.Time { return l.CreatedAt })
	return values(paginate(recs, opts)), nil
}

// ListEmailLogsByDigest retrieves the logs of one digest in insertion order
func (s *MemoryStore) ListEmailLogsByDigest(_ context.Context, digestID string) ([]core.EmailLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []core.EmailLog{}
	for _, rec := range s.emailLogs {
		if rec.value.DigestID == digestID {
			out = append(out, rec.value)
		}
	}
	return out, nil
}

// CreateSystemLog appends a system log
func (s *MemoryStore) CreateSystemLog(_ context.Context, log *core.SystemLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now().UTC()
	}
	if log.Type == "" {
		log.Type = core.LogInfo
	}
	s.systemLogs = append(s.systemLogs, record[core.SystemLog]{seq: s.nextSeq(), value: *log})
	return nil
}

// ListSystemLogs retrieves system logs, newest first
func (s *MemoryStore) ListSystemLogs(_ context.Context, opts ListOptions) ([]core.SystemLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := append([]record[core.SystemLog](nil), s.systemLogs...)
	sortNewestFirst(recs, func(l core.SystemLog) time.Time { return l.CreatedAt })
	return values(paginate(recs, opts)), nil
}

// GetSetting retrieves a setting
func (s *MemoryStore) GetSetting(_ context.Context, key string) (*core.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	setting, ok := s.settings[key]
	if !ok {
		return nil, fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	return &setting, nil
}

// SetSetting writes a setting
func (s *MemoryStore) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = core.Setting{Key: key, Value: value, UpdatedAt: s.now().UTC()}
	return nil
}

// ListSettings retrieves every setting ordered by key
func (s *MemoryStore) ListSettings(_ context.Context) ([]core.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Setting, 0, len(s.settings))
	for _, setting := range s.settings {
		out = append(out, setting)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Stats computes the dashboard counters
func (s *MemoryStore) Stats(_ context.Context) (*core.DigestStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sent := 0
	for _, rec := range s.emailLogs {
		if rec.value.Status == core.EmailSent {
			sent++
		}
	}

	var latest core.LogType
	var latestSeq uint64
	for _, rec := range s.systemLogs {
		if rec.seq > latestSeq {
			latest, latestSeq = rec.value.Type, rec.seq
		}
	}

	return buildStats(len(s.digests), sent, len(s.emailLogs), s.settings[core.SettingLastDigestTime].Value, latest), nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

func sortNewestFirst[T any](recs []record[T], created func(T) time.Time) {
	sort.Slice(recs, func(i, j int) bool {
		ci, cj := created(recs[i].value), created(recs[j].value)
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return recs[i].seq > recs[j].seq
	})
}

func paginate[T any](recs []record[T], opts ListOptions) []record[T] {
	opts = opts.normalize()
	if opts.Offset >= len(recs) {
		return nil
	}
	end := opts.Offset + opts.Limit
	if end > len(recs) {
		end = len(recs)
	}
	return recs[opts.Offset:end]
}

func values[T any](recs []record[T]) []T {
	out := make([]T, len(recs))
	for i, rec := range recs {
		out[i] = rec.value
	}
	return out
}
