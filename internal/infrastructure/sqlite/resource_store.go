// Package sqlite provides the durable local tier of the resource
// cache. Rows survive restarts and carry the freshness metadata the
// coordinator needs for conditional fetches: etag, last-updated,
// expiration and the stale flag.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"eventwish-sync/internal/domain/resource"
	"eventwish-sync/internal/stream"
)

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	resource_type    TEXT NOT NULL,
	resource_key     TEXT NOT NULL,
	data             BLOB,
	metadata         TEXT,
	etag             TEXT,
	last_updated     INTEGER NOT NULL,
	expiration_time  INTEGER NOT NULL,
	stale            INTEGER NOT NULL DEFAULT 0,
	UNIQUE(resource_type, resource_key)
);
CREATE INDEX IF NOT EXISTS idx_resources_type ON resources(resource_type);
CREATE INDEX IF NOT EXISTS idx_resources_expiration ON resources(expiration_time);
`

// ErrNotFound is returned when no row exists for a type/key pair.
var ErrNotFound = errors.New("resource not found")

// ResourceStore persists cached resources in SQLite.
type ResourceStore struct {
	sqlDB  *sql.DB
	logger *zap.Logger

	watchers *watchRegistry
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the resource store at path and creates the schema.
func Open(path string, logger *zap.Logger) (*ResourceStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &ResourceStore{
		sqlDB:    sqlDB,
		logger:   logger,
		watchers: newWatchRegistry(),
	}, nil
}

// Close closes the SQLite handle and all watch channels.
func (s *ResourceStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	s.watchers.closeAll()
	return s.sqlDB.Close()
}

// Get returns the stored entity for type and key, or ErrNotFound.
func (s *ResourceStore) Get(ctx context.Context, t resource.Type, key string) (resource.Entity, error) {
	if err := ctx.Err(); err != nil {
		return resource.Entity{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
		SELECT resource_type, resource_key, data, metadata, etag,
		       last_updated, expiration_time, stale
		  FROM resources
		 WHERE resource_type = ? AND resource_key = ?`,
		string(t), key)
	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return resource.Entity{}, ErrNotFound
		}
		return resource.Entity{}, fmt.Errorf("get resource %s: %w", resource.Ref(t, key), err)
	}
	return entity, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (resource.Entity, error) {
	var (
		entity      resource.Entity
		typ         string
		data        []byte
		metadata    sql.NullString
		etag        sql.NullString
		lastUpdated int64
		expiration  int64
		stale       int
	)
	if err := row.Scan(&typ, &entity.Key, &data, &metadata, &etag,
		&lastUpdated, &expiration, &stale); err != nil {
		return resource.Entity{}, err
	}
	entity.Type = resource.Type(typ)
	entity.Data = json.RawMessage(data)
	entity.ETag = etag.String
	entity.LastUpdated = fromMillis(lastUpdated)
	entity.ExpirationTime = fromMillis(expiration)
	entity.Stale = stale != 0
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &entity.Metadata); err != nil {
			return resource.Entity{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return entity, nil
}

// Upsert writes entity, replacing any existing row for its type/key,
// and notifies watchers of that key.
func (s *ResourceStore) Upsert(ctx context.Context, entity resource.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.execUpsert(ctx, s.sqlDB, entity); err != nil {
		return err
	}
	s.watchers.notify(entity)
	return nil
}

// UpsertAll writes all entities in a single transaction. Watchers are
// notified only after the transaction commits.
func (s *ResourceStore) UpsertAll(ctx context.Context, entities []resource.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	for _, entity := range entities {
		if err := s.execUpsert(ctx, tx, entity); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	for _, entity := range entities {
		s.watchers.notify(entity)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *ResourceStore) execUpsert(ctx context.Context, db execer, entity resource.Entity) error {
	if !entity.Type.Known() {
		return fmt.Errorf("unknown resource type %q", entity.Type)
	}
	var metadata any
	if len(entity.Metadata) > 0 {
		encoded, err := json.Marshal(entity.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(encoded)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO resources (resource_type, resource_key, data, metadata, etag,
		                       last_updated, expiration_time, stale)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_type, resource_key) DO UPDATE SET
			data = excluded.data,
			metadata = excluded.metadata,
			etag = excluded.etag,
			last_updated = excluded.last_updated,
			expiration_time = excluded.expiration_time,
			stale = excluded.stale`,
		string(entity.Type), entity.Key, []byte(entity.Data), metadata, entity.ETag,
		toMillis(entity.LastUpdated), toMillis(entity.ExpirationTime), boolToInt(entity.Stale))
	if err != nil {
		return fmt.Errorf("upsert resource %s: %w", entity.Ref(), err)
	}
	return nil
}

// MarkStaleByType flags every row of a type as stale without touching
// its data, and returns the number of rows affected. Stale rows still
// serve reads; they just force a refresh attempt on next load.
func (s *ResourceStore) MarkStaleByType(ctx context.Context, t resource.Type) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE resources SET stale = 1 WHERE resource_type = ? AND stale = 0`,
		string(t))
	if err != nil {
		return 0, fmt.Errorf("mark stale %s: %w", t, err)
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		s.notifyType(ctx, t)
	}
	return affected, nil
}

// DeleteByType removes every row of a type.
func (s *ResourceStore) DeleteByType(ctx context.Context, t resource.Type) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM resources WHERE resource_type = ?`, string(t))
	if err != nil {
		return 0, fmt.Errorf("delete by type %s: %w", t, err)
	}
	affected, _ := res.RowsAffected()
	s.watchers.notifyRemovedByType(t)
	return affected, nil
}

// DeleteAll removes every row.
func (s *ResourceStore) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM resources`); err != nil {
		return fmt.Errorf("delete all resources: %w", err)
	}
	for _, t := range resource.Types() {
		s.watchers.notifyRemovedByType(t)
	}
	return nil
}

// DeleteExpired removes rows whose expiration time is at or before
// now, and returns the number removed.
func (s *ResourceStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM resources WHERE expiration_time <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired resources: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		s.logger.Debug("deleted expired resources", zap.Int64("count", affected))
	}
	return affected, nil
}

// CountByType returns the number of rows for a type.
func (s *ResourceStore) CountByType(ctx context.Context, t resource.Type) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var count int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM resources WHERE resource_type = ?`, string(t)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by type %s: %w", t, err)
	}
	return count, nil
}

// ListByType returns all rows of a type, most recently updated first.
func (s *ResourceStore) ListByType(ctx context.Context, t resource.Type) ([]resource.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT resource_type, resource_key, data, metadata, etag,
		       last_updated, expiration_time, stale
		  FROM resources
		 WHERE resource_type = ?
		 ORDER BY last_updated DESC`,
		string(t))
	if err != nil {
		return nil, fmt.Errorf("list by type %s: %w", t, err)
	}
	defer rows.Close()

	var entities []resource.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("list by type %s: %w", t, err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list by type %s: %w", t, err)
	}
	return entities, nil
}

// Watch returns a channel that first replays the current row for
// type/key, if one exists, and then receives every subsequent write
// to that row. The channel closes when ctx is done.
func (s *ResourceStore) Watch(ctx context.Context, t resource.Type, key string) <-chan resource.Entity {
	subject := s.watchers.subjectFor(t, key)
	if _, ok := subject.Value(); !ok {
		if entity, err := s.Get(ctx, t, key); err == nil {
			subject.Publish(entity)
		}
	}
	return subject.Subscribe(ctx)
}

func (s *ResourceStore) notifyType(ctx context.Context, t resource.Type) {
	for _, key := range s.watchers.watchedKeys(t) {
		entity, err := s.Get(ctx, t, key)
		if err != nil {
			continue
		}
		s.watchers.notify(entity)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// watchRegistry tracks per-row subjects used by Watch. Subjects are
// created lazily and live for the store's lifetime.
type watchRegistry struct {
	mu       sync.Mutex
	subjects map[string]*stream.Subject[resource.Entity]
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{subjects: make(map[string]*stream.Subject[resource.Entity])}
}

func (r *watchRegistry) subjectFor(t resource.Type, key string) *stream.Subject[resource.Entity] {
	r.mu.Lock()
	defer r.mu.Unlock()
	cacheKey := resource.CacheKey(t, key)
	subject, ok := r.subjects[cacheKey]
	if !ok {
		subject = stream.NewSubject[resource.Entity]()
		r.subjects[cacheKey] = subject
	}
	return subject
}

func (r *watchRegistry) notify(entity resource.Entity) {
	r.mu.Lock()
	subject, ok := r.subjects[resource.CacheKey(entity.Type, entity.Key)]
	r.mu.Unlock()
	if ok {
		subject.Publish(entity)
	}
}

// notifyRemovedByType publishes an empty entity to every watcher of
// the type so subscribers observe the removal.
func (r *watchRegistry) notifyRemovedByType(t resource.Type) {
	r.mu.Lock()
	var affected []*stream.Subject[resource.Entity]
	var keys []string
	prefix := t.CachePrefix()
	for cacheKey, subject := range r.subjects {
		if strings.HasPrefix(cacheKey, prefix) {
			affected = append(affected, subject)
			keys = append(keys, strings.TrimPrefix(cacheKey, prefix))
		}
	}
	r.mu.Unlock()
	for i, subject := range affected {
		subject.Publish(resource.Entity{Type: t, Key: keys[i]})
	}
}

func (r *watchRegistry) watchedKeys(t resource.Type) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	prefix := t.CachePrefix()
	for cacheKey := range r.subjects {
		if strings.HasPrefix(cacheKey, prefix) {
			keys = append(keys, strings.TrimPrefix(cacheKey, prefix))
		}
	}
	return keys
}

func (r *watchRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, subject := range r.subjects {
		subject.Close()
	}
	r.subjects = make(map[string]*stream.Subject[resource.Entity])
}
