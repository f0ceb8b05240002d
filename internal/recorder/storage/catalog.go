package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite" // embedded catalog driver

	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

// ErrDuplicateArchive is returned when an archive path is already catalogued.
var ErrDuplicateArchive = errors.New("archive already catalogued")

// ErrArchiveNotFound is returned by Get for unknown ids.
var ErrArchiveNotFound = errors.New("archive not found")

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Archive is one converted recording.
type Archive struct {
	ID         string `db:"id" json:"id"`
	Device     string `db:"device" json:"device"`
	Reason     string `db:"reason" json:"reason"`
	BeginMs    int64  `db:"begin_ms" json:"begin_ms"`
	DurationMs int64  `db:"duration_ms" json:"duration_ms"`
	SizeBytes  int64  `db:"size_bytes" json:"size_bytes"`
	MediaType  string `db:"media_type" json:"media_type"`
	Path       string `db:"path" json:"path"`
	ObjectKey  string `db:"object_key" json:"object_key,omitempty"`
	CreatedMs  int64  `db:"created_ms" json:"created_ms"`
}

func (a *Archive) Begin() time.Time        { return time.UnixMilli(a.BeginMs) }
func (a *Archive) Duration() time.Duration { return time.Duration(a.DurationMs) * time.Millisecond }

// ArchiveQuery filters List. Zero fields do not filter.
type ArchiveQuery struct {
	Device string
	Reason string
	From   time.Time
	To     time.Time
	Limit  int
}

// DeviceStats aggregates a device's archives.
type DeviceStats struct {
	Device    string `db:"device" json:"device"`
	Count     int64  `db:"count" json:"count"`
	SizeBytes int64  `db:"size_bytes" json:"size_bytes"`
}

// CatalogConfig selects the SQL backend.
type CatalogConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Catalog stores archive rows in Postgres or SQLite.
type Catalog struct {
	db     *sqlx.DB
	logger recorderlog.Logger
	now    func() time.Time
}

// OpenCatalog connects, pings and creates the schema.
func OpenCatalog(ctx context.Context, config CatalogConfig, logger recorderlog.Logger) (*Catalog, error) {
	switch config.Driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported catalog driver %q", config.Driver)
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
		if config.Driver == "sqlite" {
			config.MaxConnections = 1
		}
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = min(5, config.MaxConnections)
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 5 * time.Minute
	}
	if logger == nil {
		logger = recorderlog.L()
	}

	db, err := sqlx.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c := &Catalog{db: db, logger: logger.Named("catalog"), now: time.Now}
	if err := c.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return c, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS archives (
		id VARCHAR(36) PRIMARY KEY,
		device VARCHAR(255) NOT NULL,
		reason VARCHAR(32) NOT NULL,
		begin_ms BIGINT NOT NULL,
		duration_ms BIGINT NOT NULL,
		size_bytes BIGINT NOT NULL,
		media_type VARCHAR(32) NOT NULL,
		path VARCHAR(1024) NOT NULL UNIQUE,
		object_key VARCHAR(1024) NOT NULL DEFAULT '',
		created_ms BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_archives_device_begin ON archives(device, begin_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_archives_reason ON archives(reason)`,
}

func (c *Catalog) initSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Insert stores a. ID and CreatedMs are filled in when empty.
func (c *Catalog) Insert(ctx context.Context, a *Archive) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedMs == 0 {
		a.CreatedMs = c.now().UnixMilli()
	}
	_, err := c.db.NamedExecContext(ctx, `
		INSERT INTO archives (
			id, device, reason, begin_ms, duration_ms, size_bytes,
			media_type, path, object_key, created_ms
		) VALUES (
			:id, :device, :reason, :begin_ms, :duration_ms, :size_bytes,
			:media_type, :path, :object_key, :created_ms
		)`, a)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", a.Path, ErrDuplicateArchive)
		}
		return fmt.Errorf("failed to save archive: %w", err)
	}
	c.logger.Debug("Archive catalogued",
		recorderlog.String("id", a.ID),
		recorderlog.String("device", a.Device),
		recorderlog.String("path", a.Path))
	return nil
}

// Get returns the archive with id.
func (c *Catalog) Get(ctx context.Context, id string) (*Archive, error) {
	var a Archive
	err := c.db.GetContext(ctx, &a, c.db.Rebind(`SELECT * FROM archives WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrArchiveNotFound
		}
		return nil, err
	}
	return &a, nil
}

// List returns archives matching q, oldest first.
func (c *Catalog) List(ctx context.Context, q ArchiveQuery) ([]*Archive, error) {
	var (
		where []string
		args  []any
	)
	if q.Device != "" {
		where = append(where, "device = ?")
		args = append(args, q.Device)
	}
	if q.Reason != "" {
		where = append(where, "reason = ?")
		args = append(args, q.Reason)
	}
	if !q.From.IsZero() {
		where = append(where, "begin_ms >= ?")
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		where = append(where, "begin_ms < ?")
		args = append(args, q.To.UnixMilli())
	}

	query := "SELECT * FROM archives"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY begin_ms, path"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	var out []*Archive
	if err := c.db.SelectContext(ctx, &out, c.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query archives: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes rows that began before t and returns their count.
func (c *Catalog) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, c.db.Rebind(`DELETE FROM archives WHERE begin_ms < ?`), t.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats groups archive counts and sizes by device.
func (c *Catalog) Stats(ctx context.Context) ([]DeviceStats, error) {
	var out []DeviceStats
	err := c.db.SelectContext(ctx, &out, `
		SELECT device, COUNT(*) AS count, COALESCE(SUM(size_bytes), 0) AS size_bytes
		FROM archives GROUP BY device ORDER BY device`)
	return out, err
}

func (c *Catalog) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
