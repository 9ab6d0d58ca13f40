package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"composer/pkg/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Settings keys stored under a project's namespace.
const (
	KeyProjectID   = "projectId"
	KeyClips       = "clips"
	KeyUUIDNext    = "uuidNext"
	KeyTracks      = "tracks"
	KeyTargetTrack = "targetTrack"
)

// Database wraps a *sql.DB providing the composer's persistent store: the
// project settings blob and a cache of probed media sources. It is safe for
// concurrent use because the underlying *sql.DB is concurrency-safe.
type Database struct {
	conn   *sql.DB
	logger *logrus.Logger

	getSettingStmt   *sql.Stmt
	putSettingStmt   *sql.Stmt
	upsertSourceStmt *sql.Stmt
	getSourceStmt    *sql.Stmt
	removeSourceStmt *sql.Stmt
}

// ProjectSettings is everything persisted about a composition.
type ProjectSettings struct {
	ID          string
	Clips       [][]models.Clip
	UUIDNext    int64
	Tracks      []models.Track
	TargetTrack int
}

// CachedSource is a probed source together with the file state it was
// probed from.
type CachedSource struct {
	Source  models.ClipSource
	Size    int64
	ModTime time.Time
}

// NewDatabase opens (or creates) a SQLite database at the provided path and
// ensures all required tables exist. Caller should Close() it when finished.
func NewDatabase(dbPath string, maxConnections int, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxConnections < 1 {
		maxConnections = 1
	}
	conn.SetMaxOpenConns(maxConnections)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=memory;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{
		conn:   conn,
		logger: logger,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Database initialized successfully")
	return db, nil
}

// createTables creates tables if they do not already exist, then executes
// any migrations. This is idempotent.
func (db *Database) createTables() error {
	settingsTable := `
	CREATE TABLE IF NOT EXISTS settings (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (namespace, key)
	);`

	sourcesTable := `
	CREATE TABLE IF NOT EXISTS sources (
		type TEXT NOT NULL,
		path TEXT NOT NULL,
		name TEXT NOT NULL,
		duration REAL DEFAULT 0,
		width INTEGER DEFAULT 0,
		height INTEGER DEFAULT 0,
		fingerprint TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (type, path)
	);`

	for _, table := range []string{settingsTable, sourcesTable} {
		if _, err := db.conn.Exec(table); err != nil {
			return err
		}
	}

	if _, err := db.conn.Exec("CREATE INDEX IF NOT EXISTS idx_sources_fingerprint ON sources(fingerprint);"); err != nil {
		return err
	}

	return db.runMigrations()
}

// runMigrations performs incremental schema updates in-place. Each migration
// is idempotent.
func (db *Database) runMigrations() error {
	// Migration 1: file size and modification time let a rescan skip
	// fingerprinting unchanged files.
	for _, column := range []struct{ name, def string }{
		{"size", "INTEGER DEFAULT 0"},
		{"mod_time", "DATETIME"},
	} {
		var exists bool
		err := db.conn.QueryRow(`
			SELECT COUNT(*) > 0
			FROM pragma_table_info('sources')
			WHERE name = ?`, column.name).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.conn.Exec(fmt.Sprintf("ALTER TABLE sources ADD COLUMN %s %s", column.name, column.def)); err != nil {
			return err
		}
		db.logger.WithField("column", column.name).Info("Added column to sources table")
	}
	return nil
}

// prepareStatements prepares commonly used SQL statements
func (db *Database) prepareStatements() error {
	var err error

	db.getSettingStmt, err = db.conn.Prepare(`
		SELECT value FROM settings WHERE namespace = ? AND key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get setting statement: %w", err)
	}

	db.putSettingStmt, err = db.conn.Prepare(`
		INSERT INTO settings (namespace, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare put setting statement: %w", err)
	}

	db.upsertSourceStmt, err = db.conn.Prepare(`
		INSERT INTO sources (type, path, name, duration, width, height, fingerprint, size, mod_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, path) DO UPDATE SET
			name=excluded.name,
			duration=excluded.duration,
			width=excluded.width,
			height=excluded.height,
			fingerprint=excluded.fingerprint,
			size=excluded.size,
			mod_time=excluded.mod_time`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert source statement: %w", err)
	}

	db.getSourceStmt, err = db.conn.Prepare(`
		SELECT type, path, name, duration, width, height, COALESCE(fingerprint, ''), size, mod_time
		FROM sources WHERE type = ? AND path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get source statement: %w", err)
	}

	db.removeSourceStmt, err = db.conn.Prepare(`
		DELETE FROM sources WHERE type = ? AND path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare remove source statement: %w", err)
	}

	return nil
}

// GetSetting returns the raw value stored under namespace/key.
func (db *Database) GetSetting(namespace, key string) (string, bool, error) {
	var value string
	err := db.getSettingStmt.QueryRow(namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		db.logger.WithError(err).WithFields(logrus.Fields{
			"namespace": namespace,
			"key":       key,
		}).Error("Failed to read setting")
		return "", false, err
	}
	return value, true, nil
}

// SetSetting stores value under namespace/key.
func (db *Database) SetSetting(namespace, key, value string) error {
	_, err := db.putSettingStmt.Exec(namespace, key, value)
	if err != nil {
		db.logger.WithError(err).WithFields(logrus.Fields{
			"namespace": namespace,
			"key":       key,
		}).Error("Failed to write setting")
	}
	return err
}

// LoadSettings reads a project's settings. A namespace that was never saved
// yields empty settings.
func (db *Database) LoadSettings(namespace string) (*ProjectSettings, error) {
	rows, err := db.conn.Query(`SELECT key, value FROM settings WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := &ProjectSettings{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}

		var target any
		switch key {
		case KeyProjectID:
			settings.ID = value
			continue
		case KeyClips:
			target = &settings.Clips
		case KeyUUIDNext:
			target = &settings.UUIDNext
		case KeyTracks:
			target = &settings.Tracks
		case KeyTargetTrack:
			target = &settings.TargetTrack
		default:
			continue
		}
		if err := json.Unmarshal([]byte(value), target); err != nil {
			return nil, fmt.Errorf("failed to decode setting %s: %w", key, err)
		}
	}
	return settings, rows.Err()
}

// SaveSettings writes a project's settings in one transaction. Clip caches
// are never persisted. A project without an id is given one.
func (db *Database) SaveSettings(namespace string, settings *ProjectSettings) error {
	if settings.ID == "" {
		settings.ID = uuid.NewString()
	}

	values := map[string]any{
		KeyClips:       models.StripChannels(settings.Clips),
		KeyUUIDNext:    settings.UUIDNext,
		KeyTracks:      settings.Tracks,
		KeyTargetTrack: settings.TargetTrack,
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	put := tx.Stmt(db.putSettingStmt)
	if _, err := put.Exec(namespace, KeyProjectID, settings.ID); err != nil {
		return fmt.Errorf("failed to save project id: %w", err)
	}
	for key, value := range values {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode setting %s: %w", key, err)
		}
		if _, err := put.Exec(namespace, key, string(data)); err != nil {
			return fmt.Errorf("failed to save setting %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	db.logger.WithFields(logrus.Fields{
		"namespace": namespace,
		"project":   settings.ID,
		"uuidNext":  settings.UUIDNext,
	}).Debug("Saved project settings")
	return nil
}

// UpsertSource records a probed source and the file state it came from.
func (db *Database) UpsertSource(source *models.ClipSource, size int64, modTime time.Time) error {
	_, err := db.upsertSourceStmt.Exec(
		source.Type, source.Path, source.Name, source.Duration,
		source.Width, source.Height, source.Fingerprint, size, modTime.UTC())
	if err != nil {
		db.logger.WithError(err).WithField("source", source.Path).Error("Failed to upsert source")
	}
	return err
}

// GetSource returns the cached probe of a source, or nil if none exists.
func (db *Database) GetSource(clipType models.ClipType, path string) (*CachedSource, error) {
	row := db.getSourceStmt.QueryRow(clipType, path)
	cached, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cached, err
}

// AllSources returns every cached source ordered by type and path.
func (db *Database) AllSources() ([]CachedSource, error) {
	rows, err := db.conn.Query(`
		SELECT type, path, name, duration, width, height, COALESCE(fingerprint, ''), size, mod_time
		FROM sources
		ORDER BY type, path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []CachedSource
	for rows.Next() {
		cached, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *cached)
	}
	return sources, rows.Err()
}

// RemoveSource deletes a cached source.
func (db *Database) RemoveSource(clipType models.ClipType, path string) error {
	_, err := db.removeSourceStmt.Exec(clipType, path)
	if err != nil {
		db.logger.WithError(err).WithField("source", path).Error("Failed to remove source")
	}
	return err
}

// Close closes the underlying database connection and prepared statements.
func (db *Database) Close() error {
	statements := []*sql.Stmt{
		db.getSettingStmt,
		db.putSettingStmt,
		db.upsertSourceStmt,
		db.getSourceStmt,
		db.removeSourceStmt,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				db.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (*CachedSource, error) {
	var cached CachedSource
	var modTime sql.NullTime
	src := &cached.Source
	if err := row.Scan(&src.Type, &src.Path, &src.Name, &src.Duration,
		&src.Width, &src.Height, &src.Fingerprint, &cached.Size, &modTime); err != nil {
		return nil, err
	}
	if modTime.Valid {
		cached.ModTime = modTime.Time
	}
	return &cached, nil
}
