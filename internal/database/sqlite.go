package database

import (
	"database/sql"
	"fmt"
	"time"

	"camarc/internal/camarc"
	"camarc/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements camarc.Database using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens a SQLite database.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite connection.
// Exported for tests that need a raw connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

// Photo index store

func (s *SQLiteDatabase) PutPhoto(key, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO photos (key, reference) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET reference = excluded.reference`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("writing photo: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ScanPhotos(fn func(key, value []byte) error) error {
	rows, err := s.db.Query(`SELECT key, reference FROM photos ORDER BY key`)
	if err != nil {
		return fmt.Errorf("querying photos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("reading photo row: %w", err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating photos: %w", err)
	}
	return nil
}

// Archive job history

func (s *SQLiteDatabase) CreateArchiveJob(job *camarc.ArchiveJobRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO archive_jobs (id, query, started_at, status, total)
		 VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.Query, job.StartedAt.Unix(), string(job.Status), job.Total,
	)
	if err != nil {
		return fmt.Errorf("inserting archive job: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FinishArchiveJob(job *camarc.ArchiveJobRecord) error {
	res, err := s.db.Exec(
		`UPDATE archive_jobs
		 SET finished_at = ?, status = ?, completed = ?, skipped = ?, error = ?
		 WHERE id = ?`,
		job.FinishedAt.Unix(), string(job.Status), job.Completed, job.Skipped, job.Error, job.ID,
	)
	if err != nil {
		return fmt.Errorf("updating archive job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating archive job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("archive job not found: %s", job.ID)
	}
	return nil
}

func (s *SQLiteDatabase) ListArchiveJobs(limit int) ([]*camarc.ArchiveJobRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, query, started_at, finished_at, status, total, completed, skipped, error
		 FROM archive_jobs
		 ORDER BY started_at DESC, rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing archive jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*camarc.ArchiveJobRecord{}
	for rows.Next() {
		var (
			job        camarc.ArchiveJobRecord
			startedAt  int64
			finishedAt sql.NullInt64
			status     string
		)
		if err := rows.Scan(&job.ID, &job.Query, &startedAt, &finishedAt, &status,
			&job.Total, &job.Completed, &job.Skipped, &job.Error); err != nil {
			return nil, fmt.Errorf("reading archive job row: %w", err)
		}
		job.StartedAt = time.Unix(startedAt, 0).UTC()
		if finishedAt.Valid {
			job.FinishedAt = time.Unix(finishedAt.Int64, 0).UTC()
		}
		job.Status = camarc.JobStatus(status)
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating archive jobs: %w", err)
	}
	return jobs, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// SchemaStatus reports the current and latest schema versions. A database
// that was never migrated returns migrations.ErrNoSchemaVersion along with
// the latest version.
func (s *SQLiteDatabase) SchemaStatus() (migrations.Status, error) {
	return migrations.GetStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ camarc.Database = (*SQLiteDatabase)(nil)
