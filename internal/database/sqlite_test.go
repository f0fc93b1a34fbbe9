package database

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"camarc/internal/camarc"
	"camarc/internal/database/migrations"
)

// newTestDB creates a new in-memory database with migrations applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

type photoRow struct {
	key, value []byte
}

func scanAll(t *testing.T, db *SQLiteDatabase) []photoRow {
	t.Helper()
	var rows []photoRow
	err := db.ScanPhotos(func(key, value []byte) error {
		rows = append(rows, photoRow{key: key, value: value})
		return nil
	})
	if err != nil {
		t.Fatalf("ScanPhotos() error = %v", err)
	}
	return rows
}

func TestSQLiteDatabase_PutPhoto(t *testing.T) {
	t.Run("stores and scans entries", func(t *testing.T) {
		db := newTestDB(t)
		t1 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		t2 := t1.Add(time.Minute)

		if err := db.PutPhoto(camarc.EncodeKey(t1), []byte("a")); err != nil {
			t.Fatalf("PutPhoto() error = %v", err)
		}
		if err := db.PutPhoto(camarc.EncodeKey(t2), []byte("b")); err != nil {
			t.Fatalf("PutPhoto() error = %v", err)
		}

		rows := scanAll(t, db)
		if len(rows) != 2 {
			t.Fatalf("got %d rows, want 2", len(rows))
		}
	})

	t.Run("overwrites existing key", func(t *testing.T) {
		db := newTestDB(t)
		key := camarc.EncodeKey(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

		if err := db.PutPhoto(key, []byte("first")); err != nil {
			t.Fatalf("PutPhoto() error = %v", err)
		}
		if err := db.PutPhoto(key, []byte("second")); err != nil {
			t.Fatalf("PutPhoto() error = %v", err)
		}

		rows := scanAll(t, db)
		if len(rows) != 1 {
			t.Fatalf("got %d rows, want 1", len(rows))
		}
		if !bytes.Equal(rows[0].value, []byte("second")) {
			t.Errorf("value = %q, want %q", rows[0].value, "second")
		}
	})

	t.Run("rejects malformed key", func(t *testing.T) {
		db := newTestDB(t)
		if err := db.PutPhoto([]byte{1, 2}, []byte("x")); err == nil {
			t.Error("PutPhoto() expected error for 2-byte key")
		}
	})
}

func TestSQLiteDatabase_ScanPhotos(t *testing.T) {
	t.Run("stops on callback error", func(t *testing.T) {
		db := newTestDB(t)
		base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			if err := db.PutPhoto(camarc.EncodeKey(base.Add(time.Duration(i)*time.Second)), []byte("r")); err != nil {
				t.Fatalf("PutPhoto() error = %v", err)
			}
		}

		stop := errors.New("stop")
		calls := 0
		err := db.ScanPhotos(func(key, value []byte) error {
			calls++
			return stop
		})
		if !errors.Is(err, stop) {
			t.Errorf("ScanPhotos() error = %v, want %v", err, stop)
		}
		if calls != 1 {
			t.Errorf("callback called %d times, want 1", calls)
		}
	})

	t.Run("survives reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "photos.db")
		db, err := NewSQLiteDatabase(path)
		if err != nil {
			t.Fatalf("NewSQLiteDatabase() error = %v", err)
		}
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		if err := db.PutPhoto(camarc.EncodeKey(ts), []byte("persisted")); err != nil {
			t.Fatalf("PutPhoto() error = %v", err)
		}
		db.Close()

		reopened, err := NewSQLiteDatabase(path)
		if err != nil {
			t.Fatalf("NewSQLiteDatabase() error = %v", err)
		}
		defer reopened.Close()
		if err := reopened.CheckMigrations(); err != nil {
			t.Fatalf("CheckMigrations() error = %v", err)
		}

		rows := scanAll(t, reopened)
		if len(rows) != 1 || string(rows[0].value) != "persisted" {
			t.Fatalf("rows = %v, want one persisted row", rows)
		}
		got, err := camarc.DecodeKey(rows[0].key)
		if err != nil {
			t.Fatalf("DecodeKey() error = %v", err)
		}
		if !got.Equal(ts) {
			t.Errorf("timestamp = %v, want %v", got, ts)
		}
	})
}

func TestSQLiteDatabase_ArchiveJobs(t *testing.T) {
	newJob := func(id string, started time.Time) *camarc.ArchiveJobRecord {
		return &camarc.ArchiveJobRecord{
			ID:        id,
			Query:     "after yesterday",
			StartedAt: started,
			Status:    camarc.JobRunning,
			Total:     5,
		}
	}
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create then finish", func(t *testing.T) {
		db := newTestDB(t)
		job := newJob("job-1", base)
		if err := db.CreateArchiveJob(job); err != nil {
			t.Fatalf("CreateArchiveJob() error = %v", err)
		}

		job.Status = camarc.JobSucceeded
		job.FinishedAt = base.Add(3 * time.Second)
		job.Completed = 4
		job.Skipped = 1
		if err := db.FinishArchiveJob(job); err != nil {
			t.Fatalf("FinishArchiveJob() error = %v", err)
		}

		jobs, err := db.ListArchiveJobs(10)
		if err != nil {
			t.Fatalf("ListArchiveJobs() error = %v", err)
		}
		if len(jobs) != 1 {
			t.Fatalf("got %d jobs, want 1", len(jobs))
		}
		got := jobs[0]
		if got.Status != camarc.JobSucceeded || got.Completed != 4 || got.Skipped != 1 || got.Total != 5 {
			t.Errorf("job = %+v", got)
		}
		if !got.StartedAt.Equal(base) || !got.FinishedAt.Equal(base.Add(3*time.Second)) {
			t.Errorf("times = %v, %v", got.StartedAt, got.FinishedAt)
		}
	})

	t.Run("running job has zero finish time", func(t *testing.T) {
		db := newTestDB(t)
		if err := db.CreateArchiveJob(newJob("job-1", base)); err != nil {
			t.Fatalf("CreateArchiveJob() error = %v", err)
		}
		jobs, err := db.ListArchiveJobs(10)
		if err != nil {
			t.Fatalf("ListArchiveJobs() error = %v", err)
		}
		if !jobs[0].FinishedAt.IsZero() {
			t.Errorf("FinishedAt = %v, want zero", jobs[0].FinishedAt)
		}
	})

	t.Run("finishing unknown job fails", func(t *testing.T) {
		db := newTestDB(t)
		job := newJob("missing", base)
		job.Status = camarc.JobFailed
		if err := db.FinishArchiveJob(job); err == nil {
			t.Error("FinishArchiveJob() expected error for unknown job")
		}
	})

	t.Run("lists newest first with limit", func(t *testing.T) {
		db := newTestDB(t)
		for i, id := range []string{"job-1", "job-2", "job-3"} {
			if err := db.CreateArchiveJob(newJob(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
				t.Fatalf("CreateArchiveJob() error = %v", err)
			}
		}

		jobs, err := db.ListArchiveJobs(2)
		if err != nil {
			t.Fatalf("ListArchiveJobs() error = %v", err)
		}
		if len(jobs) != 2 {
			t.Fatalf("got %d jobs, want 2", len(jobs))
		}
		if jobs[0].ID != "job-3" || jobs[1].ID != "job-2" {
			t.Errorf("order = %s, %s; want job-3, job-2", jobs[0].ID, jobs[1].ID)
		}
	})

	t.Run("empty history returns empty slice", func(t *testing.T) {
		db := newTestDB(t)
		jobs, err := db.ListArchiveJobs(50)
		if err != nil {
			t.Fatalf("ListArchiveJobs() error = %v", err)
		}
		if jobs == nil || len(jobs) != 0 {
			t.Errorf("ListArchiveJobs() = %v, want empty slice", jobs)
		}
	})
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	db := newTestDB(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := db.PutPhoto(camarc.EncodeKey(ts), []byte("a")); err != nil {
		t.Fatalf("PutPhoto() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := db.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copyDB, err := NewSQLiteDatabase(dest)
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	defer copyDB.Close()
	if got := scanAll(t, copyDB); len(got) != 1 {
		t.Errorf("backup holds %d rows, want 1", len(got))
	}
}

func TestSQLiteDatabase_SchemaStatus(t *testing.T) {
	fresh, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	defer fresh.Close()

	st, err := fresh.SchemaStatus()
	if !errors.Is(err, migrations.ErrNoSchemaVersion) {
		t.Fatalf("SchemaStatus() error = %v, want ErrNoSchemaVersion", err)
	}
	if st.Latest == 0 {
		t.Error("SchemaStatus() did not report the latest version")
	}

	st, err = newTestDB(t).SchemaStatus()
	if err != nil {
		t.Fatalf("SchemaStatus() error = %v", err)
	}
	if st.Current != st.Latest || st.Dirty {
		t.Errorf("SchemaStatus() = %+v, want current at latest", st)
	}
}
