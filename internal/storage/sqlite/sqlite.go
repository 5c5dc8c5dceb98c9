// Package sqlite persists the per-job high-water mark so poll mode
// resumes after a restart without re-emitting processed builds.
package sqlite

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS job_watermarks (
		job_name   TEXT PRIMARY KEY,
		last_build INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Watermark returns the last processed build number for a job, or 0 when
// the job has never been seen.
func (s *Store) Watermark(job string) (int64, error) {
	var n int64
	err := s.db.QueryRow(
		`SELECT last_build FROM job_watermarks WHERE job_name = ?`, job,
	).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

// SetWatermark advances the mark for a job. Marks never move backwards;
// a lower build number than the stored one is a no-op.
func (s *Store) SetWatermark(job string, build int64) error {
	_, err := s.db.Exec(
		`INSERT INTO job_watermarks (job_name, last_build) VALUES (?, ?)
		 ON CONFLICT(job_name) DO UPDATE SET
		   last_build = excluded.last_build,
		   updated_at = CURRENT_TIMESTAMP
		 WHERE excluded.last_build > job_watermarks.last_build`,
		job, build,
	)
	return err
}

// Watermarks returns every stored mark keyed by job name.
func (s *Store) Watermarks() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT job_name, last_build FROM job_watermarks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	marks := make(map[string]int64)
	for rows.Next() {
		var job string
		var n int64
		if err := rows.Scan(&job, &n); err != nil {
			return nil, err
		}
		marks[job] = n
	}
	return marks, rows.Err()
}
