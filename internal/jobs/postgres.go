package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/gym-scheduler/internal/db"
	"github.com/example/gym-scheduler/internal/gym"
)

// PostgresStore persists jobs through the shared pgx pool.
type PostgresStore struct{ db *db.DB }

func NewPostgresStore(d *db.DB) *PostgresStore { return &PostgresStore{db: d} }

var _ Store = (*PostgresStore)(nil)

const jobColumns = `job_id, job_level, job_type, status, description, account, area, failed_count, next_due_at, window_end_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, j *Job) error {
	area, err := marshalArea(j.Area)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `
INSERT INTO jobs(`+jobColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		j.ID, int(j.Level), int(j.Type), int(j.Status), j.Description, j.Account,
		area, j.FailedCount, j.NextDueAt, j.WindowEndAt, j.CreatedAt, j.UpdatedAt)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id=$1`, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadResults(ctx, []*Job{j}); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Job, error) {
	return s.query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at ASC`)
}

func (s *PostgresStore) Due(ctx context.Context, now time.Time) ([]*Job, error) {
	return s.query(ctx, `
SELECT `+jobColumns+` FROM jobs
WHERE status IN ($1,$2) AND next_due_at <= $3
ORDER BY created_at ASC`,
		int(StatusPending), int(StatusRetry), now)
}

func (s *PostgresStore) Update(ctx context.Context, j *Job) error {
	return s.db.Exec(ctx, `
UPDATE jobs SET status=$2, failed_count=$3, next_due_at=$4, updated_at=$5
WHERE job_id=$1`,
		j.ID, int(j.Status), j.FailedCount, j.NextDueAt, j.UpdatedAt)
}

func (s *PostgresStore) AppendResult(ctx context.Context, jobID string, r Result) error {
	return s.db.Exec(ctx, `
INSERT INTO job_results(id, job_id, success, message, created_at)
VALUES ($1,$2,$3,$4,$5)`,
		r.ID, jobID, r.Success, r.Message, r.CreatedAt)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	return s.db.Exec(ctx, `DELETE FROM jobs WHERE job_id=$1`, id)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]*Job, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapStore(err)
	}
	if err := s.loadResults(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) loadResults(ctx context.Context, js []*Job) error {
	byID := make(map[string]*Job, len(js))
	for _, j := range js {
		byID[j.ID] = j
	}
	// Job counts stay small here (no auto-purge, but a single household of
	// accounts); one pass over all results keeps the query simple.
	rows, err := s.db.Query(ctx, `
SELECT id, job_id, success, message, created_at
FROM job_results ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var r Result
		var jobID string
		if err := rows.Scan(&r.ID, &jobID, &r.Success, &r.Message, &r.CreatedAt); err != nil {
			return db.WrapStore(err)
		}
		if j, ok := byID[jobID]; ok {
			j.Results = append(j.Results, r)
		}
	}
	return db.WrapStore(rows.Err())
}

func scanJob(row db.Row) (*Job, error) {
	var (
		j                  Job
		level, typ, status int
		area               []byte
	)
	err := row.Scan(&j.ID, &level, &typ, &status, &j.Description, &j.Account,
		&area, &j.FailedCount, &j.NextDueAt, &j.WindowEndAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, db.WrapScan(err)
	}
	j.Level, j.Type, j.Status = Level(level), Type(typ), Status(status)
	if len(area) > 0 {
		var a gym.Area
		if err := json.Unmarshal(area, &a); err != nil {
			return nil, db.WrapStore(err)
		}
		j.Area = &a
	}
	return &j, nil
}

func marshalArea(a *gym.Area) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}
