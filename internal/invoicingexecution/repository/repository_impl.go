package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	"github.com/smallbiznis/supplyrail/pkg/db/option"
	"github.com/smallbiznis/supplyrail/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const claimInsert = `INSERT INTO invoicing_executions
	   (id, subject_id, subject_kind, status, attempts, started_at, ended_at, result, created_at, updated_at)
	 VALUES (?, ?, ?, ?, 1, ?, NULL, ?, ?, ?)`

// claimUpsert restarts a finished row and leaves a RUNNING one untouched.
const claimUpsert = claimInsert + `
	 ON CONFLICT (subject_id) DO UPDATE SET
	   subject_kind = excluded.subject_kind,
	   status = excluded.status,
	   attempts = invoicing_executions.attempts + 1,
	   started_at = excluded.started_at,
	   ended_at = NULL,
	   result = excluded.result,
	   updated_at = excluded.updated_at
	 WHERE invoicing_executions.status <> ?`

// MySQL has no conditional upsert, so every column is guarded instead.
// Assignments run left to right, which is why status goes last. An
// unchanged row reports zero affected rows.
const claimUpsertMySQL = claimInsert + `
	 ON DUPLICATE KEY UPDATE
	   subject_kind = IF(status <> ?, VALUES(subject_kind), subject_kind),
	   attempts = IF(status <> ?, attempts + 1, attempts),
	   started_at = IF(status <> ?, VALUES(started_at), started_at),
	   ended_at = IF(status <> ?, NULL, ended_at),
	   result = IF(status <> ?, VALUES(result), result),
	   updated_at = IF(status <> ?, VALUES(updated_at), updated_at),
	   status = IF(status <> ?, VALUES(status), status)`

// claimStatement returns the upsert for the dialect and how many times the
// RUNNING status is bound in its update clause.
func claimStatement(dialect string) (string, int) {
	if dialect == "mysql" {
		return claimUpsertMySQL, 7
	}
	return claimUpsert, 1
}

// Claim relies on the unique subject_id: the conditional upsert either
// creates the row, restarts a finished one, or touches nothing while a run
// is in flight.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, exec *domain.Execution) (bool, error) {
	stmt, guards := claimStatement(db.Dialector.Name())
	args := []any{
		exec.ID,
		exec.SubjectID,
		exec.SubjectKind,
		domain.StatusRunning,
		exec.StartedAt,
		exec.Result,
		exec.CreatedAt,
		exec.UpdatedAt,
	}
	for i := 0; i < guards; i++ {
		args = append(args, domain.StatusRunning)
	}

	res := db.WithContext(ctx).Exec(stmt, args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindBySubject(ctx context.Context, db *gorm.DB, subjectID string) (*domain.Execution, error) {
	var exec domain.Execution
	err := db.WithContext(ctx).Raw(
		`SELECT id, subject_id, subject_kind, status, attempts, started_at, ended_at, result, created_at, updated_at
		 FROM invoicing_executions WHERE subject_id = ?`,
		subjectID,
	).Scan(&exec).Error
	if err != nil {
		return nil, err
	}
	if exec.ID == 0 {
		return nil, nil
	}
	return &exec, nil
}

// Finalize only moves the attempt it was given out of RUNNING.
func (r *repo) Finalize(ctx context.Context, db *gorm.DB, subjectID string, attempts int, status domain.Status, result datatypes.JSON, endedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoicing_executions
		 SET status = ?, result = ?, ended_at = ?, updated_at = ?
		 WHERE subject_id = ? AND status = ? AND attempts = ?`,
		status, result, endedAt, endedAt,
		subjectID, domain.StatusRunning, attempts,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Execution, error) {
	var items []*domain.Execution
	stmt := db.WithContext(ctx).Model(&domain.Execution{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.SubjectKind != "" {
		stmt = stmt.Where("subject_kind = ?", filter.SubjectKind)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListRunningBefore(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.Execution, error) {
	var items []domain.Execution
	err := db.WithContext(ctx).Raw(
		`SELECT id, subject_id, subject_kind, status, attempts, started_at, ended_at, result, created_at, updated_at
		 FROM invoicing_executions
		 WHERE status = ? AND started_at < ?
		 ORDER BY started_at ASC
		 LIMIT ?`,
		domain.StatusRunning, before, limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
