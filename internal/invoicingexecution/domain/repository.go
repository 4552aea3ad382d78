package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/supplyrail/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status      Status
	SubjectKind SubjectKind
}

type Repository interface {
	// Claim inserts or restarts the subject's execution. It reports false
	// when another execution for the subject is RUNNING.
	Claim(ctx context.Context, db *gorm.DB, exec *Execution) (bool, error)
	FindBySubject(ctx context.Context, db *gorm.DB, subjectID string) (*Execution, error)
	Finalize(ctx context.Context, db *gorm.DB, subjectID string, attempts int, status Status, result datatypes.JSON, endedAt time.Time) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*Execution, error)
	ListRunningBefore(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Execution, error)
}
