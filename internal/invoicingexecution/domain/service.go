package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/supplyrail/pkg/db/pagination"
)

// Func is the unit of work run under an execution.
type Func func(ctx context.Context) (Confirmation, error)

type ListRequest struct {
	Status      string
	SubjectKind string
	PageToken   string
	PageSize    int32
}

type ListResponse struct {
	pagination.PageInfo
	Executions []Execution `json:"executions"`
}

// Notifier is told about executions that failed and need an operator.
type Notifier interface {
	ExecutionFailed(ctx context.Context, exec Execution, result Result)
}

type Service interface {
	// Run claims the subject, runs fn and records the outcome. Failures of fn
	// are recorded on the returned execution, never returned as error.
	Run(ctx context.Context, subjectID string, kind SubjectKind, fn Func) (Execution, bool, error)
	FetchStatus(ctx context.Context, subjectID string) (Execution, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	RecoverStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}
