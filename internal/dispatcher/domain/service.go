package domain

import (
	"context"
	"errors"
)

type Service interface {
	// OnSubjectStatusChanged decides whether a status change stamps an
	// invoice and, when it does, runs the execution for it.
	OnSubjectStatusChanged(ctx context.Context, subjectID string, newStatus string) (Outcome, error)
	ResolvePolicy(ctx context.Context, subjectID string) (Policy, error)
}

var (
	ErrInvalidSubject = errors.New("invalid_subject")
	ErrInvalidStatus  = errors.New("invalid_status")
	ErrInvalidEvent   = errors.New("invalid_event")
)
