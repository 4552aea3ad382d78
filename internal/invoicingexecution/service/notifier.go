package service

import (
	"context"
	"time"

	"github.com/smallbiznis/supplyrail/internal/config"
	"github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	"github.com/smallbiznis/supplyrail/internal/providers/email"
	"go.uber.org/zap"
)

const notifyTimeout = 10 * time.Second

// EmailNotifier mails the operator list when an execution fails.
type EmailNotifier struct {
	provider  email.Provider
	operators []string
	log       *zap.Logger
}

func NewNotifier(cfg config.Config, provider email.Provider, log *zap.Logger) domain.Notifier {
	return &EmailNotifier{
		provider:  provider,
		operators: cfg.Email.Operators,
		log:       log.Named("invoicingexecution.notifier"),
	}
}

func (n *EmailNotifier) ExecutionFailed(ctx context.Context, exec domain.Execution, result domain.Result) {
	if n == nil || n.provider == nil || len(n.operators) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	err := n.provider.SendTemplate(ctx, n.operators, "execution_failed", map[string]any{
		"subject_id":   exec.SubjectID,
		"subject_kind": string(exec.SubjectKind),
		"error_kind":   string(result.ErrorKind),
		"message":      result.Message,
		"detail":       result.Detail,
		"attempts":     exec.Attempts,
	})
	if err != nil {
		n.log.Warn("failed to notify operators",
			zap.String("subject_id", exec.SubjectID),
			zap.Error(err),
		)
	}
}
