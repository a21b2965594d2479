// Package audit records a best-effort trail of authentication events.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storefront-auth/internal/audit/domain"
	auditrepo "storefront-auth/internal/audit/repository"
	"storefront-auth/internal/ids"
)

// Recorder writes a single audit event. Best-effort: failures never affect
// the calling auth path.
type Recorder interface {
	Record(ctx context.Context, accountID, channel, action, origin, metadata string)
}

// Logger implements Recorder on top of the audit repository.
type Logger struct {
	repo auditrepo.Repository
	log  *zap.Logger
}

// NewLogger returns a Recorder persisting to repo. Write failures go to log.
func NewLogger(repo auditrepo.Repository, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{repo: repo, log: log}
}

// Record writes one audit row. Errors are logged and swallowed.
func (l *Logger) Record(ctx context.Context, accountID, channel, action, origin, metadata string) {
	if l.repo == nil {
		return
	}
	e := &domain.AuthEvent{
		ID:            ids.New(),
		AccountID:     accountID,
		Channel:       channel,
		Action:        action,
		OriginAddress: origin,
		Metadata:      metadata,
		CreatedAt:     time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, e); err != nil {
		l.log.Warn("audit write failed",
			zap.String("action", action),
			zap.String("account_id", accountID),
			zap.Error(err))
	}
}

// Nop is a Recorder that drops everything. For tests and tools.
type Nop struct{}

func (Nop) Record(context.Context, string, string, string, string, string) {}
