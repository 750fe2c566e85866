package ports

import (
	"context"

	"github.com/bnema/agentforge-cli/internal/domain"
)

type RunRepository interface {
	GetByID(ctx context.Context, id domain.RunID) (domain.RunRecord, error)
	List(ctx context.Context) ([]domain.RunRecord, error)
	Save(ctx context.Context, run domain.RunRecord) error
}

// RunPublisher hands a finished run to the remote persistence endpoint.
type RunPublisher interface {
	Publish(ctx context.Context, run domain.RunRecord) error
}
