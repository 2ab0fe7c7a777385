package repository

import (
	"context"

	"github.com/nijaru/catchup/models"
)

// UsageRepository keeps the attribution ledger. Entries never hold summary
// or transcript content.
type UsageRepository interface {
	Record(ctx context.Context, usage *models.Usage) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Usage, error)
}
