package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/models"
)

const maxLockRetries = 3

type UsageRepository struct {
	db *DB
	// lockDelay is multiplied by the attempt number between retries.
	lockDelay time.Duration
}

func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db, lockDelay: 200 * time.Millisecond}
}

// Record appends usage to the ledger, assigning an ID and timestamp when
// missing. A locked database is retried a few times.
func (r *UsageRepository) Record(ctx context.Context, usage *models.Usage) error {
	const op = "UsageRepository.Record"

	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}

	var err error
	for attempt := 1; attempt <= maxLockRetries; attempt++ {
		if err = r.insert(ctx, usage); err == nil {
			return nil
		}
		if !isLockError(err) {
			return errors.Internal(op, err, "failed to record usage")
		}
		select {
		case <-ctx.Done():
			return errors.Internal(op, ctx.Err(), "context cancelled while database locked")
		case <-time.After(r.lockDelay * time.Duration(attempt)):
		}
	}
	return errors.Internal(op, err, "database locked after retries")
}

func (r *UsageRepository) insert(ctx context.Context, u *models.Usage) error {
	_, err := r.db.statements.insert.ExecContext(ctx,
		u.ID,
		u.RequestID,
		u.UserID,
		string(u.Platform),
		u.Channel,
		u.DurationMinutes,
		string(u.Status),
		u.Detail,
		u.CostEstimate,
		u.ElapsedMillis,
		u.CreatedAt,
	)
	return err
}

// ListByUser returns the most recent entries for userID, newest first.
func (r *UsageRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Usage, error) {
	const op = "UsageRepository.ListByUser"

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.statements.listByUser.QueryContext(ctx, userID, limit)
	if err != nil {
		return nil, errors.Internal(op, err, "failed to query usage")
	}
	defer rows.Close()

	var out []models.Usage
	for rows.Next() {
		var (
			u        models.Usage
			platform string
			status   string
		)
		if err := rows.Scan(
			&u.ID,
			&u.RequestID,
			&u.UserID,
			&platform,
			&u.Channel,
			&u.DurationMinutes,
			&status,
			&u.Detail,
			&u.CostEstimate,
			&u.ElapsedMillis,
			&u.CreatedAt,
		); err != nil {
			return nil, errors.Internal(op, err, "failed to scan usage")
		}
		u.Platform = models.Platform(platform)
		u.Status = models.Status(status)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal(op, err, "failed to iterate usage")
	}
	return out, nil
}

func isLockError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
