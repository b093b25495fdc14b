package cron

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	outboxMinAttempts      = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	Retention  time.Duration
	// MinAttempts must equal the publisher's attempt ceiling; a lower value
	// would delete rows that are still being retried.
	MinAttempts int
	Now         func() time.Time
}

// outboxRetentionJob prunes settlement events the publisher is done with:
// delivered rows and rows it parked at the attempt ceiling. Parked rows
// already have a copy in outbox_dlq.
type outboxRetentionJob struct {
	OutboxRetentionJobParams
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	params.Retention = cmp.Or(max(params.Retention, 0), defaultOutboxRetention)
	params.MinAttempts = cmp.Or(max(params.MinAttempts, 0), outboxMinAttempts)
	if params.Now == nil {
		params.Now = time.Now
	}
	return &outboxRetentionJob{params}, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.Now().UTC().Add(-j.Retention)
	var deleted int64
	err := j.DB.WithTx(ctx, func(tx *gorm.DB) (err error) {
		deleted, err = j.Repository.DeletePublishedBefore(ctx, tx, cutoff, j.MinAttempts)
		return err
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	j.Logger.Info(j.Logger.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "outbox rows pruned")
	return nil
}
