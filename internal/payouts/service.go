package payouts

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/creatorpay-backend/pkg/db"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/creatorpay-backend/pkg/pagination"
)

const maxFailureReason = 500

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service moves creator earnings out of the platform.
type Service interface {
	RequestPayout(ctx context.Context, input RequestInput) (*models.Payout, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, externalPayoutID string) (*models.Payout, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Payout, error)
	Cancel(ctx context.Context, creatorID, id uuid.UUID) (*models.Payout, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	ListForCreator(ctx context.Context, creatorID uuid.UUID, params pagination.Params) ([]models.Payout, string, error)
	Balance(ctx context.Context, creatorID uuid.UUID, currency string) (Balance, error)
}

type RequestInput struct {
	CreatorID   uuid.UUID
	Amount      money.Money
	Method      enums.PayoutMethod
	Description string
}

type ServiceParams struct {
	Repo              Repository
	Aggregator        RevenueAggregator
	TransactionRunner txRunner
	Outbox            outbox.Emitter
	Logger            *logger.Logger
	Minimum           decimal.Decimal
	Now               func() time.Time
}

type service struct {
	repo       Repository
	aggregator RevenueAggregator
	tx         txRunner
	outbox     outbox.Emitter
	logg       *logger.Logger
	minimum    decimal.Decimal
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if params.Aggregator == nil {
		return nil, fmt.Errorf("revenue aggregator required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:       params.Repo,
		aggregator: params.Aggregator,
		tx:         params.TransactionRunner,
		outbox:     params.Outbox,
		logg:       params.Logger,
		minimum:    params.Minimum,
		now:        func() time.Time { return now().UTC() },
	}, nil
}

// RequestPayout reserves part of the available balance. The balance read and
// the insert share a transaction holding a per-creator advisory lock, so two
// concurrent requests cannot both spend the same revenue.
func (s *service) RequestPayout(ctx context.Context, input RequestInput) (*models.Payout, error) {
	if input.CreatorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "creator_id is required")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payout method %q", input.Method))
	}
	if !money.Supported(input.Amount.Currency()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Amount.Amount().LessThan(s.minimum) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("amount is below the minimum payout of %s", s.minimum.StringFixed(2)))
	}

	now := s.now()
	payout := &models.Payout{
		CreatorID: input.CreatorID,
		Amount:    input.Amount.Amount(),
		Currency:  input.Amount.Currency(),
		Status:    enums.PayoutStatusPending,
		Method:    input.Method,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if desc := strings.TrimSpace(input.Description); desc != "" {
		payout.Description = &desc
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := dbpkg.AdvisoryXactLock(tx, "payout:"+input.CreatorID.String()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock creator balance")
		}
		balance, err := s.aggregator.WithTx(tx).AvailableBalance(ctx, input.CreatorID, input.Amount.Currency())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "compute available balance")
		}
		cmp, err := input.Amount.Cmp(balance.Available)
		if err != nil {
			return err
		}
		if cmp > 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "payout exceeds available balance").
				WithDetails(map[string]any{
					"requested": input.Amount.String(),
					"available": balance.Available.String(),
				})
		}
		if err := s.repo.WithTx(tx).Create(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: insert payout")
		}
		return s.emit(ctx, tx, enums.EventPayoutRequested, payout)
	})
	logCtx := s.logg.WithCreatorID(ctx, input.CreatorID.String())
	if err != nil {
		if pkgerrors.IsInsufficientBalance(err) {
			s.logg.Warn(logCtx, "payout rejected: insufficient balance")
		}
		return nil, err
	}
	s.logg.Info(s.logg.WithField(logCtx, "payout_id", payout.ID.String()), "payout requested")
	return payout, nil
}

func (s *service) MarkProcessing(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	return s.transition(ctx, id, nil, enums.PayoutStatusProcessing, nil, enums.PayoutStatusPending)
}

func (s *service) MarkCompleted(ctx context.Context, id uuid.UUID, externalPayoutID string) (*models.Payout, error) {
	fields := map[string]any{"completed_at": s.now()}
	if ref := strings.TrimSpace(externalPayoutID); ref != "" {
		fields["external_payout_id"] = ref
	}
	return s.transition(ctx, id, nil, enums.PayoutStatusCompleted, fields, enums.PayoutStatusProcessing)
}

func (s *service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Payout, error) {
	fields := map[string]any{"failure_reason": trimReason(reason)}
	return s.transition(ctx, id, nil, enums.PayoutStatusFailed, fields, enums.PayoutStatusPending, enums.PayoutStatusProcessing)
}

// Cancel is the creator's own withdrawal of a request that has not finished.
func (s *service) Cancel(ctx context.Context, creatorID, id uuid.UUID) (*models.Payout, error) {
	return s.transition(ctx, id, &creatorID, enums.PayoutStatusCancelled, nil, enums.PayoutStatusPending, enums.PayoutStatusProcessing)
}

func (s *service) transition(ctx context.Context, id uuid.UUID, owner *uuid.UUID, to enums.PayoutStatus, fields map[string]any, allowed ...enums.PayoutStatus) (*models.Payout, error) {
	var updated *models.Payout
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payout, err := repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
		}
		if payout == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		if owner != nil && payout.CreatorID != *owner {
			return pkgerrors.New(pkgerrors.CodeForbidden, "payout does not belong to creator")
		}
		if !statusIn(payout.Status, allowed) {
			return invalidTransition(payout, to)
		}
		swapped, err := repo.Transition(ctx, id, payout.Status, to, fields)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout")
		}
		if !swapped {
			return invalidTransition(payout, to)
		}
		updated, err = repo.FindByID(ctx, id)
		if err != nil || updated == nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payout")
		}
		if to == enums.PayoutStatusProcessing {
			return nil
		}
		return s.emit(ctx, tx, enums.EventPayoutSettled, updated)
	})
	logCtx := s.logg.WithFields(ctx, map[string]any{"payout_id": id.String(), "target": to})
	if err != nil {
		if pkgerrors.IsInvalidState(err) {
			s.logg.Warn(logCtx, "payout transition rejected")
		}
		return nil, err
	}
	s.logg.Info(logCtx, "payout transitioned")
	return updated, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payout *models.Payout) error {
	occurredAt := s.now()
	event := payloads.PayoutEvent{
		PayoutID:   payout.ID,
		CreatorID:  payout.CreatorID,
		Amount:     payout.Amount,
		Currency:   payout.Currency,
		Method:     payout.Method,
		Status:     payout.Status,
		OccurredAt: occurredAt,
	}
	if payout.ExternalPayoutID != nil {
		event.ExternalPayoutID = *payout.ExternalPayoutID
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayout,
		AggregateID:   payout.ID,
		Data:          event,
		OccurredAt:    occurredAt,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payout event")
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	payout, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
	}
	if payout == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
	}
	return payout, nil
}

func (s *service) ListForCreator(ctx context.Context, creatorID uuid.UUID, params pagination.Params) ([]models.Payout, string, error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, "", err
	}
	rows, next, err := s.repo.ListForCreator(ctx, creatorID, params)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payouts")
	}
	return rows, next, nil
}

func (s *service) Balance(ctx context.Context, creatorID uuid.UUID, currency string) (Balance, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	if !money.Supported(currency) {
		return Balance{}, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}
	balance, err := s.aggregator.AvailableBalance(ctx, creatorID, currency)
	if err != nil {
		return Balance{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "compute available balance")
	}
	return balance, nil
}

func statusIn(status enums.PayoutStatus, allowed []enums.PayoutStatus) bool {
	for _, candidate := range allowed {
		if candidate == status {
			return true
		}
	}
	return false
}

func invalidTransition(payout *models.Payout, to enums.PayoutStatus) error {
	return pkgerrors.New(
		pkgerrors.CodeStateConflict,
		fmt.Sprintf("cannot move a %s payout to %s", payout.Status, to),
	).WithDetails(map[string]any{
		"payout_id": payout.ID.String(),
		"status":    payout.Status,
		"target":    to,
	})
}

// trimReason caps a failure reason at maxFailureReason bytes on a rune
// boundary; Postgres rejects text that is not valid UTF-8.
func trimReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if len(reason) <= maxFailureReason {
		return reason
	}
	cut := maxFailureReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
