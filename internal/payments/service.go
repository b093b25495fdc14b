package payments

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/metrics"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox"
	"github.com/angelmondragon/creatorpay-backend/pkg/pagination"
)

const maxReasonLength = 500

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the payment ledger. Every status change is a compare-and-swap
// that emits a settlement event and notifies the funding owner in the same
// transaction.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Payment, error)
	CreateTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.Payment, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListByFunding(ctx context.Context, fundingType enums.FundingType, fundingID uuid.UUID) ([]models.Payment, error)
	ListForPayer(ctx context.Context, payerID uuid.UUID, status *enums.PaymentStatus, params pagination.Params) ([]models.Payment, string, error)
	TotalSpent(ctx context.Context, payerID uuid.UUID, currency string, window SpendWindow) (money.Money, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, gatewayRef string) (*models.Payment, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Payment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Payment, error)
	Refund(ctx context.Context, id uuid.UUID, reason string) (*models.Payment, error)
	Charge(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (ReconcileResult, error)
	RegisterHandler(handler SettlementHandler, fundingTypes ...enums.FundingType)
}

type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	Outbox            outbox.Emitter
	Gateway           Gateway
	Logger            *logger.Logger
	Metrics           *metrics.PaymentMetrics
	Keys              IdempotencyKeys
	Now               func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outbox.Emitter
	gateway  Gateway
	logg     *logger.Logger
	metrics  *metrics.PaymentMetrics
	keys     IdempotencyKeys
	now      func() time.Time
	mu       sync.RWMutex
	handlers map[enums.FundingType]SettlementHandler
}

// CreateInput describes a new PENDING payment.
type CreateInput struct {
	PayerID     uuid.UUID
	PayeeID     uuid.UUID
	FundingType enums.FundingType
	FundingID   uuid.UUID
	Amount      money.Money
	Method      enums.PaymentMethod
	SourceRef   string
	Description string
	IPAddress   string
	UserAgent   string
}

// SpendWindow bounds a spend total by payment creation time. Nil bounds are open.
type SpendWindow struct {
	From *time.Time
	To   *time.Time
}

// ReconcileResult counts what a reconciliation pass did with each stale payment.
type ReconcileResult struct {
	Scanned   int
	Completed int
	Failed    int
	Pending   int
	Skipped   int
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payment repository required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		tx:       params.TransactionRunner,
		outbox:   params.Outbox,
		gateway:  params.Gateway,
		logg:     params.Logger,
		metrics:  params.Metrics,
		keys:     params.Keys,
		now:      now,
		handlers: map[enums.FundingType]SettlementHandler{},
	}, nil
}

func (s *service) RegisterHandler(handler SettlementHandler, fundingTypes ...enums.FundingType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ft := range fundingTypes {
		s.handlers[ft] = handler
	}
}

func (s *service) handlerFor(ft enums.FundingType) SettlementHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[ft]
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Payment, error) {
	var created *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		payment, err := s.CreateTx(ctx, tx, input)
		if err != nil {
			return err
		}
		created = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateTx inserts the payment on the caller's transaction so the funded
// record and its payment commit or roll back together.
func (s *service) CreateTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.Payment, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}
	payment := &models.Payment{
		PayerID:     input.PayerID,
		PayeeID:     input.PayeeID,
		FundingType: input.FundingType,
		FundingID:   input.FundingID,
		Amount:      input.Amount.Amount(),
		Currency:    input.Amount.Currency(),
		Method:      input.Method,
		Status:      enums.PaymentStatusPending,
		SourceRef:   optionalString(input.SourceRef),
		Description: optionalString(input.Description),
		IPAddress:   optionalString(input.IPAddress),
		UserAgent:   optionalString(input.UserAgent),
		CreatedAt:   s.now().UTC(),
	}
	payment.UpdatedAt = payment.CreatedAt
	if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment")
	}
	return payment, nil
}

func validateCreate(input CreateInput) error {
	switch {
	case input.PayerID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "payer_id is required")
	case input.PayeeID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "payee_id is required")
	case input.FundingID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "funding_id is required")
	case !input.FundingType.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid funding type %q", input.FundingType))
	case !input.Method.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", input.Method))
	case !money.Supported(input.Amount.Currency()):
		return pkgerrors.New(pkgerrors.CodeValidation, "amount currency is required")
	case !input.Amount.IsPositive():
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

func (s *service) ListByFunding(ctx context.Context, fundingType enums.FundingType, fundingID uuid.UUID) ([]models.Payment, error) {
	rows, err := s.repo.ListByFunding(ctx, fundingType, fundingID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payments")
	}
	return rows, nil
}

func (s *service) ListForPayer(ctx context.Context, payerID uuid.UUID, status *enums.PaymentStatus, params pagination.Params) ([]models.Payment, string, error) {
	if status != nil && !status.IsValid() {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", *status)).
			WithDetails(map[string]any{"field": "status"})
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, "", err
	}
	rows, next, err := s.repo.ListForPayer(ctx, payerID, status, params)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return rows, next, nil
}

// TotalSpent is what the payer has paid in COMPLETED payments of one
// currency. Refunded and failed payments do not count.
func (s *service) TotalSpent(ctx context.Context, payerID uuid.UUID, currency string, window SpendWindow) (money.Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	switch {
	case !money.Supported(currency):
		return money.Money{}, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency").
			WithDetails(map[string]any{"field": "currency"})
	case window.From != nil && window.To != nil && window.To.Before(*window.From):
		return money.Money{}, pkgerrors.New(pkgerrors.CodeValidation, "to must not be before from").
			WithDetails(map[string]any{"field": "to"})
	}
	total, err := s.repo.SumCompletedForPayer(ctx, payerID, currency, window)
	if err != nil {
		return money.Money{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum payments")
	}
	return money.New(total, currency)
}

func (s *service) MarkCompleted(ctx context.Context, id uuid.UUID, gatewayRef string) (*models.Payment, error) {
	fields := map[string]any{"settled_at": s.now().UTC()}
	if ref := strings.TrimSpace(gatewayRef); ref != "" {
		fields["gateway_payment_id"] = ref
	}
	return s.settle(ctx, id, enums.PaymentStatusPending, enums.PaymentStatusCompleted, "", fields)
}

func (s *service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Payment, error) {
	reason = trimReason(reason)
	fields := map[string]any{"settled_at": s.now().UTC()}
	if reason != "" {
		fields["failure_reason"] = reason
	}
	return s.settle(ctx, id, enums.PaymentStatusPending, enums.PaymentStatusFailed, reason, fields)
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Payment, error) {
	reason = trimReason(reason)
	fields := map[string]any{"settled_at": s.now().UTC()}
	if reason != "" {
		fields["failure_reason"] = reason
	}
	return s.settle(ctx, id, enums.PaymentStatusPending, enums.PaymentStatusCancelled, reason, fields)
}

// Refund reverses a completed payment at the gateway, then records it. The
// refund key is stable per payment so a retried refund cannot pay out twice.
func (s *service) Refund(ctx context.Context, id uuid.UUID, reason string) (*models.Payment, error) {
	payment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != enums.PaymentStatusCompleted {
		return nil, invalidTransition(payment, enums.PaymentStatusRefunded)
	}
	amount, err := payment.Money()
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithPaymentID(ctx, id.String())
	req := RefundRequest{
		PaymentID:      id,
		IdempotencyKey: s.keys.Refund(id),
		GatewayRef:     derefString(payment.GatewayPaymentID),
		Amount:         amount,
		Reason:         trimReason(reason),
	}
	result, err := s.gateway.Refund(ctx, req)
	if err != nil {
		s.logg.Error(ctx, "gateway refund failed", err)
		return nil, err
	}
	fields := map[string]any{}
	if result.GatewayRefundID != "" {
		fields["gateway_refund_id"] = result.GatewayRefundID
	}
	return s.settle(ctx, id, enums.PaymentStatusCompleted, enums.PaymentStatusRefunded, req.Reason, fields)
}

// Charge submits a PENDING payment to the gateway and settles it from the
// result. A timeout leaves the payment PENDING for reconciliation.
func (s *service) Charge(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil, invalidTransition(payment, enums.PaymentStatusCompleted)
	}
	amount, err := payment.Money()
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithPaymentID(ctx, id.String())

	result, err := s.gateway.Charge(ctx, ChargeRequest{
		PaymentID:      id,
		IdempotencyKey: s.keys.Charge(id),
		Amount:         amount,
		Method:         payment.Method,
		SourceRef:      derefString(payment.SourceRef),
		Note:           derefString(payment.Description),
	})
	if err != nil {
		switch {
		case pkgerrors.IsGatewayTimeout(err):
			s.logg.Warn(ctx, "gateway charge timed out, payment left pending")
			return payment, err
		case pkgerrors.IsValidation(err):
			return s.MarkFailed(ctx, id, gatewayMessage(err))
		default:
			s.logg.Error(ctx, "gateway charge failed, payment left pending", err)
			return payment, err
		}
	}
	if result.Declined {
		reason := result.DeclineReason
		if reason == "" {
			reason = "declined"
		}
		return s.MarkFailed(ctx, id, reason)
	}
	return s.MarkCompleted(ctx, id, result.GatewayRef)
}

// ReconcilePending re-submits stale PENDING payments with their original
// idempotency keys, so the gateway answers with the first attempt's outcome.
func (s *service) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (ReconcileResult, error) {
	var result ReconcileResult
	cutoff := s.now().UTC().Add(-olderThan)
	rows, err := s.repo.ListPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending payments")
	}

	var errs error
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		result.Scanned++
		updated, err := s.Charge(ctx, row.ID)
		switch {
		case err == nil && updated.Status == enums.PaymentStatusCompleted:
			result.Completed++
		case err == nil:
			result.Failed++
		case pkgerrors.IsInvalidState(err):
			result.Skipped++
		case pkgerrors.IsGatewayTimeout(err):
			result.Pending++
		default:
			result.Pending++
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", row.ID, err))
		}
	}
	return result, errs
}

func (s *service) settle(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus, reason string, fields map[string]any) (*models.Payment, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	outcome, ok := to.Outcome()
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("status %s is not terminal", to))
	}
	eventType, _ := enums.SettlementEventType(outcome)
	occurredAt := s.now().UTC()

	var settled *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
		}
		if payment == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		if payment.Status != from {
			return invalidTransition(payment, to)
		}
		swapped, err := repo.Transition(ctx, id, from, to, fields)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payment status")
		}
		if !swapped {
			return invalidTransition(payment, to)
		}
		payment, err = repo.FindByID(ctx, id)
		if err != nil || payment == nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload payment")
		}

		settlement := Settlement{Payment: *payment, Outcome: outcome, Reason: reason, OccurredAt: occurredAt}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Data:          settlement.Event(),
			OccurredAt:    occurredAt,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit settlement event")
		}
		if handler := s.handlerFor(payment.FundingType); handler != nil {
			if err := handler.OnPaymentSettled(ctx, tx, settlement); err != nil {
				return err
			}
		}
		settled = payment
		return nil
	})
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"payment_id": id.String(),
		"from":       from,
		"to":         to,
	})
	if err != nil {
		if pkgerrors.IsInvalidState(err) {
			s.logg.Warn(logCtx, "payment transition rejected")
		}
		return nil, err
	}
	s.metrics.IncSettlement(string(outcome), string(settled.FundingType))
	s.logg.Info(logCtx, "payment settled")
	return settled, nil
}

func invalidTransition(payment *models.Payment, to enums.PaymentStatus) error {
	return pkgerrors.New(
		pkgerrors.CodeStateConflict,
		fmt.Sprintf("payment cannot move from %s to %s", payment.Status, to),
	).WithDetails(map[string]any{
		"payment_id": payment.ID.String(),
		"status":     payment.Status,
		"target":     to,
	})
}

func gatewayMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return err.Error()
}

func trimReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if len(reason) <= maxReasonLength {
		return reason
	}
	cut := maxReasonLength
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
