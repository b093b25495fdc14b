package tips

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/internal/payments"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
	"github.com/angelmondragon/creatorpay-backend/pkg/pagination"
)

const maxMessageLength = 500

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type paymentLedger interface {
	CreateTx(ctx context.Context, tx *gorm.DB, input payments.CreateInput) (*models.Payment, error)
	Charge(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	RegisterHandler(handler payments.SettlementHandler, fundingTypes ...enums.FundingType)
}

type Service interface {
	SendTip(ctx context.Context, input SendTipInput) (*SendTipResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Tip, error)
	ListReceived(ctx context.Context, creatorID uuid.UUID, params pagination.Params) ([]ReceivedTip, string, error)
	OnPaymentSettled(ctx context.Context, tx *gorm.DB, settlement payments.Settlement) error
}

type SendTipInput struct {
	SenderID      uuid.UUID
	CreatorID     uuid.UUID
	Amount        money.Money
	Message       string
	Anonymous     bool
	Method        enums.PaymentMethod
	PaymentSource string
	IPAddress     string
	UserAgent     string
}

type SendTipResult struct {
	Tip     *models.Tip
	Payment *models.Payment
}

// ReceivedTip is the creator-facing view. SenderID is nil for anonymous tips.
type ReceivedTip struct {
	ID        uuid.UUID
	SenderID  *uuid.UUID
	Amount    money.Money
	Message   string
	Anonymous bool
	CreatedAt time.Time
}

type ServiceParams struct {
	Repo              Repository
	Payments          paymentLedger
	TransactionRunner txRunner
	Logger            *logger.Logger
	Now               func() time.Time
}

type service struct {
	repo     Repository
	payments paymentLedger
	tx       txRunner
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("tip repository required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment ledger required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	svc := &service{
		repo:     params.Repo,
		payments: params.Payments,
		tx:       params.TransactionRunner,
		logg:     params.Logger,
		now:      func() time.Time { return now().UTC() },
	}
	params.Payments.RegisterHandler(svc, enums.FundingTip)
	return svc, nil
}

func (s *service) SendTip(ctx context.Context, input SendTipInput) (*SendTipResult, error) {
	message := strings.TrimSpace(input.Message)
	switch {
	case input.SenderID == uuid.Nil || input.CreatorID == uuid.Nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sender_id and creator_id are required")
	case input.SenderID == input.CreatorID:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot tip yourself")
	case utf8.RuneCountInString(message) > maxMessageLength:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("message must be at most %d characters", maxMessageLength))
	case strings.TrimSpace(input.PaymentSource) == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment_source is required")
	}

	now := s.now()
	tip := &models.Tip{
		ID:          uuid.New(),
		SenderID:    input.SenderID,
		CreatorID:   input.CreatorID,
		Amount:      input.Amount.Amount(),
		Currency:    input.Amount.Currency(),
		IsAnonymous: input.Anonymous,
		Status:      enums.TipStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if message != "" {
		tip.Message = &message
	}

	var payment *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		payment, err = s.payments.CreateTx(ctx, tx, payments.CreateInput{
			PayerID:     input.SenderID,
			PayeeID:     input.CreatorID,
			FundingType: enums.FundingTip,
			FundingID:   tip.ID,
			Amount:      input.Amount,
			Method:      input.Method,
			SourceRef:   input.PaymentSource,
			Description: "tip",
			IPAddress:   input.IPAddress,
			UserAgent:   input.UserAgent,
		})
		if err != nil {
			return err
		}
		tip.PaymentID = payment.ID
		if err := s.repo.WithTx(tx).Create(ctx, tip); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: insert tip")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithCreatorID(ctx, input.CreatorID.String()), map[string]any{
		"tip_id":    tip.ID.String(),
		"anonymous": tip.IsAnonymous,
	})
	s.logg.Info(logCtx, "tip created")

	charged, chargeErr := s.payments.Charge(logCtx, payment.ID)
	if charged == nil {
		charged = payment
	}
	current, err := s.Get(ctx, tip.ID)
	if err != nil {
		return nil, err
	}
	return &SendTipResult{Tip: current, Payment: charged}, chargeErr
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Tip, error) {
	tip, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tip")
	}
	if tip == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tip not found")
	}
	return tip, nil
}

func (s *service) ListReceived(ctx context.Context, creatorID uuid.UUID, params pagination.Params) ([]ReceivedTip, string, error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, "", err
	}
	rows, next, err := s.repo.ListReceived(ctx, creatorID, params)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list tips")
	}
	out := make([]ReceivedTip, 0, len(rows))
	for _, row := range rows {
		amount, err := money.New(row.Amount, row.Currency)
		if err != nil {
			return nil, "", err
		}
		view := ReceivedTip{
			ID:        row.ID,
			Amount:    amount,
			Anonymous: row.IsAnonymous,
			CreatedAt: row.CreatedAt,
		}
		if row.Message != nil {
			view.Message = *row.Message
		}
		if !row.IsAnonymous {
			sender := row.SenderID
			view.SenderID = &sender
		}
		out = append(out, view)
	}
	return out, next, nil
}

func (s *service) OnPaymentSettled(ctx context.Context, tx *gorm.DB, settlement payments.Settlement) error {
	repo := s.repo.WithTx(tx)
	tip, err := repo.FindByID(ctx, settlement.FundingID())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tip")
	}
	if tip == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "tip for payment not found")
	}

	from, to := enums.TipStatusPending, enums.TipStatusFailed
	switch settlement.Outcome {
	case enums.SettlementCompleted:
		to = enums.TipStatusCompleted
	case enums.SettlementRefunded:
		from, to = enums.TipStatusCompleted, enums.TipStatusRefunded
	}
	if tip.Status == to {
		return nil
	}
	swapped, err := repo.Transition(ctx, tip.ID, from, to)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update tip")
	}
	if !swapped {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move a %s tip to %s", tip.Status, to)).
			WithDetails(map[string]any{"tip_id": tip.ID.String(), "status": tip.Status})
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"tip_id": tip.ID.String(), "status": to}), "tip settled")
	return nil
}
