package purchases

import (
	"context"
	"fmt"
	"strings"
	"time"

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

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type contentReader interface {
	Get(ctx context.Context, contentID uuid.UUID) (*models.ContentRef, error)
}

type paymentLedger interface {
	CreateTx(ctx context.Context, tx *gorm.DB, input payments.CreateInput) (*models.Payment, error)
	Charge(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	RegisterHandler(handler payments.SettlementHandler, fundingTypes ...enums.FundingType)
}

// Service sells one-off access to content items.
type Service interface {
	Purchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ContentPurchase, error)
	FindAccessible(ctx context.Context, buyerID, contentID uuid.UUID) (*models.ContentPurchase, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.ContentPurchase, string, error)
	OnPaymentSettled(ctx context.Context, tx *gorm.DB, settlement payments.Settlement) error
}

type PurchaseInput struct {
	BuyerID       uuid.UUID
	ContentID     uuid.UUID
	Price         money.Money
	ExpiresAt     *time.Time
	Method        enums.PaymentMethod
	PaymentSource string
	IPAddress     string
	UserAgent     string
}

type PurchaseResult struct {
	Purchase *models.ContentPurchase
	Payment  *models.Payment
}

type ServiceParams struct {
	Repo              Repository
	Content           contentReader
	Payments          paymentLedger
	TransactionRunner txRunner
	Logger            *logger.Logger
	Now               func() time.Time
}

type service struct {
	repo     Repository
	content  contentReader
	payments paymentLedger
	tx       txRunner
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("purchase repository required")
	}
	if params.Content == nil {
		return nil, fmt.Errorf("content reader required")
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
		content:  params.Content,
		payments: params.Payments,
		tx:       params.TransactionRunner,
		logg:     params.Logger,
		now:      func() time.Time { return now().UTC() },
	}
	params.Payments.RegisterHandler(svc, enums.FundingContentPurchase)
	return svc, nil
}

// IsAccessible reports whether a purchase unlocks its content at now.
func IsAccessible(purchase models.ContentPurchase, now time.Time) bool {
	if purchase.Status != enums.PurchaseStatusCompleted {
		return false
	}
	return purchase.ExpiresAt == nil || now.Before(*purchase.ExpiresAt)
}

// Purchase writes the purchase and its payment in one transaction and then
// charges. Settlement moves the purchase out of PENDING.
func (s *service) Purchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}
	content, err := s.content.Get(ctx, input.ContentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load content")
	}
	if content == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "content not found")
	}
	if content.CreatorID == input.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot purchase your own content")
	}

	now := s.now()
	purchase := &models.ContentPurchase{
		ID:        uuid.New(),
		BuyerID:   input.BuyerID,
		ContentID: content.ID,
		CreatorID: content.CreatorID,
		Amount:    input.Price.Amount(),
		Currency:  input.Price.Currency(),
		Status:    enums.PurchaseStatusPending,
		ExpiresAt: input.ExpiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var payment *models.Payment
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		owned, err := repo.FindAccessible(ctx, input.BuyerID, content.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing purchase")
		}
		if owned != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "content already purchased").
				WithDetails(map[string]any{"purchase_id": owned.ID.String()})
		}
		pending, err := repo.FindPending(ctx, input.BuyerID, content.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check pending purchase")
		}
		if pending != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "a purchase of this content is already in progress").
				WithDetails(map[string]any{"purchase_id": pending.ID.String()})
		}

		payment, err = s.payments.CreateTx(ctx, tx, payments.CreateInput{
			PayerID:     input.BuyerID,
			PayeeID:     content.CreatorID,
			FundingType: enums.FundingContentPurchase,
			FundingID:   purchase.ID,
			Amount:      input.Price,
			Method:      input.Method,
			SourceRef:   input.PaymentSource,
			Description: "content purchase",
			IPAddress:   input.IPAddress,
			UserAgent:   input.UserAgent,
		})
		if err != nil {
			return err
		}
		purchase.PaymentID = payment.ID
		if err := repo.Create(ctx, purchase); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: insert purchase")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithUserID(ctx, input.BuyerID.String()), map[string]any{
		"purchase_id": purchase.ID.String(),
		"content_id":  content.ID.String(),
	})
	s.logg.Info(logCtx, "content purchase created")

	charged, chargeErr := s.payments.Charge(logCtx, payment.ID)
	if charged == nil {
		charged = payment
	}
	current, err := s.Get(ctx, purchase.ID)
	if err != nil {
		return nil, err
	}
	return &PurchaseResult{Purchase: current, Payment: charged}, chargeErr
}

func (s *service) validate(input PurchaseInput) error {
	switch {
	case input.BuyerID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer_id is required")
	case input.ContentID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "content_id is required")
	case !input.Method.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", input.Method))
	case strings.TrimSpace(input.PaymentSource) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "payment_source is required")
	case !money.Supported(input.Price.Currency()):
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	case !input.Price.IsPositive():
		return pkgerrors.New(pkgerrors.CodeValidation, "price must be positive")
	case input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()):
		return pkgerrors.New(pkgerrors.CodeValidation, "expires_at must be in the future")
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.ContentPurchase, error) {
	purchase, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load purchase")
	}
	if purchase == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "purchase not found")
	}
	return purchase, nil
}

// FindAccessible returns nil, nil when the buyer holds no accessible purchase.
func (s *service) FindAccessible(ctx context.Context, buyerID, contentID uuid.UUID) (*models.ContentPurchase, error) {
	purchase, err := s.repo.FindAccessible(ctx, buyerID, contentID, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load purchase")
	}
	return purchase, nil
}

func (s *service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.ContentPurchase, string, error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, "", err
	}
	rows, next, err := s.repo.ListForBuyer(ctx, buyerID, params)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list purchases")
	}
	return rows, next, nil
}

// OnPaymentSettled mirrors the payment outcome onto the purchase. A purchase
// already in the target status is left alone so replays are harmless.
func (s *service) OnPaymentSettled(ctx context.Context, tx *gorm.DB, settlement payments.Settlement) error {
	repo := s.repo.WithTx(tx)
	purchase, err := repo.FindByID(ctx, settlement.FundingID())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load purchase")
	}
	if purchase == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "purchase for payment not found")
	}

	from, to := purchaseTransition(settlement.Outcome)
	if purchase.Status == to {
		return nil
	}
	if purchase.Status != from {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move a %s purchase to %s", purchase.Status, to)).
			WithDetails(map[string]any{"purchase_id": purchase.ID.String(), "status": purchase.Status})
	}
	swapped, err := repo.Transition(ctx, purchase.ID, from, to)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update purchase")
	}
	if !swapped {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "purchase changed concurrently")
	}

	logCtx := s.logg.WithFields(s.logg.WithPaymentID(ctx, settlement.Payment.ID.String()), map[string]any{
		"purchase_id": purchase.ID.String(),
		"status":      to,
	})
	s.logg.Info(logCtx, "content purchase settled")
	return nil
}

func purchaseTransition(outcome enums.SettlementOutcome) (from, to enums.PurchaseStatus) {
	switch outcome {
	case enums.SettlementCompleted:
		return enums.PurchaseStatusPending, enums.PurchaseStatusCompleted
	case enums.SettlementRefunded:
		return enums.PurchaseStatusCompleted, enums.PurchaseStatusRefunded
	default:
		return enums.PurchaseStatusPending, enums.PurchaseStatusFailed
	}
}
