package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/creatorpay-backend/pkg/pagination"
)

// Service records the settlement audit trail.
type Service interface {
	Record(ctx context.Context, input RecordInput) (*models.LedgerEvent, bool, error)
	ListForPayment(ctx context.Context, paymentID uuid.UUID) ([]models.LedgerEvent, error)
	ListForPayee(ctx context.Context, payeeID uuid.UUID, params pagination.Params) (*ListResult, error)
}

// RecordInput is one delivered settlement event. SourceEventID is the outbox
// envelope id and makes the write idempotent.
type RecordInput struct {
	SourceEventID uuid.UUID
	Settlement    payloads.SettlementEvent
	Metadata      json.RawMessage
}

type ListResult struct {
	Events     []models.LedgerEvent
	NextCursor string
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// Record returns the event and whether it was newly written. A replay of an
// already recorded source event returns (nil, false, nil).
func (s *service) Record(ctx context.Context, input RecordInput) (*models.LedgerEvent, bool, error) {
	settlement := input.Settlement
	if input.SourceEventID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "source event id is required")
	}
	if settlement.PaymentID == uuid.Nil || settlement.FundingID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "payment and funding ids are required")
	}
	if !settlement.FundingType.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid funding type %q", settlement.FundingType))
	}
	eventType, ok := enums.LedgerEventTypeFor(settlement.Outcome)
	if !ok {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid settlement outcome %q", settlement.Outcome))
	}
	if settlement.Amount.IsNegative() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}

	metadata := input.Metadata
	if len(metadata) == 0 && settlement.Reason != "" {
		metadata, _ = json.Marshal(map[string]string{"reason": settlement.Reason})
	}
	event := &models.LedgerEvent{
		SourceEventID: input.SourceEventID,
		PaymentID:     settlement.PaymentID,
		FundingType:   settlement.FundingType,
		FundingID:     settlement.FundingID,
		PayerID:       settlement.PayerID,
		PayeeID:       settlement.PayeeID,
		Type:          eventType,
		Amount:        settlement.Amount,
		Currency:      strings.ToUpper(settlement.Currency),
		OccurredAt:    settlement.OccurredAt.UTC(),
		Metadata:      metadata,
	}
	inserted, err := s.repo.Insert(ctx, event)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert ledger event")
	}
	if !inserted {
		return nil, false, nil
	}
	return event, true, nil
}

func (s *service) ListForPayment(ctx context.Context, paymentID uuid.UUID) ([]models.LedgerEvent, error) {
	events, err := s.repo.ListForPayment(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger events")
	}
	return events, nil
}

func (s *service) ListForPayee(ctx context.Context, payeeID uuid.UUID, params pagination.Params) (*ListResult, error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, err
	}
	events, next, err := s.repo.ListForPayee(ctx, payeeID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger events")
	}
	return &ListResult{Events: events, NextCursor: next}, nil
}
