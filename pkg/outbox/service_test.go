package outbox_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creatorpay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox"
)

func TestEmitWritesEnvelopeKeyedByRowID(t *testing.T) {
	conn := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), logger.New(logger.Options{ServiceName: "outbox-test", Output: io.Discard}))
	actor := outbox.ActorRef{UserID: uuid.New(), Role: "admin"}
	ctx := outbox.WithActor(context.Background(), actor)
	aggregate := uuid.New()
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))

	err := svc.Emit(ctx, conn, outbox.DomainEvent{
		EventType:     enums.EventPaymentRefunded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   aggregate,
		Data:          map[string]string{"reason": "duplicate"},
		OccurredAt:    at,
	})
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row, "aggregate_id = ?", aggregate).Error)
	envelope, err := outbox.DecodeEnvelope(row.Payload)
	require.NoError(t, err)
	assert.Equal(t, row.ID.String(), envelope.EventID)
	assert.Equal(t, outbox.DefaultVersion, envelope.Version)
	assert.True(t, envelope.OccurredAt.Equal(at))
	assert.Equal(t, time.UTC, envelope.OccurredAt.Location())
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, actor, *envelope.Actor)
	assert.JSONEq(t, `{"reason":"duplicate"}`, string(envelope.Data))
}

func TestEmitOmitsActorOutsideRequests(t *testing.T) {
	conn := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)
	aggregate := uuid.New()

	require.NoError(t, svc.Emit(context.Background(), conn, outbox.DomainEvent{
		EventType:     enums.EventPayoutSettled,
		AggregateType: enums.AggregatePayout,
		AggregateID:   aggregate,
		Data:          struct{}{},
	}))

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row, "aggregate_id = ?", aggregate).Error)
	envelope, err := outbox.DecodeEnvelope(row.Payload)
	require.NoError(t, err)
	assert.Nil(t, envelope.Actor)
	assert.False(t, envelope.OccurredAt.IsZero())
}

func TestEmitRejectsBadEvents(t *testing.T) {
	conn := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)
	ctx := context.Background()
	good := outbox.DomainEvent{
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
	}

	badType := good
	badType.EventType = "payment_teleported"
	badAggregate := good
	badAggregate.AggregateType = "store"
	noID := good
	noID.AggregateID = uuid.Nil
	unencodable := good
	unencodable.Data = make(chan int)

	for name, event := range map[string]outbox.DomainEvent{
		"event type":     badType,
		"aggregate type": badAggregate,
		"aggregate id":   noID,
		"payload":        unencodable,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, svc.Emit(ctx, conn, event))
		})
	}
	assert.Error(t, svc.Emit(ctx, nil, good))

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}
