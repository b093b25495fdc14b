package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox"
)

func insertEvent(t *testing.T, conn *gorm.DB, repo *outbox.Repository, createdAt time.Time) models.OutboxEvent {
	t.Helper()
	event := models.OutboxEvent{
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		CreatedAt:     createdAt,
	}
	require.NoError(t, repo.Insert(conn, event))
	var stored models.OutboxEvent
	require.NoError(t, conn.Where("aggregate_id = ?", event.AggregateID).First(&stored).Error)
	return stored
}

func TestFetchSkipsPublishedAndParkedRows(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	first := insertEvent(t, conn, repo, base)
	second := insertEvent(t, conn, repo, base.Add(time.Minute))
	parked := insertEvent(t, conn, repo, base.Add(2*time.Minute))

	require.NoError(t, repo.MarkPublishedTx(conn, first.ID))
	require.NoError(t, repo.MarkTerminalTx(conn, parked.ID, errors.New("gone"), 5))

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, second.ID, rows[0].ID)

	require.NoError(t, repo.MarkFailedTx(conn, second.ID, errors.New(strings.Repeat("x", 4096))))
	var failed models.OutboxEvent
	require.NoError(t, conn.First(&failed, "id = ?", second.ID).Error)
	assert.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Less(t, len(*failed.LastError), 4096)

	// a two-byte rune straddling the cap is dropped whole
	require.NoError(t, repo.MarkFailedTx(conn, second.ID, errors.New(strings.Repeat("x", 1023)+"ñandú")))
	require.NoError(t, conn.First(&failed, "id = ?", second.ID).Error)
	assert.True(t, utf8.ValidString(*failed.LastError))
	assert.Equal(t, strings.Repeat("x", 1023), *failed.LastError)
}

func TestDeletePublishedBeforeKeepsRecentRows(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	old := insertEvent(t, conn, repo, now.Add(-60*24*time.Hour))
	recent := insertEvent(t, conn, repo, now.Add(-time.Hour))
	stuck := insertEvent(t, conn, repo, now.Add(-60*24*time.Hour))
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id = ?", old.ID).
		Update("published_at", now.Add(-59*24*time.Hour)).Error)
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id = ?", recent.ID).
		Update("published_at", now.Add(-time.Minute)).Error)
	require.NoError(t, repo.MarkTerminalTx(conn, stuck.ID, errors.New("poison"), 10))

	deleted, err := repo.DeletePublishedBefore(context.Background(), conn, now.Add(-30*24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, recent.ID, remaining[0].ID)
}

func TestDLQInsertValidatesReasonAndTruncates(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := outbox.NewDLQRepository(conn)
	msg := strings.Repeat("e", 2048)
	entry := models.OutboxDLQ{
		EventID:       uuid.New(),
		EventType:     enums.EventPaymentRefunded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonSinkRejected,
		ErrorMessage:  &msg,
		AttemptCount:  3,
	}
	require.NoError(t, dlq.InsertTx(conn, entry))

	found, err := dlq.FindByEventID(context.Background(), entry.EventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, enums.OutboxDLQReasonSinkRejected, found.ErrorReason)
	assert.Len(t, *found.ErrorMessage, 1024)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	bad := entry
	bad.EventID = uuid.New()
	bad.ErrorReason = "gave_up"
	assert.ErrorContains(t, dlq.InsertTx(conn, bad), "unknown dlq reason")

	rows, err := dlq.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
