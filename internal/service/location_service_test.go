package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/config"
	"github.com/onichip/pettrack-backend-go/internal/models"
)

func TestLocationService_History(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, config.FallbackConfig{})
	svc := NewLocationService(s.history, s.lastKnown, config.HistoryConfig{DefaultLimit: 2, MaxLimit: 3})

	for i := 0; i < 5; i++ {
		_, err := s.ingestion.Receive(ctx, "pet-1", coords(40, -3+float64(i)*0.001, t0.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	fixes, err := svc.History(ctx, "pet-1", models.LocationFilter{})
	require.NoError(t, err)
	require.Len(t, fixes, 2)
	assert.True(t, fixes[0].Timestamp.Equal(t0.Add(4*time.Minute)))

	fixes, err = svc.History(ctx, "pet-1", models.LocationFilter{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, fixes, 3)

	start, end := t0.Add(time.Minute), t0.Add(2*time.Minute)
	fixes, err = svc.History(ctx, "pet-1", models.LocationFilter{StartTime: &start, EndTime: &end, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, fixes, 2)

	_, err = svc.History(ctx, "pet-1", models.LocationFilter{StartTime: &end, EndTime: &start})
	assert.True(t, errors.Is(err, apperr.ErrInvalidPayload))

	lk, err := svc.LastKnown(ctx, "pet-1")
	require.NoError(t, err)
	assert.True(t, lk.Timestamp.Equal(t0.Add(4*time.Minute)))

	_, err = svc.LastKnown(ctx, "pet-404")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestEntityService_Register(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, config.FallbackConfig{})
	svc := NewEntityService(s.entities)

	e, err := svc.Register(ctx, "owner-2", models.Entity{ID: "pet-2", Name: "Rex"})
	require.NoError(t, err)
	assert.Equal(t, "owner-2", e.OwnerID)

	_, err = svc.Register(ctx, "owner-2", models.Entity{ID: "pet-1", Name: "Stolen"})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = svc.Register(ctx, "owner-2", models.Entity{ID: "pet-3", OwnerID: "owner-1"})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = svc.Register(ctx, "", models.Entity{ID: "pet-3"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidPayload))

	renamed, err := svc.Register(ctx, "", models.Entity{ID: "pet-1", OwnerID: "owner-1", Name: "Luna II"})
	require.NoError(t, err)
	assert.True(t, renamed.CreatedAt.Equal(t0))
}

func TestAlertService_ListAndAcknowledge(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, config.FallbackConfig{})
	svc := NewAlertService(s.alerts)
	s.circle(t, 40, -3, 50, nil)

	_, err := s.ingestion.Receive(ctx, "pet-1", coords(40.001, -3, t0))
	require.NoError(t, err)
	res, err := s.ingestion.Receive(ctx, "pet-1", coords(40.0001, -3, t0.Add(time.Minute)))
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)

	acked, err := svc.Acknowledge(ctx, res.Alerts[0].ID)
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)

	pending, err := svc.List(ctx, "pet-1", models.AlertFilter{Unacknowledged: true})
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := svc.List(ctx, "pet-1", models.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = svc.Acknowledge(ctx, 9999)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
