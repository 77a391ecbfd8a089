package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPurger struct{}

func (nopPurger) AutoPurge(context.Context) error { return nil }

func TestSetReconcileTracksNextRun(t *testing.T) {
	s := New(context.Background())
	s.Start()
	defer s.Stop()

	assert.Nil(t, s.NextRunAt())

	noop := ReconcilerFunc(func(context.Context, string) error { return nil })
	require.NoError(t, s.SetReconcile("0 2 * * *", noop))
	assert.Equal(t, "0 2 * * *", s.CronExpr())

	next := s.NextRunAt()
	require.NotNil(t, next)
	assert.True(t, next.After(time.Now()))
	assert.Equal(t, 2, next.Hour())

	require.NoError(t, s.SetReconcile("", noop))
	assert.Nil(t, s.NextRunAt())
	assert.Empty(t, s.CronExpr())
}

func TestSetReconcileRejectsBadExpression(t *testing.T) {
	s := New(context.Background())
	noop := ReconcilerFunc(func(context.Context, string) error { return nil })
	require.NoError(t, s.SetReconcile("@hourly", noop))

	assert.Error(t, s.SetReconcile("not a cron", noop))
	assert.Equal(t, "@hourly", s.CronExpr(), "failed update replaced the job")
}

func TestAddPurgeDefaultsSchedule(t *testing.T) {
	s := New(context.Background())
	assert.NoError(t, s.AddPurge("", nopPurger{}))
	assert.Error(t, s.AddPurge("bad", nopPurger{}))
}
