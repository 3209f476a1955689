package tracking

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/transit-tracker/internal/db"
	"github.com/ukydev/transit-tracker/internal/geo"
	"github.com/ukydev/transit-tracker/internal/models"
	"github.com/ukydev/transit-tracker/internal/schedule"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func freshProgress(t *testing.T) *models.TripProgress {
	t.Helper()
	bus := primitive.NewObjectID()
	p, err := BuildProgress(TripRef{Trip: morningTrip(bus), ServiceDate: serviceDay}, bus, schedule.NewResolver(time.UTC), at(8, 0))
	require.NoError(t, err)
	return p
}

func started(t *testing.T) *models.TripProgress {
	p := freshProgress(t)
	require.NoError(t, p.Apply(models.Transition{Kind: models.TransitionStart, At: at(8, 1)}))
	return p
}

func TestDecide(t *testing.T) {
	near := func(loc models.Location) models.Location {
		return geo.Offset(loc, 50, 0)
	}
	notNear := func(loc models.Location) models.Location {
		return geo.Offset(loc, 150, 0)
	}

	t.Run("not started starts anywhere", func(t *testing.T) {
		tr, err := Decide(freshProgress(t), farLoc, at(8, 2), 100)
		require.NoError(t, err)
		assert.Equal(t, models.TransitionStart, tr.Kind)
		assert.Equal(t, at(8, 2), tr.At)
	})
	t.Run("next stop within proximity", func(t *testing.T) {
		tr, err := Decide(started(t), near(stop0Loc), at(8, 10), 100)
		require.NoError(t, err)
		assert.Equal(t, models.TransitionStopArrival, tr.Kind)
		assert.Equal(t, 0, tr.StopIndex)
	})
	t.Run("next stop out of proximity", func(t *testing.T) {
		tr, err := Decide(started(t), notNear(stop0Loc), at(8, 10), 100)
		require.NoError(t, err)
		assert.Equal(t, models.TransitionNone, tr.Kind)
	})
	t.Run("later stop is ignored", func(t *testing.T) {
		tr, err := Decide(started(t), stop1Loc, at(8, 20), 100)
		require.NoError(t, err)
		assert.Equal(t, models.TransitionNone, tr.Kind)
	})
	t.Run("end station before stops are done", func(t *testing.T) {
		tr, err := Decide(started(t), endLoc, at(8, 30), 100)
		require.NoError(t, err)
		assert.Equal(t, models.TransitionNone, tr.Kind)
	})
	t.Run("end station after all stops", func(t *testing.T) {
		p := started(t)
		require.NoError(t, p.Apply(models.Transition{Kind: models.TransitionStopArrival, StopIndex: 0, At: at(8, 10)}))
		require.NoError(t, p.Apply(models.Transition{Kind: models.TransitionStopArrival, StopIndex: 1, At: at(8, 20)}))
		tr, err := Decide(p, near(endLoc), at(8, 31), 100)
		require.NoError(t, err)
		assert.Equal(t, models.TransitionComplete, tr.Kind)
		assert.Equal(t, 2, tr.StopIndex)
	})
	t.Run("completed never changes", func(t *testing.T) {
		p := started(t)
		p.NextStopIndex = 2
		arrived := at(8, 10)
		p.Stops[0].ArrivedTime, p.Stops[1].ArrivedTime = &arrived, &arrived
		require.NoError(t, p.Apply(models.Transition{Kind: models.TransitionComplete, StopIndex: 2, At: at(8, 30)}))
		for _, loc := range []models.Location{startLoc, stop0Loc, endLoc, farLoc} {
			tr, err := Decide(p, loc, at(8, 40), 100)
			require.NoError(t, err)
			assert.Equal(t, models.TransitionNone, tr.Kind)
		}
	})
	t.Run("corrupt stop coordinates", func(t *testing.T) {
		p := started(t)
		p.Stops[0].Coordinates = models.NewCoordinates(120, 0)
		_, err := Decide(p, stop0Loc, at(8, 10), 100)
		assert.ErrorIs(t, err, models.ErrCorruptProgress)
	})
}

func TestStateMachine_AdvancePersists(t *testing.T) {
	store := db.NewMemoryStore()
	p := freshProgress(t)
	_, _, err := store.CreateIfAbsent(context.Background(), p)
	require.NoError(t, err)
	m := NewStateMachine(store, 100, func() time.Time { return at(9, 0) }, nil)

	tr, updated, err := m.Advance(context.Background(), p, farLoc, at(8, 2))
	require.NoError(t, err)
	assert.Equal(t, models.TransitionStart, tr.Kind)
	assert.True(t, updated.IsStarted)

	stored, err := store.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsStarted)
	require.NotNil(t, stored.StartStation.ArrivedTime)
	assert.Equal(t, at(8, 2), *stored.StartStation.ArrivedTime)
	assert.Equal(t, at(9, 0), stored.UpdatedAt)
}

func TestStateMachine_StaleRecordIsReloaded(t *testing.T) {
	p := freshProgress(t)
	current := started(t)
	current.ID = p.ID

	store := new(MockProgressStore)
	store.On("ApplyTransition", mock.Anything, p.ID, mock.MatchedBy(func(tr models.Transition) bool {
		return tr.Kind == models.TransitionStart
	})).Return(models.ErrStaleProgress).Once()
	store.On("FindByID", mock.Anything, p.ID).Return(current, nil).Once()
	metrics := newCountingMetrics()

	m := NewStateMachine(store, 100, nil, metrics)
	tr, updated, err := m.Advance(context.Background(), p, farLoc, at(8, 2))
	require.NoError(t, err)
	assert.Equal(t, models.TransitionNone, tr.Kind, "another ping already started the trip")
	assert.True(t, updated.IsStarted)
	assert.Equal(t, 1, metrics.conflicts)
	store.AssertExpectations(t)
}

func TestStateMachine_GivesUpAfterRepeatedConflicts(t *testing.T) {
	p := freshProgress(t)
	store := new(MockProgressStore)
	store.On("ApplyTransition", mock.Anything, p.ID, mock.Anything).Return(models.ErrStaleProgress)
	store.On("FindByID", mock.Anything, p.ID).Return(p.Clone(), nil)

	m := NewStateMachine(store, 100, nil, nil)
	_, _, err := m.Advance(context.Background(), p, farLoc, at(8, 2))
	assert.ErrorIs(t, err, ErrConflict)
	store.AssertNumberOfCalls(t, "ApplyTransition", maxApplyAttempts)
}

func TestStateMachine_RejectsCorruptRecord(t *testing.T) {
	p := started(t)
	p.NextStopIndex = 5
	store := new(MockProgressStore)

	m := NewStateMachine(store, 100, nil, nil)
	_, _, err := m.Advance(context.Background(), p, stop0Loc, at(8, 10))
	assert.ErrorIs(t, err, models.ErrCorruptProgress)
	store.AssertNotCalled(t, "ApplyTransition", mock.Anything, mock.Anything, mock.Anything)
}

// Random ping sequences never move the cursor backwards, never skip a stop
// and never change a completed record.
func TestStateMachine_RandomSequencesAreMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	candidates := []models.Location{startLoc, stop0Loc, stop1Loc, endLoc, farLoc, geo.Offset(stop0Loc, 60, 0)}

	for run := 0; run < 50; run++ {
		store := db.NewMemoryStore()
		p := freshProgress(t)
		_, _, err := store.CreateIfAbsent(context.Background(), p)
		require.NoError(t, err)
		m := NewStateMachine(store, 100, nil, nil)

		var completedSnapshot *models.TripProgress
		prevIndex := 0
		for step := 0; step < 40; step++ {
			current, err := store.FindByID(context.Background(), p.ID)
			require.NoError(t, err)
			loc := candidates[rng.Intn(len(candidates))]
			_, _, err = m.Advance(context.Background(), current, loc, at(8, step))
			require.NoError(t, err)

			after, err := store.FindByID(context.Background(), p.ID)
			require.NoError(t, err)
			require.NoError(t, after.Validate())
			assert.GreaterOrEqual(t, after.NextStopIndex, prevIndex)
			assert.LessOrEqual(t, after.NextStopIndex-prevIndex, 1)
			prevIndex = after.NextStopIndex

			if completedSnapshot != nil {
				assert.Equal(t, completedSnapshot, after)
			} else if after.Completed {
				completedSnapshot = after
			}
		}
	}
}
