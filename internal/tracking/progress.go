package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-tracker/internal/geo"
	"github.com/ukydev/transit-tracker/internal/models"
)

const maxApplyAttempts = 3

// Decide picks the single transition a ping at loc and time at causes on p.
// Rules in priority order: an unstarted trip starts on any ping; a started
// trip records the next expected stop when loc is within proximity of it;
// once every stop is recorded it completes within proximity of the end
// station; a completed trip never changes.
//
// Only the next expected stop is checked. A vehicle that passes a stop
// without a ping landing within proximity of it stalls at that stop.
func Decide(p *models.TripProgress, loc models.Location, at time.Time, proximity float64) (models.Transition, error) {
	none := models.Transition{Kind: models.TransitionNone}
	switch p.State() {
	case models.StateNotStarted:
		return models.Transition{Kind: models.TransitionStart, At: at}, nil
	case models.StateCompleted:
		return none, nil
	}

	if p.NextStopIndex < len(p.Stops) {
		next := p.Stops[p.NextStopIndex]
		near, err := geo.IsNear(loc, next.Coordinates.Location(), proximity)
		if err != nil {
			return none, fmt.Errorf("%w: stop %d: %v", models.ErrCorruptProgress, p.NextStopIndex, err)
		}
		if near {
			return models.Transition{Kind: models.TransitionStopArrival, StopIndex: p.NextStopIndex, At: at}, nil
		}
		return none, nil
	}

	if p.EndStation.Arrived() {
		return none, nil
	}
	near, err := geo.IsNear(loc, p.EndStation.Coordinates.Location(), proximity)
	if err != nil {
		return none, fmt.Errorf("%w: end station: %v", models.ErrCorruptProgress, err)
	}
	if near {
		return models.Transition{Kind: models.TransitionComplete, StopIndex: p.NextStopIndex, At: at}, nil
	}
	return none, nil
}

// StateMachine applies decided transitions as conditional writes.
type StateMachine struct {
	store     ProgressStore
	proximity float64
	now       func() time.Time
	metrics   Metrics
}

func NewStateMachine(store ProgressStore, proximity float64, now func() time.Time, m Metrics) *StateMachine {
	if proximity <= 0 {
		proximity = geo.DefaultProximityMeters
	}
	if now == nil {
		now = time.Now
	}
	if m == nil {
		m = noopMetrics{}
	}
	return &StateMachine{store: store, proximity: proximity, now: now, metrics: m}
}

// Advance applies at most one transition caused by a ping at loc and time at.
// When the stored record moved on since p was read, it is reloaded and the
// decision retaken. The returned record reflects the applied transition.
func (m *StateMachine) Advance(ctx context.Context, p *models.TripProgress, loc models.Location, at time.Time) (models.Transition, *models.TripProgress, error) {
	current := p
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		if err := current.Validate(); err != nil {
			return models.Transition{}, current, err
		}
		t, err := Decide(current, loc, at, m.proximity)
		if err != nil {
			return models.Transition{}, current, err
		}
		if t.Kind == models.TransitionNone {
			return t, current, nil
		}
		t.RecordedAt = m.now()

		err = m.store.ApplyTransition(ctx, current.ID, t)
		if err == nil {
			applied := current.Clone()
			if err := applied.Apply(t); err != nil {
				return models.Transition{}, current, fmt.Errorf("replay %s on %s: %w", t.Kind, current.ID, err)
			}
			return t, applied, nil
		}
		if !errors.Is(err, models.ErrStaleProgress) {
			return models.Transition{}, current, fmt.Errorf("apply %s to %s: %w", t.Kind, current.ID, err)
		}

		m.metrics.ObserveApplyConflict()
		log.WithFields(log.Fields{
			"progress_id": current.ID,
			"transition":  t.Kind.String(),
			"attempt":     attempt,
		}).Debug("Trip progress changed concurrently, reloading")

		current, err = m.store.FindByID(ctx, current.ID)
		if err != nil {
			return models.Transition{}, p, fmt.Errorf("reload progress %s: %w", p.ID, err)
		}
	}
	return models.Transition{}, current, fmt.Errorf("%w: %s", ErrConflict, current.ID)
}
