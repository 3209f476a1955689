package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ProgressPoint is a station or stop of a trip instance with its expected and
// actual arrival.
type ProgressPoint struct {
	Coordinates  Coordinates `json:"coordinates" bson:"coordinates"`
	ExpectedTime time.Time   `json:"expectedTime" bson:"expected_time"`
	ArrivedTime  *time.Time  `json:"arrivedTime,omitempty" bson:"arrived_time,omitempty"`
}

// Arrived reports whether an arrival has been recorded.
func (p ProgressPoint) Arrived() bool { return p.ArrivedTime != nil }

// TripProgress records actual versus expected arrivals of one trip on one
// service day. ID is deterministic so that a day can hold at most one record
// per trip.
type TripProgress struct {
	ID            string             `json:"id" bson:"_id"`
	TripID        primitive.ObjectID `json:"tripId" bson:"trip_id"`
	VehicleID     primitive.ObjectID `json:"busId" bson:"vehicle_id"`
	RouteID       primitive.ObjectID `json:"routeId" bson:"route_id"`
	Date          time.Time          `json:"date" bson:"date"`
	StartStation  ProgressPoint      `json:"startStation" bson:"start_station"`
	EndStation    ProgressPoint      `json:"endStation" bson:"end_station"`
	Stops         []ProgressPoint    `json:"stops" bson:"stops"`
	IsStarted     bool               `json:"isStarted" bson:"is_started"`
	NextStopIndex int                `json:"nextStopIndex" bson:"next_stop_index"`
	Completed     bool               `json:"completed" bson:"completed"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" bson:"updated_at"`
}

// ProgressID builds the key of a trip instance: trip id plus the service date
// formatted as YYYYMMDD in the zone serviceDate carries.
func ProgressID(tripID primitive.ObjectID, serviceDate time.Time) string {
	return tripID.Hex() + "_" + serviceDate.Format("20060102")
}

// ProgressState is the lifecycle position of a trip instance.
type ProgressState int

const (
	StateNotStarted ProgressState = iota
	StateInProgress
	StateCompleted
)

func (s ProgressState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// State derives the lifecycle state from the stored flags.
func (p *TripProgress) State() ProgressState {
	switch {
	case p.Completed:
		return StateCompleted
	case p.IsStarted:
		return StateInProgress
	default:
		return StateNotStarted
	}
}

// Validate checks the structural invariants of a stored record. A violation
// means the record cannot be advanced safely.
func (p *TripProgress) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrCorruptProgress)
	}
	if p.NextStopIndex < 0 || p.NextStopIndex > len(p.Stops) {
		return fmt.Errorf("%w: %s next stop index %d outside [0,%d]", ErrCorruptProgress, p.ID, p.NextStopIndex, len(p.Stops))
	}
	if p.Completed && !p.EndStation.Arrived() {
		return fmt.Errorf("%w: %s completed without end station arrival", ErrCorruptProgress, p.ID)
	}
	if p.Completed && !p.IsStarted {
		return fmt.Errorf("%w: %s completed but never started", ErrCorruptProgress, p.ID)
	}
	for i := 0; i < p.NextStopIndex; i++ {
		if !p.Stops[i].Arrived() {
			return fmt.Errorf("%w: %s stop %d passed without arrival", ErrCorruptProgress, p.ID, i)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p *TripProgress) Clone() *TripProgress {
	out := *p
	out.StartStation = p.StartStation.clone()
	out.EndStation = p.EndStation.clone()
	out.Stops = make([]ProgressPoint, len(p.Stops))
	for i, s := range p.Stops {
		out.Stops[i] = s.clone()
	}
	return &out
}

func (p ProgressPoint) clone() ProgressPoint {
	if p.ArrivedTime != nil {
		t := *p.ArrivedTime
		p.ArrivedTime = &t
	}
	return p
}

// TransitionKind names a state-machine step.
type TransitionKind int

const (
	TransitionNone TransitionKind = iota
	TransitionStart
	TransitionStopArrival
	TransitionComplete
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionNone:
		return "none"
	case TransitionStart:
		return "trip_started"
	case TransitionStopArrival:
		return "stop_arrived"
	case TransitionComplete:
		return "trip_completed"
	default:
		return fmt.Sprintf("transition(%d)", int(k))
	}
}

// Transition is a single conditional change to a TripProgress. StopIndex is
// the cursor value the change was decided against: the stop being reached
// for TransitionStopArrival, len(stops) for TransitionComplete.
type Transition struct {
	Kind       TransitionKind
	StopIndex  int
	At         time.Time // arrival time written into the record
	RecordedAt time.Time // written into updated_at
}

// Apply performs t on p when p is still in the state t was decided against and
// returns ErrStaleProgress otherwise. It mirrors the conditional update
// issued against the database.
func (p *TripProgress) Apply(t Transition) error {
	if p.Completed {
		return ErrStaleProgress
	}
	at := t.At
	switch t.Kind {
	case TransitionStart:
		if p.IsStarted {
			return ErrStaleProgress
		}
		p.StartStation.ArrivedTime = &at
		p.IsStarted = true
	case TransitionStopArrival:
		i := t.StopIndex
		if !p.IsStarted || p.NextStopIndex != i || i >= len(p.Stops) || p.Stops[i].Arrived() {
			return ErrStaleProgress
		}
		p.Stops[i].ArrivedTime = &at
		p.NextStopIndex = i + 1
	case TransitionComplete:
		if !p.IsStarted || p.NextStopIndex != t.StopIndex || p.NextStopIndex != len(p.Stops) || p.EndStation.Arrived() {
			return ErrStaleProgress
		}
		p.EndStation.ArrivedTime = &at
		p.Completed = true
	default:
		return fmt.Errorf("cannot apply transition %s", t.Kind)
	}
	p.UpdatedAt = t.RecordedAt
	return nil
}

// Point returns the station or stop a transition recorded.
func (p *TripProgress) Point(t Transition) (ProgressPoint, bool) {
	switch t.Kind {
	case TransitionStart:
		return p.StartStation, true
	case TransitionStopArrival:
		if t.StopIndex >= 0 && t.StopIndex < len(p.Stops) {
			return p.Stops[t.StopIndex], true
		}
	case TransitionComplete:
		return p.EndStation, true
	}
	return ProgressPoint{}, false
}
