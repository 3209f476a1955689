package models

import "time"

// ProgressEvent is published after a transition has been persisted.
type ProgressEvent struct {
	Type         string    `json:"type"`
	ProgressID   string    `json:"progressId"`
	TripID       string    `json:"tripId"`
	RouteID      string    `json:"routeId"`
	VehicleID    string    `json:"busId"`
	StopIndex    *int      `json:"stopIndex,omitempty"`
	ExpectedTime time.Time `json:"expectedTime"`
	ArrivedTime  time.Time `json:"arrivedTime"`
	DelaySeconds int64     `json:"delaySeconds"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewProgressEvent describes transition t applied to p.
func NewProgressEvent(p *TripProgress, t Transition) ProgressEvent {
	ev := ProgressEvent{
		Type:        t.Kind.String(),
		ProgressID:  p.ID,
		TripID:      p.TripID.Hex(),
		RouteID:     p.RouteID.Hex(),
		VehicleID:   p.VehicleID.Hex(),
		ArrivedTime: t.At,
		Timestamp:   t.RecordedAt,
	}
	if t.Kind == TransitionStopArrival {
		idx := t.StopIndex
		ev.StopIndex = &idx
	}
	if pt, ok := p.Point(t); ok {
		ev.ExpectedTime = pt.ExpectedTime
		ev.DelaySeconds = int64(t.At.Sub(pt.ExpectedTime) / time.Second)
	}
	return ev
}
