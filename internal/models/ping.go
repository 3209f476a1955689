package models

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Ping is one position report sent by a vehicle's tracking device.
type Ping struct {
	BusID       string     `json:"busId" validate:"required"`
	Latitude    *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude   *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	Heading     *float64   `json:"heading,omitempty" validate:"omitempty,gte=0,lte=360"`
	Speed       *float64   `json:"speed,omitempty" validate:"omitempty,gte=0"`
	LastUpdated *Timestamp `json:"lastUpdated,omitempty"`
}

var pingValidator = newPingValidator()

func newPingValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate rejects pings that miss the bus id or carry missing or
// out-of-range coordinates. The returned error wraps ErrInvalidPing.
func (p Ping) Validate() error {
	p.BusID = strings.TrimSpace(p.BusID)
	err := pingValidator.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidPing, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		default:
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidPing, strings.Join(msgs, "; "))
}

// Location returns the reported position. Only valid after Validate.
func (p Ping) Location() Location {
	return Location{Lat: *p.Latitude, Lon: *p.Longitude}
}

// Moving reports whether the ping indicates movement: a positive speed. A
// ping without speed is treated as stationary.
func (p Ping) Moving() bool {
	return p.Speed != nil && *p.Speed > 0
}

// ObservedAt is the device time of the ping, or receivedAt when the device
// sent none.
func (p Ping) ObservedAt(receivedAt time.Time) time.Time {
	if p.LastUpdated == nil || p.LastUpdated.IsZero() {
		return receivedAt
	}
	return p.LastUpdated.Time
}

// Timestamp accepts either an RFC 3339 string or epoch milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" || s == `""` {
		return nil
	}
	if s[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("lastUpdated: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, unq)
		if err != nil {
			return fmt.Errorf("lastUpdated: %w", err)
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("lastUpdated: %w", err)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}
