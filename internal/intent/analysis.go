package intent

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoObject       = errors.New("no JSON object in response")
	ErrUnknownAction  = errors.New("unknown action")
	ErrMissingReply   = errors.New("reply is required")
	ErrMissingMachine = errors.New("QUOTE requires a machine")
	ErrMissingDates   = errors.New("QUOTE requires rental_start and rental_end")
	ErrInvalidDate    = errors.New("dates must be YYYY-MM-DD")
	ErrDateOrder      = errors.New("rental_start is after rental_end")
)

// Analysis is the validated, structured judgment about one turn.
// For ActionQuote, MachineName, RentalStart and RentalEnd are always set and
// RentalStart is not after RentalEnd.
type Analysis struct {
	Action       Action
	MachineName  string
	DurationText string
	RentalStart  time.Time
	RentalEnd    time.Time
}

// HasDates reports whether both rental dates were resolved.
func (a Analysis) HasDates() bool {
	return !a.RentalStart.IsZero() && !a.RentalEnd.IsZero()
}

// payload is the object the policy asks the model to emit.
type payload struct {
	Action       string  `json:"action"`
	Machine      *string `json:"machine"`
	DurationText *string `json:"duration_text"`
	RentalStart  *string `json:"rental_start"`
	RentalEnd    *string `json:"rental_end"`
	Reply        string  `json:"reply"`
}

func (p payload) validate() (Analysis, string, error) {
	action, err := ParseAction(p.Action)
	if err != nil {
		return Analysis{}, "", err
	}
	reply := strings.TrimSpace(p.Reply)
	if reply == "" && action != ActionError {
		return Analysis{}, "", fmt.Errorf("%w for %s", ErrMissingReply, action)
	}

	a := Analysis{
		Action:       action,
		MachineName:  deref(p.Machine),
		DurationText: deref(p.DurationText),
	}
	start, startErr := parseDate(p.RentalStart)
	end, endErr := parseDate(p.RentalEnd)

	if action != ActionQuote {
		// Dates are informational outside QUOTE; keep them only when well formed.
		if startErr == nil && endErr == nil && (start.IsZero() || end.IsZero() || !start.After(end)) {
			a.RentalStart, a.RentalEnd = start, end
		}
		return a, reply, nil
	}

	if a.MachineName == "" {
		return Analysis{}, "", ErrMissingMachine
	}
	if startErr != nil {
		return Analysis{}, "", fmt.Errorf("rental_start: %w", startErr)
	}
	if endErr != nil {
		return Analysis{}, "", fmt.Errorf("rental_end: %w", endErr)
	}
	if start.IsZero() || end.IsZero() {
		return Analysis{}, "", ErrMissingDates
	}
	if start.After(end) {
		return Analysis{}, "", fmt.Errorf("%w: %s > %s", ErrDateOrder, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	a.RentalStart, a.RentalEnd = start, end
	return a, reply, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// parseDate returns the zero time for an absent or blank value.
func parseDate(s *string) (time.Time, error) {
	v := deref(s)
	if v == "" || strings.EqualFold(v, "null") {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, v)
	}
	return t, nil
}
