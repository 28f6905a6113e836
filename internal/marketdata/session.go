package marketdata

import (
	"context"
	"fmt"
	"time"
)

// Session is a regular trading window expressed in a market's local time.
type Session struct {
	Location *time.Location
	Open     time.Duration // offset from local midnight
	Close    time.Duration
}

// ParseSession builds a Session from a time zone name and "HH:MM" bounds.
func ParseSession(timezone, open, close string) (Session, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Session{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	o, err := parseClock(open)
	if err != nil {
		return Session{}, err
	}
	c, err := parseClock(close)
	if err != nil {
		return Session{}, err
	}
	if c <= o {
		return Session{}, fmt.Errorf("session close %s must be after open %s", close, open)
	}
	return Session{Location: loc, Open: o, Close: c}, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM): %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Bounds returns the session's [open, close) instants on the given calendar day.
func (s Session) Bounds(day time.Time) (time.Time, time.Time) {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	return midnight.Add(s.Open), midnight.Add(s.Close)
}

// Filter keeps the bars of series stamped within the session on day.
func (s Session) Filter(series Series, day time.Time) Series {
	open, close := s.Bounds(day)
	return series.Between(open, close)
}

// SessionSource restricts asset minute bars to a regular session.
type SessionSource struct {
	Source
	Session Session
}

// MinuteBars fetches from the wrapped source and drops bars outside the session.
func (s *SessionSource) MinuteBars(ctx context.Context, day time.Time, asset string) (Series, error) {
	series, err := s.Source.MinuteBars(ctx, day, asset)
	if err != nil {
		return nil, err
	}
	filtered := s.Session.Filter(series, day)
	if len(filtered) == 0 {
		return nil, &FetchError{Op: "asset minute bars", Day: day, Asset: asset, Err: ErrNoData}
	}
	return filtered, nil
}
