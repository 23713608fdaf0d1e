// Package cursor encodes feed pagination positions as opaque tokens.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCursor is returned for any token that does not decode to a well-formed cursor.
// Callers must reject the request; a bad token never falls back to the start of the feed.
var ErrInvalidCursor = errors.New("invalid cursor")

type Direction string

const (
	// Forward continues after the cursor position (startingAfter).
	Forward Direction = "fwd"
	// Backward continues before the cursor position (endingBefore).
	Backward Direction = "bwd"
)

// Cursor is a position in a group's scheduled feed ordered by (TimeKey, HangoutId).
type Cursor struct {
	TimeKey   time.Time
	HangoutId string
	Direction Direction
}

// token is the wire shape. New fields must be optional so older tokens keep decoding.
type token struct {
	TimeKeyMillis *int64    `json:"t"`
	HangoutId     string    `json:"id"`
	Direction     Direction `json:"d"`
}

func New(timeKey time.Time, hangoutId string, direction Direction) Cursor {
	return Cursor{
		TimeKey:   timeKey.UTC().Truncate(time.Millisecond),
		HangoutId: hangoutId,
		Direction: direction,
	}
}

// Encode turns c into an opaque URL-safe token.
func Encode(c Cursor) (string, error) {
	if err := validate(c); err != nil {
		return "", err
	}
	millis := c.TimeKey.UnixMilli()
	data, err := json.Marshal(token{
		TimeKeyMillis: &millis,
		HangoutId:     c.HangoutId,
		Direction:     c.Direction,
	})
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a token produced by Encode.
func Decode(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, fmt.Errorf("%w: empty token", ErrInvalidCursor)
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: decode base64: %v", ErrInvalidCursor, err)
	}
	var t token
	if err := json.Unmarshal(data, &t); err != nil {
		return Cursor{}, fmt.Errorf("%w: unmarshal: %v", ErrInvalidCursor, err)
	}
	if t.TimeKeyMillis == nil {
		return Cursor{}, fmt.Errorf("%w: missing time key", ErrInvalidCursor)
	}
	c := Cursor{
		TimeKey:   time.UnixMilli(*t.TimeKeyMillis).UTC(),
		HangoutId: t.HangoutId,
		Direction: t.Direction,
	}
	if err := validate(c); err != nil {
		return Cursor{}, err
	}
	return c, nil
}

func validate(c Cursor) error {
	if c.Direction != Forward && c.Direction != Backward {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidCursor, c.Direction)
	}
	if c.HangoutId == "" {
		return fmt.Errorf("%w: missing hangout id", ErrInvalidCursor)
	}
	return nil
}

// After reports whether the position (timeKey, hangoutId) sorts strictly after c.
func (c Cursor) After(timeKey time.Time, hangoutId string) bool {
	if !timeKey.Equal(c.TimeKey) {
		return timeKey.After(c.TimeKey)
	}
	return hangoutId > c.HangoutId
}

// Before reports whether the position (timeKey, hangoutId) sorts strictly before c.
func (c Cursor) Before(timeKey time.Time, hangoutId string) bool {
	if !timeKey.Equal(c.TimeKey) {
		return timeKey.Before(c.TimeKey)
	}
	return hangoutId < c.HangoutId
}
