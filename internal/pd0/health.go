package pd0

import (
	"errors"
	"fmt"
)

// Condition classifies how a decode pass ended.
type Condition int

const (
	Healthy Condition = iota
	EndOfStream
	Corrupted
	WrongFormat
	DataTypeUnavailable
	UnknownIO
)

func (c Condition) String() string {
	switch c {
	case Healthy:
		return "healthy"
	case EndOfStream:
		return "end-of-stream"
	case Corrupted:
		return "corrupted"
	case WrongFormat:
		return "wrong-format"
	case DataTypeUnavailable:
		return "data-type-unavailable"
	case UnknownIO:
		return "unknown-io"
	default:
		return fmt.Sprintf("condition(%d)", int(c))
	}
}

// MarshalText renders the condition by name in JSON output.
func (c Condition) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Condition) UnmarshalText(b []byte) error {
	for cond := Healthy; cond <= UnknownIO; cond++ {
		if cond.String() == string(b) {
			*c = cond
			return nil
		}
	}
	return fmt.Errorf("unknown health condition %q", b)
}

var (
	ErrWrongFormat         = errors.New("stream does not start with a 0x7F7F ensemble header")
	ErrCorrupted           = errors.New("ensemble stream corrupted")
	ErrDataTypeUnavailable = errors.New("requested data type not present in ensemble")
	ErrUnknownIO           = errors.New("unexpected read failure")
)

// Health is attached to every decode result. Ensembles is the number of
// ensembles successfully decoded before the condition arose; the other
// fields are only meaningful for the conditions that set them.
type Health struct {
	Condition Condition `json:"condition"`
	Ensembles int       `json:"ensembles"`
	At        int       `json:"at,omitempty"`
	Available int       `json:"available,omitempty"`
	Requested int       `json:"requested,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Cause     error     `json:"-"`
}

func healthy(n int) Health {
	return Health{Condition: Healthy, Ensembles: n}
}

func endOfStream(n int) Health {
	return Health{Condition: EndOfStream, Ensembles: n}
}

func corruptedAt(i int, reason string) Health {
	return Health{Condition: Corrupted, Ensembles: i, At: i, Reason: reason}
}

func unavailableAt(i, available, requested int) Health {
	return Health{
		Condition: DataTypeUnavailable,
		Ensembles: i,
		At:        i,
		Available: available,
		Requested: requested,
	}
}

func unknownIO(i int, err error) Health {
	h := Health{Condition: UnknownIO, Ensembles: i, At: i, Cause: err}
	if err != nil {
		h.Reason = err.Error()
	}
	return h
}

// OK reports whether the whole stream was consumed without a fault.
func (h Health) OK() bool {
	return h.Condition == Healthy || h.Condition == EndOfStream
}

// Fatal reports whether no usable prefix exists: the input is not this
// format, or the very first ensemble lacks the requested data type.
func (h Health) Fatal() bool {
	switch h.Condition {
	case WrongFormat:
		return true
	case DataTypeUnavailable:
		return h.At == 0
	default:
		return false
	}
}

// Code maps the condition onto the numeric codes used by the legacy
// processing scripts.
func (h Health) Code() int {
	switch h.Condition {
	case Healthy, EndOfStream:
		return 0
	case WrongFormat:
		return 5
	case DataTypeUnavailable:
		return 6
	case Corrupted:
		return 8
	default:
		return 99
	}
}

// Err converts a non-OK health into an error wrapping one of the package
// sentinels. It returns nil for Healthy and EndOfStream.
func (h Health) Err() error {
	switch h.Condition {
	case Healthy, EndOfStream:
		return nil
	case WrongFormat:
		return ErrWrongFormat
	case Corrupted:
		if h.Reason != "" {
			return fmt.Errorf("%w at ensemble %d: %s", ErrCorrupted, h.At, h.Reason)
		}
		return fmt.Errorf("%w at ensemble %d", ErrCorrupted, h.At)
	case DataTypeUnavailable:
		return fmt.Errorf("%w: ensemble %d has %d data types, need %d", ErrDataTypeUnavailable, h.At, h.Available, h.Requested)
	default:
		if h.Cause != nil {
			return fmt.Errorf("%w at ensemble %d: %w", ErrUnknownIO, h.At, h.Cause)
		}
		return fmt.Errorf("%w at ensemble %d", ErrUnknownIO, h.At)
	}
}

func (h Health) String() string {
	switch h.Condition {
	case Healthy, EndOfStream, WrongFormat:
		return fmt.Sprintf("%s (%d ensembles)", h.Condition, h.Ensembles)
	case DataTypeUnavailable:
		return fmt.Sprintf("%s at %d (available %d, requested %d)", h.Condition, h.At, h.Available, h.Requested)
	default:
		if h.Reason != "" {
			return fmt.Sprintf("%s at %d: %s", h.Condition, h.At, h.Reason)
		}
		return fmt.Sprintf("%s at %d", h.Condition, h.At)
	}
}
