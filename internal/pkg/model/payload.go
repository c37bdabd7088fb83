package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ClockPayloadSize is the exact length of a clock write.
const ClockPayloadSize = 5

var ErrTimestampRange = errors.New("clock timestamp out of range")

type ClockPayload struct {
	UnixTimestamp uint32
	TZOffsetHours int8
}

// NewClockPayload shifts now by offsetSeconds and pairs it with the whole hour
// timezone offset.
func NewClockPayload(now time.Time, offsetSeconds int64, tzHours int8) (ClockPayload, error) {
	ts := now.Unix() + offsetSeconds
	if ts < 0 || ts > math.MaxUint32 {
		return ClockPayload{}, fmt.Errorf("%w: %d", ErrTimestampRange, ts)
	}
	return ClockPayload{
		UnixTimestamp: uint32(ts),
		TZOffsetHours: tzHours,
	}, nil
}

// Bytes encodes the payload as uint32 LE seconds followed by the signed hour byte.
func (p ClockPayload) Bytes() []byte {
	buf := make([]byte, ClockPayloadSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.UnixTimestamp)
	buf[4] = byte(p.TZOffsetHours)
	return buf
}

func (p ClockPayload) Time() time.Time {
	return time.Unix(int64(p.UnixTimestamp), 0).UTC()
}
