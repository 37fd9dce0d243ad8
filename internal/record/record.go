// Package record defines the persisted focus record and its fixed-width
// on-disk encoding.
//
// A record is eight bytes, little-endian:
//
//	0..1  app id          u16
//	2..3  duration secs   u16
//	4..7  focus_at secs   u32
//
// Timestamps are milliseconds since the Unix epoch in memory and seconds on
// disk, so decoding drops sub-second precision.
package record

import (
	"encoding/binary"
	"fmt"
)

// Encoding constants
const (
	// Size is the width of one encoded record in bytes.
	Size = 8

	// DurationMax is the longest duration, in seconds, a single record can carry.
	DurationMax = 65535

	// AppIDMax is the largest app id the encoding can carry.
	AppIDMax = 65535

	MillisPerSecond = 1000
	MillisPerDay    = 86_400_000

	// MinSpanMillis is the shortest span worth persisting.
	MinSpanMillis = 1000
)

// AppID is the dense identifier the registry assigns to an application path.
type AppID uint32

// FocusRecord is one contiguous interval during which an application held
// focus. FocusAt and BlurAt are milliseconds since the Unix epoch.
type FocusRecord struct {
	AppID   AppID `json:"app_id" yaml:"app_id"`
	FocusAt int64 `json:"focus_at" yaml:"focus_at"`
	BlurAt  int64 `json:"blur_at" yaml:"blur_at"`
}

// Duration returns BlurAt - FocusAt in milliseconds.
func (r FocusRecord) Duration() int64 {
	return r.BlurAt - r.FocusAt
}

func (r FocusRecord) String() string {
	return fmt.Sprintf("app=%d [%d, %d)", r.AppID, r.FocusAt, r.BlurAt)
}

// Encode packs r into its wire form. Values out of range for the encoding
// are truncated; Split produces records that are always in range.
func Encode(r FocusRecord) [Size]byte {
	var buf [Size]byte
	binary.LittleEndian.PutUint16(buf[0:2], uint16(r.AppID))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(r.Duration()/MillisPerSecond))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.FocusAt/MillisPerSecond))
	return buf
}

// Decode unpacks the first Size bytes of b. It reports false when b is
// shorter than one record.
func Decode(b []byte) (FocusRecord, bool) {
	if len(b) < Size {
		return FocusRecord{}, false
	}
	focusAt := int64(binary.LittleEndian.Uint32(b[4:8])) * MillisPerSecond
	duration := int64(binary.LittleEndian.Uint16(b[2:4])) * MillisPerSecond
	return FocusRecord{
		AppID:   AppID(binary.LittleEndian.Uint16(b[0:2])),
		FocusAt: focusAt,
		BlurAt:  focusAt + duration,
	}, true
}

// IsZero reports whether the first Size bytes of b are all zero, which is
// indistinguishable from an unwritten slot.
func IsZero(b []byte) bool {
	if len(b) < Size {
		return false
	}
	for _, c := range b[:Size] {
		if c != 0 {
			return false
		}
	}
	return true
}

// Day returns the UTC day number containing ms.
func Day(ms int64) uint64 {
	if ms < 0 {
		return 0
	}
	return uint64(ms / MillisPerDay)
}

// StartOfDay returns the first millisecond of day.
func StartOfDay(day uint64) int64 {
	return int64(day) * MillisPerDay
}

// StartOfNextDay returns the first millisecond of the day after the one
// containing ms.
func StartOfNextDay(ms int64) int64 {
	return StartOfDay(Day(ms) + 1)
}
