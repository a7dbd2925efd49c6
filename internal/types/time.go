package types

import (
	"fmt"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/codec"
)

// Time is a (year, month, day, hour, minute, second) timestamp. The all-zero
// value is the "now" sentinel and sorts greater than any real time — it
// stands for "as of whenever this is evaluated," which must never be
// mistaken for the epoch.
type Time struct {
	Year   uint16
	Month  uint8
	Day    uint8
	Hour   uint8
	Minute uint8
	Second uint8
}

// IsNow reports whether t is the all-zero "now" sentinel.
func (t Time) IsNow() bool {
	return t == Time{}
}

// Validate checks the fields are in range, unless t is the "now" sentinel.
func (t Time) Validate() error {
	if t.IsNow() {
		return nil
	}
	switch {
	case t.Month < 1 || t.Month > 12:
		return fmt.Errorf("time: month %d out of range", t.Month)
	case t.Day < 1 || t.Day > 31:
		return fmt.Errorf("time: day %d out of range", t.Day)
	case t.Hour > 23:
		return fmt.Errorf("time: hour %d out of range", t.Hour)
	case t.Minute > 59:
		return fmt.Errorf("time: minute %d out of range", t.Minute)
	case t.Second > 59:
		return fmt.Errorf("time: second %d out of range", t.Second)
	}
	return nil
}

// Compare defines Time's total order. The "now" sentinel sorts after every
// real time.
func (t Time) Compare(o Time) int {
	if t.IsNow() && o.IsNow() {
		return 0
	}
	if t.IsNow() {
		return 1
	}
	if o.IsNow() {
		return -1
	}
	for _, pair := range [][2]uint64{
		{uint64(t.Year), uint64(o.Year)},
		{uint64(t.Month), uint64(o.Month)},
		{uint64(t.Day), uint64(o.Day)},
		{uint64(t.Hour), uint64(o.Hour)},
		{uint64(t.Minute), uint64(o.Minute)},
		{uint64(t.Second), uint64(o.Second)},
	} {
		if pair[0] != pair[1] {
			if pair[0] < pair[1] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// SQLText renders the time in the 'YYYY-MM-DD HH:MM:SS' form the iseg index
// schema stores reftime columns as. The "now" sentinel renders as the
// maximum representable timestamp so it still sorts last in SQLite's textual
// comparison.
func (t Time) SQLText() string {
	if t.IsNow() {
		return "9999-12-31 23:59:59"
	}
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second)
}

func appendTime(dst []byte, t Time) []byte {
	var packed uint64
	packed |= uint64(t.Year) << 40
	packed |= uint64(t.Month) << 32
	packed |= uint64(t.Day) << 24
	packed |= uint64(t.Hour) << 16
	packed |= uint64(t.Minute) << 8
	packed |= uint64(t.Second)
	return codec.AppendUint64(dst, packed)
}

func consumeTime(buf []byte) (Time, []byte, error) {
	packed, rest, err := codec.ConsumeUint64(buf)
	if err != nil {
		return Time{}, nil, err
	}
	t := Time{
		Year:   uint16(packed >> 40),
		Month:  uint8(packed >> 32),
		Day:    uint8(packed >> 24),
		Hour:   uint8(packed >> 16),
		Minute: uint8(packed >> 8),
		Second: uint8(packed),
	}
	return t, rest, nil
}
