package clocksync

import (
	"fmt"
	"strconv"

	"github.com/bluenviron/rtspengine/pkg/liberrors"
)

// BufferMode is the algorithm used to compute presentation timestamps.
type BufferMode int

// buffer modes. Their integer values are part of the configuration contract.
const (
	// RTP timestamps are used verbatim.
	BufferModeNone BufferMode = iota

	// the receiver clock is slaved to the sender through RTCP sender reports.
	BufferModeSlave

	// packets are reordered in a queue delimited by watermarks.
	BufferModeBuffer

	// Buffer for live streams, Slave otherwise.
	BufferModeAuto

	// sender and receiver clocks are assumed to be synchronized.
	BufferModeSynced
)

// canonical table. The position of an entry is its integer value.
var bufferModeNames = [...]string{
	BufferModeNone:   "none",
	BufferModeSlave:  "slave",
	BufferModeBuffer: "buffer",
	BufferModeAuto:   "auto",
	BufferModeSynced: "synced",
}

// ParseBufferMode converts a name into a BufferMode.
func ParseBufferMode(s string) (BufferMode, error) {
	for i, name := range bufferModeNames {
		if name == s {
			return BufferMode(i), nil
		}
	}
	return 0, liberrors.ErrConfiguration{
		Field: "BufferMode",
		Err:   fmt.Errorf("invalid value '%s', expected one of %v", s, bufferModeNames),
	}
}

// BufferModeFromInt converts an integer into a BufferMode.
func BufferModeFromInt(v int) (BufferMode, error) {
	if v < 0 || v >= len(bufferModeNames) {
		return 0, liberrors.ErrConfiguration{
			Field: "BufferMode",
			Err:   fmt.Errorf("invalid value %d, expected between 0 and %d", v, len(bufferModeNames)-1),
		}
	}
	return BufferMode(v), nil
}

// Int returns the integer value of the mode.
func (m BufferMode) Int() int {
	return int(m)
}

// IsValid returns whether the mode is valid.
func (m BufferMode) IsValid() bool {
	return m >= 0 && int(m) < len(bufferModeNames)
}

// String implements fmt.Stringer.
func (m BufferMode) String() string {
	if !m.IsValid() {
		return "unknown"
	}
	return bufferModeNames[m]
}

// MarshalText implements encoding.TextMarshaler.
func (m BufferMode) MarshalText() ([]byte, error) {
	if !m.IsValid() {
		return nil, liberrors.ErrConfiguration{Field: "BufferMode", Err: fmt.Errorf("invalid value %d", int(m))}
	}
	return []byte(bufferModeNames[m]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// Both names and integer values are accepted.
func (m *BufferMode) UnmarshalText(b []byte) error {
	var v BufferMode
	var err error

	if i, err2 := strconv.Atoi(string(b)); err2 == nil {
		v, err = BufferModeFromInt(i)
	} else {
		v, err = ParseBufferMode(string(b))
	}
	if err != nil {
		return err
	}

	*m = v
	return nil
}

// NTPTimeSource is the clock used by the Synced mode to express
// the absolute time of samples.
type NTPTimeSource int

// NTP time sources.
const (
	// time elapsed since the NTP epoch.
	NTPTimeSourceNTP NTPTimeSource = iota

	// time elapsed since the Unix epoch.
	NTPTimeSourceUnix

	// time elapsed since the engine was initialized.
	NTPTimeSourceRunningTime

	// time elapsed since the base time of an external clock.
	NTPTimeSourceClockTime
)

var ntpTimeSourceNames = [...]string{
	NTPTimeSourceNTP:         "ntp",
	NTPTimeSourceUnix:        "unix",
	NTPTimeSourceRunningTime: "running-time",
	NTPTimeSourceClockTime:   "clock-time",
}

// ParseNTPTimeSource converts a name into a NTPTimeSource.
func ParseNTPTimeSource(s string) (NTPTimeSource, error) {
	for i, name := range ntpTimeSourceNames {
		if name == s {
			return NTPTimeSource(i), nil
		}
	}
	return 0, liberrors.ErrConfiguration{
		Field: "NTPTimeSource",
		Err:   fmt.Errorf("invalid value '%s', expected one of %v", s, ntpTimeSourceNames),
	}
}

// NTPTimeSourceFromInt converts an integer into a NTPTimeSource.
func NTPTimeSourceFromInt(v int) (NTPTimeSource, error) {
	if v < 0 || v >= len(ntpTimeSourceNames) {
		return 0, liberrors.ErrConfiguration{
			Field: "NTPTimeSource",
			Err:   fmt.Errorf("invalid value %d, expected between 0 and %d", v, len(ntpTimeSourceNames)-1),
		}
	}
	return NTPTimeSource(v), nil
}

// Int returns the integer value of the source.
func (s NTPTimeSource) Int() int {
	return int(s)
}

// IsValid returns whether the source is valid.
func (s NTPTimeSource) IsValid() bool {
	return s >= 0 && int(s) < len(ntpTimeSourceNames)
}

// String implements fmt.Stringer.
func (s NTPTimeSource) String() string {
	if !s.IsValid() {
		return "unknown"
	}
	return ntpTimeSourceNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s NTPTimeSource) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, liberrors.ErrConfiguration{Field: "NTPTimeSource", Err: fmt.Errorf("invalid value %d", int(s))}
	}
	return []byte(ntpTimeSourceNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// Both names and integer values are accepted.
func (s *NTPTimeSource) UnmarshalText(b []byte) error {
	var v NTPTimeSource
	var err error

	if i, err2 := strconv.Atoi(string(b)); err2 == nil {
		v, err = NTPTimeSourceFromInt(i)
	} else {
		v, err = ParseNTPTimeSource(string(b))
	}
	if err != nil {
		return err
	}

	*s = v
	return nil
}
