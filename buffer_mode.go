package rtspengine

import (
	"github.com/bluenviron/rtspengine/pkg/clocksync"
)

// BufferMode is the algorithm used to compute presentation timestamps.
type BufferMode = clocksync.BufferMode

// buffer modes.
const (
	BufferModeNone   = clocksync.BufferModeNone
	BufferModeSlave  = clocksync.BufferModeSlave
	BufferModeBuffer = clocksync.BufferModeBuffer
	BufferModeAuto   = clocksync.BufferModeAuto
	BufferModeSynced = clocksync.BufferModeSynced
)

// ParseBufferMode converts a name into a BufferMode.
func ParseBufferMode(s string) (BufferMode, error) {
	return clocksync.ParseBufferMode(s)
}

// BufferModeFromInt converts an integer into a BufferMode.
func BufferModeFromInt(v int) (BufferMode, error) {
	return clocksync.BufferModeFromInt(v)
}

// NTPTimeSource is the clock used by BufferModeSynced.
type NTPTimeSource = clocksync.NTPTimeSource

// NTP time sources.
const (
	NTPTimeSourceNTP         = clocksync.NTPTimeSourceNTP
	NTPTimeSourceUnix        = clocksync.NTPTimeSourceUnix
	NTPTimeSourceRunningTime = clocksync.NTPTimeSourceRunningTime
	NTPTimeSourceClockTime   = clocksync.NTPTimeSourceClockTime
)
