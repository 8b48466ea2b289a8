// Package ntp contains functions to encode and decode timestamps to/from NTP format.
package ntp

import (
	"time"
)

// seconds between 1900-01-01 and 1970-01-01.
const epochOffset = 2208988800

// Encode encodes a timestamp in NTP format.
// Specification: RFC3550, section 4
func Encode(t time.Time) uint64 {
	secs := uint64(t.Unix() + epochOffset)
	nanos := uint64(t.Nanosecond())
	frac := ((nanos << 32) + 500000000) / 1000000000
	return secs<<32 | frac
}

// Decode decodes a timestamp from NTP format.
// Specification: RFC3550, section 4
func Decode(v uint64) time.Time {
	secs := int64(v>>32) - epochOffset
	nanos := int64(((v&0xFFFFFFFF)*1000000000 + (1 << 31)) >> 32)
	return time.Unix(secs, nanos)
}

// Duration returns the time elapsed since the NTP epoch (1900-01-01).
func Duration(v uint64) time.Duration {
	secs := time.Duration(v>>32) * time.Second
	nanos := time.Duration(((v&0xFFFFFFFF)*1000000000 + (1 << 31)) >> 32)
	return secs + nanos
}

// Middle32 returns the middle 32 bits of a NTP timestamp,
// used in the LSR field of RTCP receiver reports.
func Middle32(v uint64) uint32 {
	return uint32(v >> 16)
}
