package headers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bluenviron/rtspengine/pkg/base"
)

const rangeUTCLayout = "20060102T150405Z"

func unmarshalRangeNPTTime(s string) (time.Duration, bool, error) {
	if s == "now" {
		return 0, true, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false, fmt.Errorf("invalid NPT time (%v)", s)
	}

	var hours, mins uint64

	if len(parts) == 3 {
		tmp, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return 0, false, err
		}
		hours = tmp
		parts = parts[1:]
	}

	if len(parts) == 2 {
		tmp, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return 0, false, err
		}
		mins = tmp
		parts = parts[1:]
	}

	seconds, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, false, err
	}

	return time.Duration(seconds*float64(time.Second)) +
		time.Duration(mins*60+hours*3600)*time.Second, false, nil
}

// RangeNPT is a range expressed in NPT units.
type RangeNPT struct {
	Start time.Duration
	End   *time.Duration

	// start is "now"
	Now bool
}

// RangeUTC is a range expressed in UTC units.
type RangeUTC struct {
	Start time.Time
	End   *time.Time
}

// Range is a Range header.
// Only one of NPT and UTC is filled.
type Range struct {
	NPT *RangeNPT
	UTC *RangeUTC
}

// Unmarshal decodes a Range header.
func (h *Range) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	kvs, err := keyValParse(v[0], ';')
	if err != nil {
		return err
	}

	for k, val := range kvs {
		start, end, ok := strings.Cut(val, "-")
		if !ok {
			continue
		}

		switch k {
		case "npt":
			r := &RangeNPT{}

			r.Start, r.Now, err = unmarshalRangeNPTTime(start)
			if err != nil {
				return err
			}

			if end != "" {
				d, _, err := unmarshalRangeNPTTime(end)
				if err != nil {
					return err
				}
				r.End = &d
			}

			h.NPT = r

		case "clock":
			r := &RangeUTC{}

			r.Start, err = time.Parse(rangeUTCLayout, start)
			if err != nil {
				return err
			}

			if end != "" {
				t, err := time.Parse(rangeUTCLayout, end)
				if err != nil {
					return err
				}
				r.End = &t
			}

			h.UTC = r
		}
	}

	if h.NPT == nil && h.UTC == nil {
		return fmt.Errorf("value not found (%v)", v[0])
	}

	return nil
}

// Marshal encodes a Range header.
func (h Range) Marshal() base.HeaderValue {
	if h.UTC != nil {
		ret := "clock=" + h.UTC.Start.Format(rangeUTCLayout) + "-"
		if h.UTC.End != nil {
			ret += h.UTC.End.Format(rangeUTCLayout)
		}
		return base.HeaderValue{ret}
	}

	ret := "npt="
	if h.NPT.Now {
		ret += "now"
	} else {
		ret += strconv.FormatFloat(h.NPT.Start.Seconds(), 'f', -1, 64)
	}
	ret += "-"
	if h.NPT.End != nil {
		ret += strconv.FormatFloat(h.NPT.End.Seconds(), 'f', -1, 64)
	}
	return base.HeaderValue{ret}
}

// IsOpenEnded returns whether the range has no end,
// which is the case of live streams.
func (h Range) IsOpenEnded() bool {
	if h.UTC != nil {
		return h.UTC.End == nil
	}
	return h.NPT.Now || h.NPT.End == nil
}
