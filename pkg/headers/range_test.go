package headers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rtspengine/pkg/base"
)

var casesRange = []struct {
	name string
	vin  base.HeaderValue
	vout base.HeaderValue
	h    Range
	open bool
}{
	{
		"npt closed",
		base.HeaderValue{`npt=0-120.5`},
		base.HeaderValue{`npt=0-120.5`},
		Range{
			NPT: &RangeNPT{
				Start: 0,
				End:   ptrOf(120500 * time.Millisecond),
			},
		},
		false,
	},
	{
		"npt open",
		base.HeaderValue{`npt=0.000-`},
		base.HeaderValue{`npt=0-`},
		Range{
			NPT: &RangeNPT{},
		},
		true,
	},
	{
		"npt now",
		base.HeaderValue{`npt=now-`},
		base.HeaderValue{`npt=now-`},
		Range{
			NPT: &RangeNPT{Now: true},
		},
		true,
	},
	{
		"npt hours",
		base.HeaderValue{`npt=1:02:03.5-`},
		base.HeaderValue{`npt=3723.5-`},
		Range{
			NPT: &RangeNPT{
				Start: time.Hour + 2*time.Minute + 3500*time.Millisecond,
			},
		},
		true,
	},
	{
		"clock",
		base.HeaderValue{`clock=19961108T142300Z-19961108T143520Z`},
		base.HeaderValue{`clock=19961108T142300Z-19961108T143520Z`},
		Range{
			UTC: &RangeUTC{
				Start: time.Date(1996, 11, 8, 14, 23, 0, 0, time.UTC),
				End:   ptrOf(time.Date(1996, 11, 8, 14, 35, 20, 0, time.UTC)),
			},
		},
		false,
	},
}

func TestRangeUnmarshal(t *testing.T) {
	for _, ca := range casesRange {
		t.Run(ca.name, func(t *testing.T) {
			var h Range
			err := h.Unmarshal(ca.vin)
			require.NoError(t, err)
			require.Equal(t, ca.h, h)
			require.Equal(t, ca.open, h.IsOpenEnded())
		})
	}
}

func TestRangeMarshal(t *testing.T) {
	for _, ca := range casesRange {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.vout, ca.h.Marshal())
		})
	}
}

func TestRangeUnmarshalErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		hv   base.HeaderValue
		err  string
	}{
		{
			"empty",
			base.HeaderValue{},
			"value not provided",
		},
		{
			"unsupported unit",
			base.HeaderValue{`smpte=10:07:00-10:07:33:05.01`},
			"value not found (smpte=10:07:00-10:07:33:05.01)",
		},
		{
			"invalid npt",
			base.HeaderValue{`npt=aa-`},
			"strconv.ParseFloat: parsing \"aa\": invalid syntax",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var h Range
			err := h.Unmarshal(ca.hv)
			require.EqualError(t, err, ca.err)
		})
	}
}
