package description

import (
	"fmt"
	"strconv"
	"strings"
)

// static payload types, RFC3551.
var staticFormats = map[uint8]struct {
	codec     string
	clockRate int
	channels  int
}{
	0:  {"pcmu", 8000, 1},
	3:  {"gsm", 8000, 1},
	8:  {"pcma", 8000, 1},
	9:  {"g722", 8000, 1},
	10: {"l16", 44100, 2},
	11: {"l16", 44100, 1},
	14: {"mpa", 90000, 0},
	26: {"jpeg", 90000, 0},
	32: {"mpv", 90000, 0},
	33: {"mp2t", 90000, 0},
}

// Format is a RTP format of a media.
type Format struct {
	// payload type.
	PayloadType uint8

	// lowercase encoding name, from rtpmap or from the static table.
	Codec string

	// clock rate.
	ClockRate int

	// channel count (audio only, 0 when unknown).
	Channels int

	// format parameters (optional).
	FMTP map[string]string
}

func (f *Format) unmarshal(payloadType uint8, rtpMap string, fmtp string) error {
	f.PayloadType = payloadType
	f.FMTP = decodeFMTP(fmtp)

	if rtpMap == "" {
		st, ok := staticFormats[payloadType]
		if !ok {
			return fmt.Errorf("payload type %d is dynamic but rtpmap is missing", payloadType)
		}
		f.Codec, f.ClockRate, f.Channels = st.codec, st.clockRate, st.channels
		return nil
	}

	parts := strings.Split(rtpMap, "/")
	if len(parts) < 2 {
		return fmt.Errorf("invalid rtpmap (%v)", rtpMap)
	}

	f.Codec = strings.ToLower(parts[0])

	tmp, err := strconv.ParseUint(parts[1], 10, 31)
	if err != nil || tmp == 0 {
		return fmt.Errorf("invalid clock rate (%v)", parts[1])
	}
	f.ClockRate = int(tmp)

	if len(parts) >= 3 {
		tmp, err = strconv.ParseUint(parts[2], 10, 8)
		if err != nil {
			return fmt.Errorf("invalid channel count (%v)", parts[2])
		}
		f.Channels = int(tmp)
	}

	return nil
}

func (f Format) rtpMap() string {
	ret := strings.ToUpper(f.Codec) + "/" + strconv.FormatInt(int64(f.ClockRate), 10)
	if f.Channels > 1 {
		ret += "/" + strconv.FormatInt(int64(f.Channels), 10)
	}
	return ret
}

func (f Format) fmtp() string {
	if len(f.FMTP) == 0 {
		return ""
	}

	keys := sortedKeys(f.FMTP)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + f.FMTP[k]
	}
	return strings.Join(parts, "; ")
}
