package description

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rtspengine/pkg/base"
	"github.com/bluenviron/rtspengine/pkg/headers"
)

func TestSessionParse(t *testing.T) {
	for _, ca := range []struct {
		name string
		sdp  string
		desc Session
	}{
		{
			"onvif camera with back channel",
			"v=0\r\n" +
				"o=- 0 0 IN IP4 192.168.1.10\r\n" +
				"s=Media Presentation\r\n" +
				"t=0 0\r\n" +
				"a=range:npt=now-\r\n" +
				"m=video 0 RTP/AVP 96\r\n" +
				"a=control:trackID=0\r\n" +
				"a=rtpmap:96 H264/90000\r\n" +
				"a=fmtp:96 packetization-mode=1;profile-level-id=64001F\r\n" +
				"m=audio 0 RTP/AVP 0\r\n" +
				"a=control:trackID=1\r\n" +
				"a=sendonly\r\n",
			Session{
				Title: "Media Presentation",
				Range: &headers.Range{NPT: &headers.RangeNPT{Now: true}},
				Medias: []*Media{
					{
						Type:    MediaTypeVideo,
						Profile: "RTP/AVP",
						Control: "trackID=0",
						Formats: []*Format{{
							PayloadType: 96,
							Codec:       "h264",
							ClockRate:   90000,
							FMTP: map[string]string{
								"packetization-mode": "1",
								"profile-level-id":   "64001F",
							},
						}},
					},
					{
						Type:          MediaTypeAudio,
						Profile:       "RTP/AVP",
						IsBackChannel: true,
						Control:       "trackID=1",
						Formats: []*Format{{
							PayloadType: 0,
							Codec:       "pcmu",
							ClockRate:   8000,
							Channels:    1,
						}},
					},
				},
			},
		},
		{
			"secure with crypto and session key-mgmt",
			"v=0\r\n" +
				"o=- 0 0 IN IP4 127.0.0.1\r\n" +
				"s= \r\n" +
				"t=0 0\r\n" +
				"a=key-mgmt:mikey AQAFgM0XAAAAAAA=\r\n" +
				"a=range:npt=0-30\r\n" +
				"m=video 0 RTP/SAVP 96\r\n" +
				"a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:WVNfX19zZW1jdGwgKCkgewkyMjA7fQp9CnVubGVz\r\n" +
				"a=rtpmap:96 H264/90000\r\n" +
				"a=control:rtsp://127.0.0.1/stream/video\r\n" +
				"m=audio 0 RTP/SAVP 97\r\n" +
				"a=rtpmap:97 opus/48000/2\r\n" +
				"a=control:audio\r\n",
			Session{
				Range: &headers.Range{NPT: &headers.RangeNPT{End: ptrOf(30 * time.Second)}},
				Medias: []*Media{
					{
						Type:    MediaTypeVideo,
						Profile: "RTP/SAVP",
						Control: "rtsp://127.0.0.1/stream/video",
						Crypto:  []string{"1 AES_CM_128_HMAC_SHA1_80 inline:WVNfX19zZW1jdGwgKCkgewkyMjA7fQp9CnVubGVz"},
						KeyMgmt: "mikey AQAFgM0XAAAAAAA=",
						Formats: []*Format{{
							PayloadType: 96,
							Codec:       "h264",
							ClockRate:   90000,
						}},
					},
					{
						Type:    MediaTypeAudio,
						Profile: "RTP/SAVP",
						Control: "audio",
						KeyMgmt: "mikey AQAFgM0XAAAAAAA=",
						Formats: []*Format{{
							PayloadType: 97,
							Codec:       "opus",
							ClockRate:   48000,
							Channels:    2,
						}},
					},
				},
			},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var desc Session
			err := desc.Parse([]byte(ca.sdp))
			require.NoError(t, err)
			require.Equal(t, ca.desc, desc)
		})
	}
}

func TestSessionIsLive(t *testing.T) {
	require.True(t, (&Session{}).IsLive())
	require.True(t, (&Session{Range: &headers.Range{NPT: &headers.RangeNPT{}}}).IsLive())
	require.False(t, (&Session{Range: &headers.Range{
		NPT: &headers.RangeNPT{End: ptrOf(time.Second)},
	}}).IsLive())
}

func TestSessionMarshalRoundTrip(t *testing.T) {
	desc := Session{
		Title: "test",
		Medias: []*Media{
			{
				Type:    MediaTypeVideo,
				Profile: "RTP/SAVP",
				Control: "trackID=0",
				Crypto:  []string{"1 AES_CM_128_HMAC_SHA1_80 inline:WVNfX19zZW1jdGwgKCkgewkyMjA7fQp9CnVubGVz"},
				Formats: []*Format{{
					PayloadType: 96,
					Codec:       "h264",
					ClockRate:   90000,
					FMTP:        map[string]string{"packetization-mode": "1"},
				}},
			},
		},
	}

	byts, err := desc.Marshal()
	require.NoError(t, err)

	var dec Session
	err = dec.Parse(byts)
	require.NoError(t, err)
	require.Equal(t, desc, dec)
}

func TestMediaURL(t *testing.T) {
	m := &Media{Control: "trackID=1"}

	u, err := m.URL(base.MustParseURL("rtsp://localhost:8554/stream/"))
	require.NoError(t, err)
	require.Equal(t, "rtsp://localhost:8554/stream/trackID=1", u.String())

	_, err = m.URL(nil)
	require.EqualError(t, err, "Content-Base header not provided")
}

func TestSessionParseErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		sdp  string
		err  string
	}{
		{
			"missing rtpmap",
			"v=0\r\n" +
				"o=- 0 0 IN IP4 127.0.0.1\r\n" +
				"s= \r\n" +
				"t=0 0\r\n" +
				"m=video 0 RTP/AVP 96\r\n",
			"media 1 is invalid: payload type 96 is dynamic but rtpmap is missing",
		},
		{
			"invalid clock rate",
			"v=0\r\n" +
				"o=- 0 0 IN IP4 127.0.0.1\r\n" +
				"s= \r\n" +
				"t=0 0\r\n" +
				"m=video 0 RTP/AVP 96\r\n" +
				"a=rtpmap:96 H264/aa\r\n",
			"media 1 is invalid: invalid clock rate (aa)",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var desc Session
			err := desc.Parse([]byte(ca.sdp))
			require.EqualError(t, err, ca.err)
		})
	}
}

func ptrOf[T any](v T) *T {
	return &v
}
