// Package description contains objects to describe streams.
package description

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	psdp "github.com/pion/sdp/v3"

	"github.com/bluenviron/rtspengine/pkg/base"
)

func getAttribute(attributes []psdp.Attribute, key string) string {
	for _, attr := range attributes {
		if attr.Key == key {
			return attr.Value
		}
	}
	return ""
}

func getAttributes(attributes []psdp.Attribute, key string) []string {
	var ret []string
	for _, attr := range attributes {
		if attr.Key == key {
			ret = append(ret, attr.Value)
		}
	}
	return ret
}

func hasAttribute(attributes []psdp.Attribute, key string) bool {
	for _, attr := range attributes {
		if attr.Key == key {
			return true
		}
	}
	return false
}

func getFormatAttribute(attributes []psdp.Attribute, payloadType uint8, key string) string {
	for _, attr := range attributes {
		if attr.Key == key {
			v := strings.TrimSpace(attr.Value)
			if pt, rest, ok := strings.Cut(v, " "); ok {
				if tmp, err := strconv.ParseUint(pt, 10, 8); err == nil && uint8(tmp) == payloadType {
					return rest
				}
			}
		}
	}
	return ""
}

func decodeFMTP(enc string) map[string]string {
	if enc == "" {
		return nil
	}

	ret := make(map[string]string)

	for _, kv := range strings.Split(enc, ";") {
		kv = strings.Trim(kv, " ")

		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}

		ret[strings.ToLower(k)] = v
	}

	return ret
}

func sortedKeys(fmtp map[string]string) []string {
	keys := make([]string, 0, len(fmtp))
	for key := range fmtp {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func isAlphaNumeric(v string) bool {
	for _, r := range v {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}

// MediaType is the type of a media stream.
type MediaType string

// media types.
const (
	MediaTypeVideo       MediaType = "video"
	MediaTypeAudio       MediaType = "audio"
	MediaTypeApplication MediaType = "application"
)

// Media is a media stream.
// It contains one or more formats.
type Media struct {
	// Media type.
	Type MediaType

	// Media ID (optional).
	ID string

	// Transport profile, i.e. RTP/AVP, RTP/SAVP or UDP/TLS/RTP/SAVPF.
	Profile string

	// Whether this media is a back channel.
	IsBackChannel bool

	// Control attribute.
	Control string

	// Values of the crypto attributes (optional).
	Crypto []string

	// Value of the key-mgmt attribute (optional).
	KeyMgmt string

	// Value of the fingerprint attribute (optional).
	Fingerprint string

	// Formats contained into the media.
	Formats []*Format
}

// Unmarshal decodes the media from the SDP format.
func (m *Media) Unmarshal(md *psdp.MediaDescription) error {
	m.Type = MediaType(md.MediaName.Media)

	m.ID = getAttribute(md.Attributes, "mid")
	if m.ID != "" && !isAlphaNumeric(m.ID) {
		return fmt.Errorf("invalid mid: %v", m.ID)
	}

	m.Profile = strings.Join(md.MediaName.Protos, "/")
	m.IsBackChannel = hasAttribute(md.Attributes, "sendonly")
	m.Control = getAttribute(md.Attributes, "control")
	m.Crypto = getAttributes(md.Attributes, "crypto")
	m.KeyMgmt = getAttribute(md.Attributes, "key-mgmt")
	m.Fingerprint = getAttribute(md.Attributes, "fingerprint")

	m.Formats = nil
	for _, payloadType := range md.MediaName.Formats {
		tmp, err := strconv.ParseUint(payloadType, 10, 7)
		if err != nil {
			return fmt.Errorf("invalid payload type (%v)", payloadType)
		}
		payloadTypeInt := uint8(tmp)

		f := &Format{}
		err = f.unmarshal(payloadTypeInt,
			getFormatAttribute(md.Attributes, payloadTypeInt, "rtpmap"),
			getFormatAttribute(md.Attributes, payloadTypeInt, "fmtp"))
		if err != nil {
			return err
		}

		m.Formats = append(m.Formats, f)
	}

	if m.Formats == nil {
		return fmt.Errorf("no formats found")
	}

	return nil
}

// Marshal encodes the media in SDP format.
func (m Media) Marshal() *psdp.MediaDescription {
	profile := m.Profile
	if profile == "" {
		profile = "RTP/AVP"
	}

	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:  string(m.Type),
			Protos: strings.Split(profile, "/"),
		},
	}

	if m.ID != "" {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "mid", Value: m.ID})
	}

	if m.IsBackChannel {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "sendonly"})
	}

	for _, c := range m.Crypto {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "crypto", Value: c})
	}

	if m.KeyMgmt != "" {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "key-mgmt", Value: m.KeyMgmt})
	}

	if m.Fingerprint != "" {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "fingerprint", Value: m.Fingerprint})
	}

	for _, f := range m.Formats {
		pt := strconv.FormatUint(uint64(f.PayloadType), 10)
		md.MediaName.Formats = append(md.MediaName.Formats, pt)

		if _, ok := staticFormats[f.PayloadType]; !ok || f.Codec != staticFormats[f.PayloadType].codec {
			md.Attributes = append(md.Attributes, psdp.Attribute{Key: "rtpmap", Value: pt + " " + f.rtpMap()})
		}

		if fmtp := f.fmtp(); fmtp != "" {
			md.Attributes = append(md.Attributes, psdp.Attribute{Key: "fmtp", Value: pt + " " + fmtp})
		}
	}

	md.Attributes = append(md.Attributes, psdp.Attribute{Key: "control", Value: m.Control})

	return md
}

// URL returns the absolute URL of the media.
func (m Media) URL(contentBase *base.URL) (*base.URL, error) {
	if contentBase == nil {
		return nil, fmt.Errorf("Content-Base header not provided")
	}

	return contentBase.Resolve(m.Control)
}

// ClockRate returns the clock rate of the first format.
func (m Media) ClockRate() int {
	return m.Formats[0].ClockRate
}

// IsH264 returns whether the first format is H264.
func (m Media) IsH264() bool {
	return m.Formats[0].Codec == "h264"
}
