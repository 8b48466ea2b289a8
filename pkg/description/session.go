package description

import (
	"fmt"

	psdp "github.com/pion/sdp/v3"

	"github.com/bluenviron/rtspengine/pkg/base"
	"github.com/bluenviron/rtspengine/pkg/headers"
)

func hasMediaWithID(medias []*Media, id string) bool {
	for _, media := range medias {
		if media.ID == id {
			return true
		}
	}
	return false
}

// Session is the description of a RTSP stream.
type Session struct {
	// base URL of the stream (read only).
	BaseURL *base.URL

	// title of the stream (optional).
	Title string

	// range of the stream (optional).
	Range *headers.Range

	// available media streams.
	Medias []*Media
}

// IsLive returns whether the stream has no predefined end.
func (d *Session) IsLive() bool {
	return d.Range == nil || d.Range.IsOpenEnded()
}

// Unmarshal decodes the description from SDP.
func (d *Session) Unmarshal(ssd *psdp.SessionDescription) error {
	d.Title = string(ssd.SessionName)
	if d.Title == " " {
		d.Title = ""
	}

	d.Range = nil
	if v := getAttribute(ssd.Attributes, "range"); v != "" {
		var r headers.Range
		if err := r.Unmarshal(base.HeaderValue{v}); err == nil {
			d.Range = &r
		}
	}

	sessionKeyMgmt := getAttribute(ssd.Attributes, "key-mgmt")
	sessionFingerprint := getAttribute(ssd.Attributes, "fingerprint")

	d.Medias = make([]*Media, len(ssd.MediaDescriptions))

	for i, md := range ssd.MediaDescriptions {
		var m Media
		err := m.Unmarshal(md)
		if err != nil {
			return fmt.Errorf("media %d is invalid: %w", i+1, err)
		}

		if m.ID != "" && hasMediaWithID(d.Medias[:i], m.ID) {
			return fmt.Errorf("duplicate media IDs")
		}

		// session-level attributes apply to medias that don't override them
		if m.KeyMgmt == "" {
			m.KeyMgmt = sessionKeyMgmt
		}
		if m.Fingerprint == "" {
			m.Fingerprint = sessionFingerprint
		}

		d.Medias[i] = &m
	}

	return nil
}

// Parse decodes the description from raw SDP.
func (d *Session) Parse(byts []byte) error {
	var ssd psdp.SessionDescription
	err := ssd.Unmarshal(byts)
	if err != nil {
		return err
	}

	return d.Unmarshal(&ssd)
}

// Marshal encodes the description in SDP.
func (d Session) Marshal() ([]byte, error) {
	sessionName := psdp.SessionName(d.Title)
	if d.Title == "" {
		// RFC 4566: If a session has no meaningful name, the
		// value "s= " SHOULD be used
		sessionName = psdp.SessionName(" ")
	}

	sout := &psdp.SessionDescription{
		SessionName: sessionName,
		Origin: psdp.Origin{
			Username:       "-",
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: "0.0.0.0"},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: make([]*psdp.MediaDescription, len(d.Medias)),
	}

	if d.Range != nil {
		sout.Attributes = append(sout.Attributes, psdp.Attribute{
			Key:   "range",
			Value: d.Range.Marshal()[0],
		})
	}

	for i, media := range d.Medias {
		sout.MediaDescriptions[i] = media.Marshal()
	}

	return sout.Marshal()
}
