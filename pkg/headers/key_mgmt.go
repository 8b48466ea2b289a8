package headers

import (
	"encoding/base64"
	"fmt"

	"github.com/bluenviron/rtspengine/pkg/base"
	"github.com/bluenviron/rtspengine/pkg/mikey"
)

// KeyMgmt is a KeyMgmt header.
type KeyMgmt struct {
	URL          string
	MikeyMessage *mikey.Message
}

// Unmarshal decodes a KeyMgmt header.
func (h *KeyMgmt) Unmarshal(v base.HeaderValue) error {
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

	if prot, ok := kvs["prot"]; !ok {
		return fmt.Errorf("protocol not provided")
	} else if prot != "mikey" {
		return fmt.Errorf("unsupported protocol: %v", prot)
	}

	h.URL = kvs["uri"]

	data, ok := kvs["data"]
	if !ok {
		return fmt.Errorf("mikey message not provided")
	}

	byts, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}

	h.MikeyMessage = &mikey.Message{}
	err = h.MikeyMessage.Unmarshal(byts)
	if err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}

	return nil
}

// Marshal encodes a KeyMgmt header.
func (h KeyMgmt) Marshal() (base.HeaderValue, error) {
	buf, err := h.MikeyMessage.Marshal()
	if err != nil {
		return nil, err
	}

	ret := "prot=mikey"
	if h.URL != "" {
		ret += `;uri="` + h.URL + `"`
	}
	ret += `;data="` + base64.StdEncoding.EncodeToString(buf) + `"`

	return base.HeaderValue{ret}, nil
}
