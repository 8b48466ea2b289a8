// Package auth contains utilities to perform authentication against RTSP servers.
package auth

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/bluenviron/rtspengine/pkg/base"
	"github.com/bluenviron/rtspengine/pkg/headers"
)

func md5Hex(in string) string {
	h := md5.Sum([]byte(in))
	return hex.EncodeToString(h[:])
}

func sha256Hex(in string) string {
	h := sha256.Sum256([]byte(in))
	return hex.EncodeToString(h[:])
}

// Sender allows to send credentials.
// It requires a WWW-Authenticate header (provided by the server)
// and a set of credentials.
type Sender struct {
	WWWAuth base.HeaderValue
	User    string
	Pass    string

	authHeader *headers.Authenticate
}

// Initialize initializes a Sender.
// Digest is preferred over Basic, and SHA-256 over MD5.
func (se *Sender) Initialize() error {
	for _, v := range se.WWWAuth {
		var auth headers.Authenticate
		err := auth.Unmarshal(base.HeaderValue{v})
		if err != nil {
			continue // ignore unrecognized headers
		}

		if se.authHeader == nil || authScore(&auth) > authScore(se.authHeader) {
			se.authHeader = &auth
		}
	}

	if se.authHeader == nil {
		return fmt.Errorf("no authentication methods available")
	}

	return nil
}

func authScore(h *headers.Authenticate) int {
	switch {
	case h.Method == headers.AuthMethodBasic:
		return 0

	case h.Algorithm != nil && *h.Algorithm == headers.AuthAlgorithmSHA256:
		return 2

	default:
		return 1
	}
}

// Method returns the selected authentication method.
func (se *Sender) Method() headers.AuthMethod {
	return se.authHeader.Method
}

// AddAuthorization adds the Authorization header to a Request.
func (se *Sender) AddAuthorization(req *base.Request) {
	urStr := req.URL.CloneWithoutCredentials().String()

	h := headers.Authorization{
		Method:   se.authHeader.Method,
		Username: se.User,
	}

	if se.authHeader.Method == headers.AuthMethodBasic {
		h.BasicPass = se.Pass
	} else { // digest
		h.Realm = se.authHeader.Realm
		h.Nonce = se.authHeader.Nonce
		h.URI = urStr
		h.Opaque = se.authHeader.Opaque
		h.Algorithm = se.authHeader.Algorithm

		hash := md5Hex
		if se.authHeader.Algorithm != nil && *se.authHeader.Algorithm == headers.AuthAlgorithmSHA256 {
			hash = sha256Hex
		}

		h.Response = hash(hash(se.User+":"+se.authHeader.Realm+":"+se.Pass) + ":" +
			se.authHeader.Nonce + ":" + hash(string(req.Method)+":"+urStr))
	}

	if req.Header == nil {
		req.Header = make(base.Header)
	}

	req.Header["Authorization"] = h.Marshal()
}
