package security

import (
	"fmt"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/srtp/v3"
)

// ErrSecurityNoKey is returned when a packet of a secure media
// has to be decrypted or encrypted but no key is available.
type ErrSecurityNoKey struct {
	MediaIndex int
}

// Error implements the error interface.
func (e ErrSecurityNoKey) Error() string {
	return fmt.Sprintf("no SRTP key available for media %d", e.MediaIndex)
}

// Context is a pair of SRTP contexts, one for incoming packets
// and one for outgoing packets, protected by a mutex.
type Context struct {
	Remote *KeyMaterial
	Local  *KeyMaterial

	mutex sync.Mutex
	in    *srtp.Context
	out   *srtp.Context
}

func newSRTPContext(km *KeyMaterial) (*srtp.Context, error) {
	err := km.Validate()
	if err != nil {
		return nil, err
	}

	c, err := srtp.CreateContext(km.Key, km.Salt, suites[km.Suite].profile)
	if err != nil {
		return nil, err
	}

	for i, ssrc := range km.SSRCs {
		c.SetROC(ssrc, km.ROCs[i])
	}

	return c, nil
}

// NewContext allocates a Context.
// When local is nil, outgoing packets are encrypted with the remote key.
func NewContext(remote *KeyMaterial, local *KeyMaterial) (*Context, error) {
	if local == nil {
		local = remote
	}

	in, err := newSRTPContext(remote)
	if err != nil {
		return nil, err
	}

	out, err := newSRTPContext(local)
	if err != nil {
		return nil, err
	}

	return &Context{
		Remote: remote,
		Local:  local,
		in:     in,
		out:    out,
	}, nil
}

// DecryptRTP decrypts a SRTP packet.
func (c *Context) DecryptRTP(dst []byte, encrypted []byte, header *rtp.Header) ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.in.DecryptRTP(dst, encrypted, header)
}

// DecryptRTCP decrypts a SRTCP packet.
func (c *Context) DecryptRTCP(dst []byte, encrypted []byte, header *rtcp.Header) ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.in.DecryptRTCP(dst, encrypted, header)
}

// EncryptRTP encrypts a RTP packet.
func (c *Context) EncryptRTP(dst []byte, plaintext []byte, header *rtp.Header) ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.out.EncryptRTP(dst, plaintext, header)
}

// EncryptRTCP encrypts a RTCP packet.
func (c *Context) EncryptRTCP(dst []byte, decrypted []byte, header *rtcp.Header) ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.out.EncryptRTCP(dst, decrypted, header)
}

// LocalROC returns the rollover counter of an outgoing SSRC.
func (c *Context) LocalROC(ssrc uint32) uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	v, _ := c.out.ROC(ssrc)
	return v
}

// KeyStore contains the SRTP contexts of all medias of a session.
// Keys can be added, replaced and removed while the session is running.
type KeyStore struct {
	mutex    sync.RWMutex
	contexts map[int]*Context
}

// SetKey sets or replaces the keys of a media.
// When local is nil, the remote key is used for outgoing packets too.
func (ks *KeyStore) SetKey(mediaIndex int, remote *KeyMaterial, local *KeyMaterial) error {
	c, err := NewContext(remote, local)
	if err != nil {
		return err
	}

	ks.mutex.Lock()
	defer ks.mutex.Unlock()

	if ks.contexts == nil {
		ks.contexts = make(map[int]*Context)
	}
	ks.contexts[mediaIndex] = c

	return nil
}

// RemoveKey removes the keys of a media.
// Packets of the media cannot be decrypted nor encrypted until a new key is set.
func (ks *KeyStore) RemoveKey(mediaIndex int) {
	ks.mutex.Lock()
	defer ks.mutex.Unlock()
	delete(ks.contexts, mediaIndex)
}

// Clear removes all keys.
func (ks *KeyStore) Clear() {
	ks.mutex.Lock()
	defer ks.mutex.Unlock()
	ks.contexts = nil
}

// Context returns the context of a media.
func (ks *KeyStore) Context(mediaIndex int) (*Context, bool) {
	ks.mutex.RLock()
	defer ks.mutex.RUnlock()
	c, ok := ks.contexts[mediaIndex]
	return c, ok
}

// DecryptRTP decrypts a SRTP packet of a media.
func (ks *KeyStore) DecryptRTP(mediaIndex int, dst []byte, encrypted []byte, header *rtp.Header) ([]byte, error) {
	c, ok := ks.Context(mediaIndex)
	if !ok {
		return nil, ErrSecurityNoKey{MediaIndex: mediaIndex}
	}
	return c.DecryptRTP(dst, encrypted, header)
}

// DecryptRTCP decrypts a SRTCP packet of a media.
func (ks *KeyStore) DecryptRTCP(mediaIndex int, dst []byte, encrypted []byte, header *rtcp.Header) ([]byte, error) {
	c, ok := ks.Context(mediaIndex)
	if !ok {
		return nil, ErrSecurityNoKey{MediaIndex: mediaIndex}
	}
	return c.DecryptRTCP(dst, encrypted, header)
}

// EncryptRTP encrypts a RTP packet of a media.
func (ks *KeyStore) EncryptRTP(mediaIndex int, dst []byte, plaintext []byte, header *rtp.Header) ([]byte, error) {
	c, ok := ks.Context(mediaIndex)
	if !ok {
		return nil, ErrSecurityNoKey{MediaIndex: mediaIndex}
	}
	return c.EncryptRTP(dst, plaintext, header)
}

// EncryptRTCP encrypts a RTCP packet of a media.
func (ks *KeyStore) EncryptRTCP(mediaIndex int, dst []byte, decrypted []byte, header *rtcp.Header) ([]byte, error) {
	c, ok := ks.Context(mediaIndex)
	if !ok {
		return nil, ErrSecurityNoKey{MediaIndex: mediaIndex}
	}
	return c.EncryptRTCP(dst, decrypted, header)
}
