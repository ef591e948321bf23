package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("invalid secure cookie format")
	ErrCookieInvalid = errors.New("invalid secure cookie")
	ErrCookieConfig  = errors.New("invalid secure cookie configuration")
)

// maxCookieLen bounds the attacker-controlled data decoded for a cookie value.
const maxCookieLen = 8192

// DefaultAEADKeysize is the key size (in bytes) of the default AEAD,
// XChaCha20-Poly1305.
const DefaultAEADKeysize = chacha20poly1305.KeySize

// cborDecMode decodes nested maps as map[string]any so decoded claims stay
// JSON-encodable.
var cborDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// SecureCookie seals values into cookies with an AEAD.
//
// Format: [keyID] "." base64url(nonce || seal(plaintext))
//
// The additional data binds the cookie name, domain, path and secure flag to
// the sealed value. Keys holds every accepted key; keyID selects the key used
// for sealing, so keys can be rotated by adding a new one and switching keyID.
type SecureCookie struct {
	name     string
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite

	keyID string
	aeads map[string]cipher.AEAD

	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
	newAEAD   func([]byte) (cipher.AEAD, error)
}

// SecureCookieOption configures a SecureCookie.
type SecureCookieOption func(*SecureCookie)

// WithMarshalUnmarshal replaces the CBOR payload encoding.
func WithMarshalUnmarshal(marshal func(any) ([]byte, error), unmarshal func([]byte, any) error) SecureCookieOption {
	return func(sc *SecureCookie) {
		sc.marshal = marshal
		sc.unmarshal = unmarshal
	}
}

// WithAEAD configures a custom AEAD factory (e.g. AES-GCM).
func WithAEAD(f func([]byte) (cipher.AEAD, error)) SecureCookieOption {
	return func(sc *SecureCookie) {
		sc.newAEAD = f
	}
}

// WithPath configures the cookie path.
func WithPath(path string) SecureCookieOption {
	return func(sc *SecureCookie) {
		sc.path = path
	}
}

// WithDomain configures the cookie domain.
func WithDomain(domain string) SecureCookieOption {
	return func(sc *SecureCookie) {
		sc.domain = domain
	}
}

// WithSecure configures the cookie secure flag.
func WithSecure(secure bool) SecureCookieOption {
	return func(sc *SecureCookie) {
		sc.secure = secure
	}
}

// WithSameSite configures the cookie SameSite attribute.
func WithSameSite(sameSite http.SameSite) SecureCookieOption {
	return func(sc *SecureCookie) {
		sc.sameSite = sameSite
	}
}

// NewSecureCookie creates a SecureCookie sealing with XChaCha20-Poly1305 and
// encoding payloads as CBOR.
//
// Defaults: Path "/", HttpOnly, Secure, SameSite=Lax.
func NewSecureCookie(cookieName, keyID string, keys map[string][]byte, opts ...SecureCookieOption) (*SecureCookie, error) {
	sc := &SecureCookie{
		name:      cookieName,
		path:      "/",
		secure:    true,
		sameSite:  http.SameSiteLaxMode,
		keyID:     keyID,
		marshal:   cbor.Marshal,
		unmarshal: cborDecMode.Unmarshal,
		newAEAD:   chacha20poly1305.NewX,
	}
	for _, opt := range opts {
		opt(sc)
	}
	if cookieName == "" || sc.newAEAD == nil || sc.marshal == nil || sc.unmarshal == nil {
		return nil, ErrCookieConfig
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key %q not found", ErrCookieConfig, keyID)
	}
	if sc.path == "" {
		sc.path = "/"
	}

	sc.aeads = make(map[string]cipher.AEAD, len(keys))
	for id, k := range keys {
		if id == "" || strings.Contains(id, ".") {
			return nil, fmt.Errorf("%w: invalid key id %q", ErrCookieConfig, id)
		}
		aead, err := sc.newAEAD(k)
		if err != nil {
			return nil, fmt.Errorf("invalid key %s: %w", id, err)
		}
		sc.aeads[id] = aead
	}
	return sc, nil
}

// Name returns the cookie name.
func (sc *SecureCookie) Name() string {
	return sc.name
}

func (sc *SecureCookie) aad() []byte {
	secureStr := "f"
	if sc.secure {
		secureStr = "t"
	}
	return []byte(sc.name + ":" + sc.domain + ":" + sc.path + ":" + secureStr)
}

// Encode marshals and seals plain into a cookie that expires after maxAge.
func (sc *SecureCookie) Encode(plain any, maxAge time.Duration) (*http.Cookie, error) {
	seconds := int(maxAge / time.Second)
	if seconds <= 0 {
		return nil, ErrCookieInvalid
	}
	plainBytes, err := sc.marshal(plain)
	if err != nil {
		return nil, err
	}

	aead := sc.aeads[sc.keyID]
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plainBytes)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nonce, nonce, plainBytes, sc.aad())

	return &http.Cookie{
		Name:     sc.name,
		Value:    sc.keyID + "." + base64.RawURLEncoding.EncodeToString(sealed),
		Path:     sc.path,
		Domain:   sc.domain,
		MaxAge:   seconds,
		Expires:  time.Now().Add(time.Duration(seconds) * time.Second),
		Secure:   sc.secure,
		HttpOnly: true,
		SameSite: sc.sameSite,
	}, nil
}

// Decode opens the cookie value and unmarshals it into v.
func (sc *SecureCookie) Decode(cookie *http.Cookie, v any) error {
	if cookie == nil || len(cookie.Value) == 0 || len(cookie.Value) > maxCookieLen {
		return ErrCookieFormat
	}
	keyID, encB64, ok := strings.Cut(cookie.Value, ".")
	if !ok || keyID == "" || encB64 == "" {
		return ErrCookieFormat
	}
	aead, ok := sc.aeads[keyID]
	if !ok {
		return ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(encB64)
	if err != nil {
		return ErrCookieFormat
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return ErrCookieFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plainBytes, err := aead.Open(nil, nonce, ciphertext, sc.aad())
	if err != nil {
		return ErrCookieInvalid
	}
	return sc.unmarshal(plainBytes, v)
}

// Clear returns a cookie that deletes this cookie in the client.
func (sc *SecureCookie) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     sc.name,
		Path:     sc.path,
		Domain:   sc.domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   sc.secure,
		HttpOnly: true,
		SameSite: sc.sameSite,
	}
}
