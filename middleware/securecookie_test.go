package middleware

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"
)

func newAESGCMAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func randomKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, DefaultAEADKeysize)
	if _, err := rand.Read(k); err != nil {
		t.Fatalf("rand.Read(key): %v", err)
	}
	return k
}

type testPayload struct {
	Msg    string         `cbor:"1,keyasint"`
	Num    int            `cbor:"2,keyasint"`
	Claims map[string]any `cbor:"3,keyasint"`
}

func TestSecureCookie_RoundTrip(t *testing.T) {
	keys := map[string][]byte{"a": randomKey(t)}
	sc, err := NewSecureCookie("sc", "a", keys,
		WithDomain("example.com"), WithSecure(false), WithSameSite(http.SameSiteNoneMode))
	if err != nil {
		t.Fatalf("NewSecureCookie: %v", err)
	}

	plain := testPayload{
		Msg:    "hello world",
		Num:    1,
		Claims: map[string]any{"aud": []any{"a", "b"}, "ext": map[string]any{"tenant": "t1"}},
	}
	ck, err := sc.Encode(plain, time.Hour)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if ck.Name != "sc" || ck.Domain != "example.com" || ck.Path != "/" {
		t.Errorf("cookie = %+v", ck)
	}
	if !ck.HttpOnly || ck.Secure || ck.SameSite != http.SameSiteNoneMode || ck.MaxAge != 3600 {
		t.Errorf("cookie attributes = %+v", ck)
	}
	if !strings.HasPrefix(ck.Value, "a.") {
		t.Errorf("value %q does not carry the key id", ck.Value)
	}

	var got testPayload
	if err := sc.Decode(ck, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(got, plain) {
		t.Fatalf("payload mismatch: got %+v want %+v", got, plain)
	}
	if _, err := json.Marshal(got.Claims); err != nil {
		t.Errorf("decoded claims are not JSON encodable: %v", err)
	}
}

func TestSecureCookie_Rotation(t *testing.T) {
	oldKey, newKey := randomKey(t), randomKey(t)
	before, _ := NewSecureCookie("sc", "old", map[string][]byte{"old": oldKey})
	after, err := NewSecureCookie("sc", "new", map[string][]byte{"old": oldKey, "new": newKey})
	if err != nil {
		t.Fatal(err)
	}

	ck, _ := before.Encode(testPayload{Msg: "legacy"}, time.Minute)
	var got testPayload
	if err := after.Decode(ck, &got); err != nil || got.Msg != "legacy" {
		t.Fatalf("old key no longer decodes: %v %+v", err, got)
	}

	fresh, _ := after.Encode(testPayload{Msg: "fresh"}, time.Minute)
	if !strings.HasPrefix(fresh.Value, "new.") {
		t.Errorf("sealed with the wrong key: %q", fresh.Value)
	}
	if err := before.Decode(fresh, &got); !errors.Is(err, ErrCookieInvalid) {
		t.Errorf("unknown key id: err = %v", err)
	}
}

func TestSecureCookie_DecodeRejects(t *testing.T) {
	sc, _ := NewSecureCookie("sc", "a", map[string][]byte{"a": randomKey(t)})
	good, _ := sc.Encode(testPayload{Msg: "x"}, time.Minute)

	// Flip a character inside the nonce; every bit of it is significant.
	flipped := []byte(good.Value)
	i := len("a.") + 4
	if flipped[i] == 'A' {
		flipped[i] = 'B'
	} else {
		flipped[i] = 'A'
	}

	tests := []struct {
		name   string
		cookie *http.Cookie
		want   error
	}{
		{"nil", nil, ErrCookieFormat},
		{"empty", &http.Cookie{Name: "sc"}, ErrCookieFormat},
		{"too long", &http.Cookie{Name: "sc", Value: strings.Repeat("a", maxCookieLen+1)}, ErrCookieFormat},
		{"no separator", &http.Cookie{Name: "sc", Value: "abc"}, ErrCookieFormat},
		{"bad base64", &http.Cookie{Name: "sc", Value: "a.!!!"}, ErrCookieFormat},
		{"too short", &http.Cookie{Name: "sc", Value: "a.AAAA"}, ErrCookieFormat},
		{"unknown key", &http.Cookie{Name: "sc", Value: "z." + strings.SplitN(good.Value, ".", 2)[1]}, ErrCookieInvalid},
		{"tampered", &http.Cookie{Name: "sc", Value: string(flipped)}, ErrCookieInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v testPayload
			if err := sc.Decode(tt.cookie, &v); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSecureCookie_AADBindsAttributes(t *testing.T) {
	keys := map[string][]byte{"a": randomKey(t)}
	root, _ := NewSecureCookie("sc", "a", keys)
	scoped, _ := NewSecureCookie("sc", "a", keys, WithPath("/rpc"))
	renamed, _ := NewSecureCookie("other", "a", keys)

	ck, _ := root.Encode(testPayload{Msg: "x"}, time.Minute)
	var v testPayload
	if err := scoped.Decode(ck, &v); !errors.Is(err, ErrCookieInvalid) {
		t.Errorf("path mismatch: err = %v", err)
	}
	if err := renamed.Decode(ck, &v); !errors.Is(err, ErrCookieInvalid) {
		t.Errorf("name mismatch: err = %v", err)
	}
}

func TestSecureCookie_Clear(t *testing.T) {
	sc, _ := NewSecureCookie("sc", "a", map[string][]byte{"a": randomKey(t)}, WithPath("/p"), WithDomain("example.com"))
	c := sc.Clear()
	if c.Name != "sc" || c.Value != "" || c.MaxAge != -1 || c.Path != "/p" || c.Domain != "example.com" {
		t.Errorf("Clear = %+v", c)
	}
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
		t.Errorf("Clear attributes = %+v", c)
	}
}

func TestSecureCookie_EncodeRequiresPositiveMaxAge(t *testing.T) {
	sc, _ := NewSecureCookie("sc", "a", map[string][]byte{"a": randomKey(t)})
	for _, d := range []time.Duration{0, -time.Second, 500 * time.Millisecond} {
		if _, err := sc.Encode(testPayload{}, d); !errors.Is(err, ErrCookieInvalid) {
			t.Errorf("maxAge %v: err = %v", d, err)
		}
	}
}

func TestNewSecureCookie_Validation(t *testing.T) {
	key := randomKey(t)
	tests := []struct {
		name  string
		cname string
		keyID string
		keys  map[string][]byte
		opts  []SecureCookieOption
	}{
		{"missing key id", "sc", "b", map[string][]byte{"a": key}, nil},
		{"nil keys", "sc", "a", nil, nil},
		{"short key", "sc", "a", map[string][]byte{"a": key[:16]}, nil},
		{"dotted key id", "sc", "a.b", map[string][]byte{"a.b": key}, nil},
		{"empty name", "", "a", map[string][]byte{"a": key}, nil},
		{"nil aead", "sc", "a", map[string][]byte{"a": key}, []SecureCookieOption{WithAEAD(nil)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSecureCookie(tt.cname, tt.keyID, tt.keys, tt.opts...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSecureCookie_CustomCodecs(t *testing.T) {
	keys := map[string][]byte{"a": randomKey(t)}
	sc, err := NewSecureCookie("sc", "a", keys, WithAEAD(newAESGCMAEAD), WithMarshalUnmarshal(json.Marshal, json.Unmarshal))
	if err != nil {
		t.Fatalf("NewSecureCookie: %v", err)
	}
	ck, err := sc.Encode(map[string]string{"k": "v"}, time.Minute)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got map[string]string
	if err := sc.Decode(ck, &got); err != nil || got["k"] != "v" {
		t.Fatalf("Decode: %v %v", err, got)
	}
}
