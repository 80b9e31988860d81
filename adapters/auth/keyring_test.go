package auth_test

import (
	"encoding/base64"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/artpar/faunagate/adapters/auth"
	"github.com/artpar/faunagate/adapters/clock"
)

func newRing(t *testing.T, c *clock.Fake, n int) (*auth.KeyRing, []auth.Key) {
	t.Helper()
	keys := make([]auth.Key, n)
	for i := range keys {
		k, err := auth.GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		keys[i] = k
	}
	opts := auth.Options{Expiration: time.Hour}
	if c != nil {
		opts.Clock = c
	}
	ring, err := auth.NewKeyRing(keys, opts)
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}
	return ring, keys
}

func TestKeyRing_RoundTrip(t *testing.T) {
	ring, _ := newRing(t, nil, 3)

	claims := map[string]any{
		"user":   "alice",
		"secret": "fnE123",
		"admin":  false,
		"groups": []any{"power-users"},
	}
	token, err := ring.CreateJWT(claims)
	if err != nil {
		t.Fatalf("CreateJWT: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("not a JWT: %s", token)
	}

	// twice: the second read comes from the cache
	for i := 0; i < 2; i++ {
		got, err := ring.DecryptJWT(token)
		if err != nil {
			t.Fatalf("DecryptJWT: %v", err)
		}
		if !reflect.DeepEqual(got, claims) {
			t.Errorf("claims = %v, want %v", got, claims)
		}
	}
}

func TestKeyRing_NumericClaims(t *testing.T) {
	ring, _ := newRing(t, nil, 1)

	token, err := ring.CreateJWT(map[string]any{
		"expires": int64(1735689600),
		"ratio":   0.5,
		"limits":  map[string]any{"rooms": 3},
		"ids":     []any{1, 2.5},
	})
	if err != nil {
		t.Fatalf("CreateJWT: %v", err)
	}
	got, err := ring.DecryptJWT(token)
	if err != nil {
		t.Fatalf("DecryptJWT: %v", err)
	}

	want := map[string]any{
		"expires": int64(1735689600),
		"ratio":   0.5,
		"limits":  map[string]any{"rooms": int64(3)},
		"ids":     []any{int64(1), 2.5},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("claims = %#v, want %#v", got, want)
	}
	if exp, ok := got["expires"].(int64); !ok || time.Unix(exp, 0).UTC().Year() != 2025 {
		t.Errorf("expires = %#v", got["expires"])
	}
}

func TestKeyRing_ClaimsEncrypted(t *testing.T) {
	ring, _ := newRing(t, nil, 1)

	token, err := ring.CreateJWT(map[string]any{"user": "alice"})
	if err != nil {
		t.Fatalf("CreateJWT: %v", err)
	}
	body, err := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[1])
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if strings.Contains(string(body), "alice") {
		t.Errorf("claims readable in token body: %s", body)
	}
}

func TestKeyRing_ForeignAndTamperedTokens(t *testing.T) {
	ring, _ := newRing(t, nil, 2)
	other, _ := newRing(t, nil, 1)

	token, err := other.CreateJWT(map[string]any{"user": "mallory"})
	if err != nil {
		t.Fatalf("CreateJWT: %v", err)
	}
	if _, err := ring.DecryptJWT(token); !errors.Is(err, auth.ErrTokenValidationFailed) {
		t.Errorf("foreign token: err = %v", err)
	}

	token, err = ring.CreateJWT(map[string]any{"user": "alice"})
	if err != nil {
		t.Fatalf("CreateJWT: %v", err)
	}
	tampered := token[:len(token)-2] + "xx"
	if _, err := ring.DecryptJWT(tampered); !errors.Is(err, auth.ErrTokenValidationFailed) {
		t.Errorf("tampered token: err = %v", err)
	}
	if _, err := ring.DecryptJWT("garbage"); !errors.Is(err, auth.ErrTokenValidationFailed) {
		t.Errorf("garbage: err = %v", err)
	}
}

func TestKeyRing_Expiry(t *testing.T) {
	c := clock.NewFake(time.Now())
	ring, _ := newRing(t, c, 1)

	cachedToken, err := ring.CreateJWT(map[string]any{"user": "alice"})
	if err != nil {
		t.Fatalf("CreateJWT: %v", err)
	}
	if _, err := ring.DecryptJWT(cachedToken); err != nil {
		t.Fatalf("DecryptJWT: %v", err)
	}
	freshToken, err := ring.CreateJWT(map[string]any{"user": "bob"})
	if err != nil {
		t.Fatalf("CreateJWT: %v", err)
	}

	c.Advance(2 * time.Hour)
	for name, tok := range map[string]string{"cached": cachedToken, "fresh": freshToken} {
		if _, err := ring.DecryptJWT(tok); !errors.Is(err, auth.ErrUnauthorized) {
			t.Errorf("%s: err = %v, want ErrUnauthorized", name, err)
		}
	}
}

func TestKeysFile(t *testing.T) {
	_, keys := newRing(t, nil, 2)
	path := filepath.Join(t.TempDir(), "keys.yaml")

	if err := auth.WriteKeys(path, keys); err != nil {
		t.Fatalf("WriteKeys: %v", err)
	}
	loaded, err := auth.LoadKeys(path)
	if err != nil {
		t.Fatalf("LoadKeys: %v", err)
	}
	if !reflect.DeepEqual(loaded, keys) {
		t.Errorf("loaded = %v, want %v", loaded, keys)
	}

	ring, err := auth.LoadKeyRing(path, auth.Options{})
	if err != nil {
		t.Fatalf("LoadKeyRing: %v", err)
	}
	if ring.Expiration() != 24*time.Hour {
		t.Errorf("default expiration = %v", ring.Expiration())
	}
}

func TestNewKeyRing_Errors(t *testing.T) {
	good, err := auth.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	tests := []struct {
		name string
		keys []auth.Key
	}{
		{"no keys", nil},
		{"bad fernet key", []auth.Key{{ID: "k1", SignatureKey: "s", EncryptionKey: "nope"}}},
		{"missing kid", []auth.Key{{SignatureKey: good.SignatureKey, EncryptionKey: good.EncryptionKey}}},
		{"duplicate kid", []auth.Key{good, good}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := auth.NewKeyRing(tt.keys, auth.Options{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}
