// Package auth mints and reads session tokens. Claims are encrypted with
// Fernet and carried in a JWT signed by one key of a key ring; the key id
// travels in the token header.
package auth

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/artpar/faunagate/ports"
)

var (
	// ErrTokenValidationFailed is any failure to decode, verify or decrypt
	// a token.
	ErrTokenValidationFailed = errors.New("token validation failed")
	// ErrUnauthorized is an expired token.
	ErrUnauthorized = errors.New("token expired")
	// ErrNoKeys is a key ring without keys.
	ErrNoKeys = errors.New("key ring has no keys")
)

const (
	defaultExpiration = 24 * time.Hour
	defaultCacheSize  = 1024
	maxClockSkew      = time.Minute
)

// Key is one entry of the key ring.
type Key struct {
	ID            string `yaml:"kid" json:"kid"`
	SignatureKey  string `yaml:"signature_key" json:"signature_key"`
	EncryptionKey string `yaml:"encryption_key" json:"encryption_key"`
}

// keysFile is the on-disk form of a key ring.
type keysFile struct {
	Keys []Key `yaml:"keys"`
}

// GenerateKey returns a key with fresh random material.
func GenerateKey() (Key, error) {
	sig := make([]byte, 32)
	if _, err := rand.Read(sig); err != nil {
		return Key{}, err
	}
	var fk fernet.Key
	if err := fk.Generate(); err != nil {
		return Key{}, err
	}
	return Key{
		ID:            uuid.NewString(),
		SignatureKey:  hex.EncodeToString(sig),
		EncryptionKey: fk.Encode(),
	}, nil
}

// WriteKeys writes keys as a keys file readable by LoadKeys.
func WriteKeys(path string, keys []Key) error {
	data, err := yaml.Marshal(keysFile{Keys: keys})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadKeys reads a keys file.
func LoadKeys(path string) ([]Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keys: %w", err)
	}
	var f keysFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse keys: %w", err)
	}
	return f.Keys, nil
}

// Options configures a KeyRing.
type Options struct {
	Issuer     string
	Expiration time.Duration // default 24h
	CacheSize  int           // decoded token cache entries, default 1024
	Clock      ports.Clock
}

type ringKey struct {
	id        string
	signature []byte
	fernet    *fernet.Key
}

type cached struct {
	claims  map[string]any
	expires time.Time
}

// KeyRing signs tokens with a random key and verifies tokens of any key in
// the ring. Safe for concurrent use.
type KeyRing struct {
	keys       []ringKey
	byID       map[string]ringKey
	issuer     string
	expiration time.Duration
	clock      ports.Clock
	cache      *lru.Cache[string, cached]
}

// NewKeyRing builds a ring from keys.
func NewKeyRing(keys []Key, opts Options) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	if opts.Expiration <= 0 {
		opts.Expiration = defaultExpiration
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Issuer == "" {
		opts.Issuer = "faunagate"
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}

	cache, err := lru.New[string, cached](opts.CacheSize)
	if err != nil {
		return nil, err
	}

	r := &KeyRing{
		byID:       make(map[string]ringKey, len(keys)),
		issuer:     opts.Issuer,
		expiration: opts.Expiration,
		clock:      opts.Clock,
		cache:      cache,
	}
	for _, k := range keys {
		if k.ID == "" || k.SignatureKey == "" {
			return nil, fmt.Errorf("key %q: kid and signature_key are required", k.ID)
		}
		if _, dup := r.byID[k.ID]; dup {
			return nil, fmt.Errorf("key %q: duplicate kid", k.ID)
		}
		fk, err := fernet.DecodeKey(k.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("key %q: encryption_key: %w", k.ID, err)
		}
		rk := ringKey{id: k.ID, signature: []byte(k.SignatureKey), fernet: fk}
		r.keys = append(r.keys, rk)
		r.byID[k.ID] = rk
	}
	return r, nil
}

// LoadKeyRing reads a keys file and builds a ring from it.
func LoadKeyRing(path string, opts Options) (*KeyRing, error) {
	keys, err := LoadKeys(path)
	if err != nil {
		return nil, err
	}
	return NewKeyRing(keys, opts)
}

// Expiration returns the lifetime of minted tokens.
func (r *KeyRing) Expiration() time.Duration { return r.expiration }

// tokenClaims is the signed JWT body. Data holds the encrypted claims.
type tokenClaims struct {
	Data string `json:"data"`
	jwt.RegisteredClaims
}

// CreateJWT encrypts claims with a randomly chosen key and returns the
// signed token.
func (r *KeyRing) CreateJWT(claims map[string]any) (string, error) {
	key, err := r.pick()
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	enc, err := fernet.EncryptAndSign(payload, key.fernet)
	if err != nil {
		return "", fmt.Errorf("encrypt claims: %w", err)
	}

	now := r.clock.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Data: string(enc),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.expiration)),
		},
	})
	token.Header["kid"] = key.id
	return token.SignedString(key.signature)
}

// DecryptJWT verifies token and returns the claims it carries. Integral
// numbers come back as int64, other numbers as float64. Every failure is
// ErrTokenValidationFailed except expiry, which is ErrUnauthorized.
func (r *KeyRing) DecryptJWT(token string) (map[string]any, error) {
	now := r.clock.Now()
	if c, ok := r.cache.Get(token); ok {
		if now.After(c.expires) {
			r.cache.Remove(token)
			return nil, ErrUnauthorized
		}
		return copyClaims(c.claims), nil
	}

	var key ringKey
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		k, ok := r.byID[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key %q", kid)
		}
		key = k
		return k.signature, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.clock.Now),
		jwt.WithIssuer(r.issuer),
		jwt.WithExpirationRequired(),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenValidationFailed, err)
	}
	tc, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenValidationFailed
	}

	payload := fernet.VerifyAndDecrypt([]byte(tc.Data), r.expiration+maxClockSkew, []*fernet.Key{key.fernet})
	if payload == nil {
		return nil, fmt.Errorf("%w: claims do not decrypt", ErrTokenValidationFailed)
	}
	claims, err := decodeClaims(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenValidationFailed, err)
	}

	r.cache.Add(token, cached{claims: claims, expires: tc.ExpiresAt.Time})
	return copyClaims(claims), nil
}

func (r *KeyRing) pick() (ringKey, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(r.keys))))
	if err != nil {
		return ringKey{}, err
	}
	return r.keys[n.Int64()], nil
}

func decodeClaims(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var claims map[string]any
	if err := dec.Decode(&claims); err != nil {
		return nil, err
	}
	for k, v := range claims {
		claims[k] = numbers(v)
	}
	return claims, nil
}

// numbers replaces the json.Numbers in v with int64 or float64.
func numbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = numbers(e)
		}
	case []any:
		for i, e := range x {
			x[i] = numbers(e)
		}
	}
	return v
}

func copyClaims(c map[string]any) map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

var _ ports.TokenIssuer = (*KeyRing)(nil)
