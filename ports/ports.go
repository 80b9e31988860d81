// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/faunagate/core/fql"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Random abstracts randomness for testability.
type Random interface {
	// Bytes generates n random bytes.
	Bytes(n int) ([]byte, error)
	// String generates a random string of n characters.
	String(n int) (string, error)
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher provides password hashing.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Backend Ports
// -----------------------------------------------------------------------------

// ImportMode is the conflict resolution of a schema import.
type ImportMode string

const (
	// ImportMerge adds new types and fields, keeping existing ones.
	ImportMerge ImportMode = "merge"
	// ImportReplace replaces the schema metadata, keeping documents.
	ImportReplace ImportMode = "replace"
	// ImportOverride drops every collection, index, function and role
	// before importing.
	ImportOverride ImportMode = "override"
)

// Valid reports whether m is a known import mode.
func (m ImportMode) Valid() bool {
	switch m {
	case ImportMerge, ImportReplace, ImportOverride:
		return true
	}
	return false
}

// Backend is the document database: a schema import endpoint plus a query
// endpoint evaluating fql expressions.
//
// Errors are classified with the sentinels in this package; Abort inside a
// query surfaces as *AbortError.
type Backend interface {
	// ImportSchema uploads a schema-definition document.
	ImportSchema(ctx context.Context, sdl string, mode ImportMode) error

	// Query evaluates an expression and returns the decoded result.
	Query(ctx context.Context, expr fql.Expr) (any, error)

	// WithSecret returns a client acting with another secret, such as a
	// login token. The receiver is not modified.
	WithSecret(secret string) Backend
}

// Record is one stored document of the local backend.
type Record struct {
	Collection  string
	ID          string
	Doc         map[string]any // decoded document: ref, ts, data and schema fields
	Credentials []byte         // password hash, never returned by reads
}

// DocumentStore persists local backend documents.
type DocumentStore interface {
	// Get retrieves a record.
	Get(ctx context.Context, collection, id string) (Record, error)

	// Put inserts or replaces a record.
	Put(ctx context.Context, rec Record) error

	// Delete removes a record.
	Delete(ctx context.Context, collection, id string) error

	// Scan returns every record of a collection ordered by id.
	Scan(ctx context.Context, collection string) ([]Record, error)

	// Collections returns the names of collections holding records.
	Collections(ctx context.Context) ([]string, error)

	// Reset removes every record.
	Reset(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// Authentication Ports
// -----------------------------------------------------------------------------

// TokenIssuer mints and reads session tokens carrying encrypted claims.
type TokenIssuer interface {
	// CreateJWT returns a signed token carrying claims.
	CreateJWT(claims map[string]any) (string, error)

	// DecryptJWT verifies a token and returns the claims it carries.
	DecryptJWT(token string) (map[string]any, error)
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// EmailSender sends emails.
type EmailSender interface {
	// Send sends an email.
	Send(ctx context.Context, msg EmailMessage) error

	// SendVerification sends an email verification link.
	SendVerification(ctx context.Context, to, name, key string) error

	// SendPasswordReset sends a password reset link.
	SendPasswordReset(ctx context.Context, to, name, key string) error
}

// -----------------------------------------------------------------------------
// Payment Ports
// -----------------------------------------------------------------------------

// WebhookVerifier validates incoming payment provider webhooks.
type WebhookVerifier interface {
	// Name returns the provider name (e.g., "stripe").
	Name() string

	// ParseWebhook validates the signature and returns the event type and
	// the event object.
	ParseWebhook(payload []byte, signature string) (eventType string, data map[string]any, err error)
}
