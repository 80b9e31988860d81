// Package payment verifies payment provider webhooks.
package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/artpar/faunagate/domain/billing"
	"github.com/artpar/faunagate/ports"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrNoWebhookSecret is returned when a Stripe verifier has no signing secret.
var ErrNoWebhookSecret = errors.New("stripe webhook secret is not configured")

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string

	// IgnoreAPIVersion accepts events rendered for another Stripe API version.
	IgnoreAPIVersion bool
}

// StripeVerifier checks Stripe webhook signatures.
type StripeVerifier struct {
	config StripeConfig
}

// NewStripeVerifier creates a Stripe webhook verifier.
func NewStripeVerifier(config StripeConfig) (*StripeVerifier, error) {
	if config.WebhookSecret == "" {
		return nil, ErrNoWebhookSecret
	}
	if config.SecretKey != "" {
		stripe.Key = config.SecretKey
	}
	return &StripeVerifier{config: config}, nil
}

// Name returns the provider name.
func (p *StripeVerifier) Name() string {
	return "stripe"
}

// ParseWebhook validates the Stripe-Signature header and returns the event
// type and the event object.
func (p *StripeVerifier) ParseWebhook(payload []byte, signature string) (string, map[string]any, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: p.config.IgnoreAPIVersion})
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ports.ErrBadRequest, err)
	}

	var data map[string]any
	if err := json.Unmarshal(event.Data.Raw, &data); err != nil {
		return "", nil, fmt.Errorf("%w: event object: %v", ports.ErrBadRequest, err)
	}
	return string(event.Type), data, nil
}

// MapStatus converts a Stripe subscription status.
func MapStatus(status string) billing.SubscriptionStatus {
	switch stripe.SubscriptionStatus(status) {
	case stripe.SubscriptionStatusActive:
		return billing.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue:
		return billing.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return billing.SubscriptionStatusCancelled
	case stripe.SubscriptionStatusUnpaid:
		return billing.SubscriptionStatusUnpaid
	case stripe.SubscriptionStatusTrialing:
		return billing.SubscriptionStatusTrialing
	default:
		return billing.SubscriptionStatusActive
	}
}

var _ ports.WebhookVerifier = (*StripeVerifier)(nil)
