package payment

import (
	"encoding/json"
	"fmt"

	"github.com/artpar/faunagate/ports"
)

// DummyVerifier accepts unsigned events of the form
// {"type": "...", "data": {"object": {...}}}. Use it for local development
// when no Stripe credentials are available.
type DummyVerifier struct{}

// NewDummyVerifier creates a dummy webhook verifier.
func NewDummyVerifier() *DummyVerifier {
	return &DummyVerifier{}
}

// Name returns the provider name.
func (p *DummyVerifier) Name() string {
	return "dummy"
}

// ParseWebhook decodes the event without checking any signature and
// returns its data object.
func (p *DummyVerifier) ParseWebhook(payload []byte, signature string) (string, map[string]any, error) {
	var event struct {
		Type string `json:"type"`
		Data struct {
			Object map[string]any `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ports.ErrBadRequest, err)
	}
	if event.Type == "" {
		return "", nil, fmt.Errorf("%w: event type missing", ports.ErrBadRequest)
	}
	return event.Type, event.Data.Object, nil
}

// NewVerifier picks the verifier for a provider name.
func NewVerifier(provider string, config StripeConfig) (ports.WebhookVerifier, error) {
	switch provider {
	case "stripe":
		return NewStripeVerifier(config)
	case "dummy", "":
		return NewDummyVerifier(), nil
	default:
		return nil, fmt.Errorf("unknown payment provider: %s", provider)
	}
}

var _ ports.WebhookVerifier = (*DummyVerifier)(nil)
