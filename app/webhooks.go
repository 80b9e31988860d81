package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/faunagate/core/collection"
	"github.com/artpar/faunagate/core/schema"
	"github.com/artpar/faunagate/domain/auth"
	"github.com/artpar/faunagate/domain/billing"
	"github.com/artpar/faunagate/ports"
)

// Stripe event types handled by WebhookService.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// Webhook results reported to a WebhookObserver.
const (
	WebhookHandled  = "handled"
	WebhookIgnored  = "ignored"
	WebhookRejected = "rejected"
	WebhookFailed   = "failed"
)

// WebhookObserver is notified of every webhook event.
type WebhookObserver interface {
	ObserveWebhook(eventType, result string)
}

// Checkout is the part of a completed checkout session recorded as a
// StripeCustomer.
type Checkout struct {
	CustomerID     string
	SubscriptionID string
	Email          string
	UserID         string // client_reference_id
	PriceID        string // metadata.price_id
}

// WebhookService records payment provider events against StripeCustomer
// documents.
type WebhookService struct {
	verifier  ports.WebhookVerifier
	customers *collection.Collection
	packages  *collection.Collection
	users     *collection.Collection
	mapStatus func(string) billing.SubscriptionStatus
	observer  WebhookObserver
	logger    zerolog.Logger
}

// NewWebhookService creates a webhook service. mapStatus converts provider
// subscription states.
func NewWebhookService(
	backend ports.Backend,
	verifier ports.WebhookVerifier,
	mapStatus func(string) billing.SubscriptionStatus,
	logger zerolog.Logger,
) *WebhookService {
	return &WebhookService{
		verifier:  verifier,
		customers: collection.New(backend, billing.StripeCustomer),
		packages:  collection.New(backend, billing.StripePackage),
		users:     collection.New(backend, auth.User),
		mapStatus: mapStatus,
		logger:    logger,
	}
}

// WithObserver sets the observer notified of each event.
func (s *WebhookService) WithObserver(o WebhookObserver) *WebhookService {
	s.observer = o
	return s
}

// Provider returns the verifier name.
func (s *WebhookService) Provider() string {
	return s.verifier.Name()
}

// HandleWebhook verifies a raw webhook and dispatches it by event type.
// Unknown event types are acknowledged and ignored.
func (s *WebhookService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	eventType, data, err := s.verifier.ParseWebhook(payload, signature)
	if err != nil {
		s.observe("unknown", WebhookRejected)
		s.logger.Warn().Err(err).Str("provider", s.verifier.Name()).Msg("webhook rejected")
		return err
	}

	switch eventType {
	case EventCheckoutCompleted:
		err = s.HandleCheckoutCompleted(ctx, checkoutFrom(data))
	case EventSubscriptionUpdated:
		err = s.HandleSubscriptionUpdated(ctx, str(data, "id"), s.mapStatus(str(data, "status")))
	case EventSubscriptionDeleted:
		err = s.HandleSubscriptionUpdated(ctx, str(data, "id"), billing.SubscriptionStatusCancelled)
	case EventInvoicePaid:
		err = s.handleInvoice(ctx, str(data, "customer"), billing.SubscriptionStatusActive)
	case EventInvoicePaymentFailed:
		err = s.handleInvoice(ctx, str(data, "customer"), billing.SubscriptionStatusPastDue)
	default:
		s.observe(eventType, WebhookIgnored)
		s.logger.Debug().Str("event_type", eventType).Msg("webhook event ignored")
		return nil
	}

	if err != nil {
		s.observe(eventType, WebhookFailed)
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("webhook handling failed")
		return err
	}
	s.observe(eventType, WebhookHandled)
	return nil
}

// HandleCheckoutCompleted records the customer of a completed checkout.
// A checkout for a known customer updates its subscription.
func (s *WebhookService) HandleCheckoutCompleted(ctx context.Context, c Checkout) error {
	if c.CustomerID == "" {
		return fmt.Errorf("%w: checkout without customer", ports.ErrBadRequest)
	}
	s.logger.Info().
		Str("customer_id", c.CustomerID).
		Str("subscription_id", c.SubscriptionID).
		Msg("handling checkout completed webhook")

	customer, err := s.customerByID(ctx, c.CustomerID)
	switch {
	case err == nil:
	case errors.Is(err, collection.ErrDocNotFound):
		customer, err = billing.StripeCustomer.New(map[string]any{billing.FieldCustomerID: c.CustomerID})
		if err != nil {
			return err
		}
	default:
		return err
	}

	customer.Data[billing.FieldStatus] = string(billing.SubscriptionStatusActive)
	if c.SubscriptionID != "" {
		customer.Data[billing.FieldSubscriptionID] = c.SubscriptionID
	}
	if c.Email != "" {
		customer.Data["email"] = c.Email
	}
	if c.UserID != "" {
		if _, err := s.users.Get(ctx, c.UserID); err == nil {
			customer.Data[billing.FieldUser] = c.UserID
		} else {
			s.logger.Warn().Err(err).Str("user_id", c.UserID).Msg("checkout references unknown user")
		}
	}
	if c.PriceID != "" {
		pkg, err := s.packages.GetBy(ctx, schema.UniqueIndexName(billing.StripePackage, "price_id"), c.PriceID)
		if err == nil {
			customer.Data[billing.FieldPackage] = pkg.Ref
		} else {
			s.logger.Warn().Err(err).Str("price_id", c.PriceID).Msg("checkout references unknown package")
		}
	}

	if customer.IsSaved() {
		err = s.customers.Update(ctx, customer)
	} else {
		err = s.customers.Create(ctx, customer)
	}
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("customer_id", c.CustomerID).
		Str("stripe_customer", customer.Ref).
		Msg("checkout completed: customer recorded")
	return nil
}

// HandleSubscriptionUpdated stores the new status of a subscription.
func (s *WebhookService) HandleSubscriptionUpdated(ctx context.Context, subscriptionID string, status billing.SubscriptionStatus) error {
	if subscriptionID == "" {
		return fmt.Errorf("%w: subscription id missing", ports.ErrBadRequest)
	}
	customer, err := s.customers.GetBy(ctx, billing.BySubscription.Name, subscriptionID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("subscription_id", subscriptionID).
			Msg("failed to find subscription")
		return err
	}
	return s.setStatus(ctx, customer, status)
}

func (s *WebhookService) handleInvoice(ctx context.Context, customerID string, status billing.SubscriptionStatus) error {
	customer, err := s.customerByID(ctx, customerID)
	if errors.Is(err, collection.ErrDocNotFound) {
		s.logger.Warn().Str("customer_id", customerID).Msg("invoice for unknown customer")
		return nil
	}
	if err != nil {
		return err
	}
	return s.setStatus(ctx, customer, status)
}

func (s *WebhookService) setStatus(ctx context.Context, customer *schema.Document, status billing.SubscriptionStatus) error {
	customer.Data[billing.FieldStatus] = string(status)
	if err := s.customers.Update(ctx, customer); err != nil {
		return err
	}
	s.logger.Info().
		Str("customer_id", customer.GetString(billing.FieldCustomerID)).
		Str("status", string(status)).
		Msg("subscription status updated")
	return nil
}

func (s *WebhookService) customerByID(ctx context.Context, customerID string) (*schema.Document, error) {
	return s.customers.GetBy(ctx, schema.UniqueIndexName(billing.StripeCustomer, billing.FieldCustomerID), customerID)
}

func (s *WebhookService) observe(eventType, result string) {
	if s.observer != nil {
		s.observer.ObserveWebhook(eventType, result)
	}
}

func checkoutFrom(data map[string]any) Checkout {
	c := Checkout{
		CustomerID:     str(data, "customer"),
		SubscriptionID: str(data, "subscription"),
		Email:          str(data, "customer_email"),
		UserID:         str(data, "client_reference_id"),
	}
	if details, ok := data["customer_details"].(map[string]any); ok && c.Email == "" {
		c.Email = str(details, "email")
	}
	if meta, ok := data["metadata"].(map[string]any); ok {
		c.PriceID = str(meta, "price_id")
	}
	return c
}

// str reads a string value; Stripe expands some ids into objects, in which
// case the object id is returned.
func str(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case map[string]any:
		id, _ := v["id"].(string)
		return id
	}
	return ""
}
