// Package billing declares the models recording Stripe customers and the
// packages they buy.
package billing

import (
	"github.com/artpar/faunagate/core/resource"
	"github.com/artpar/faunagate/core/schema"
)

// SubscriptionStatus represents subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusTrialing  SubscriptionStatus = "trialing"
	SubscriptionStatusUnpaid    SubscriptionStatus = "unpaid"
)

// IsActive returns true if the status grants access.
func (s SubscriptionStatus) IsActive() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Field names of StripeCustomer.
const (
	FieldUser           = "user"
	FieldCustomerID     = "customer_id"
	FieldSubscriptionID = "subscription_id"
	FieldPackage        = "package"
	FieldStatus         = "status"
)

var (
	// StripePackage is a product users can subscribe to.
	StripePackage = schema.MustDefine("StripePackage",
		schema.String("name", schema.Required()),
		schema.String("price_id", schema.Required(), schema.Unique()),
		schema.Int("amount"),
		schema.String("currency", schema.Default("usd")),
	).Display("name")

	// StripeCustomer links a user to a Stripe customer and subscription.
	StripeCustomer = schema.MustDefine("StripeCustomer",
		schema.Reference(FieldUser, "User"),
		schema.String(FieldCustomerID, schema.Required(), schema.Unique()),
		schema.String(FieldSubscriptionID),
		schema.Reference(FieldPackage, "StripePackage"),
		schema.String("email"),
		schema.String(FieldStatus, schema.Default(string(SubscriptionStatusActive))),
	).Display(FieldCustomerID)
)

// Models returns the billing models.
func Models() []*schema.Model {
	return []*schema.Model{StripePackage, StripeCustomer}
}

// Resources returns the billing models and their lookup indexes.
func Resources() []any {
	return []any{
		resource.Collection{Model: StripePackage},
		resource.Collection{Model: StripeCustomer, Indexes: []schema.Index{BySubscription}},
	}
}

// BySubscription finds the customer of a subscription.
var BySubscription = schema.Index{
	Name:   "stripecustomers_by_subscription",
	Source: StripeCustomer.CollectionName(),
	Terms:  []string{FieldSubscriptionID},
}
