package app_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/faunagate/adapters/local"
	"github.com/artpar/faunagate/app"
	"github.com/artpar/faunagate/core/collection"
	"github.com/artpar/faunagate/core/schema"
	"github.com/artpar/faunagate/domain/billing"
	"github.com/artpar/faunagate/ports"
)

func event(t *testing.T, eventType string, object map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"type": eventType, "data": map[string]any{"object": object}})
	require.NoError(t, err)
	return b
}

func customers(b *local.Backend) *collection.Collection {
	return collection.New(b, billing.StripeCustomer)
}

func TestCheckoutCompleted(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.activeUser(t, "payer")

	pkg := billing.StripePackage.MustNew(map[string]any{"name": "Pro", "price_id": "price_pro", "amount": 1000})
	require.NoError(t, collection.New(f.backend, billing.StripePackage).Create(ctx, pkg))

	err := f.webhooks.HandleWebhook(ctx, event(t, app.EventCheckoutCompleted, map[string]any{
		"id":                  "cs_1",
		"customer":            "cus_1",
		"subscription":        "sub_1",
		"client_reference_id": user.Ref,
		"customer_details":    map[string]any{"email": "payer@example.com"},
		"metadata":            map[string]any{"price_id": "price_pro"},
	}), "")
	require.NoError(t, err)

	got, err := customers(f.backend).GetBy(ctx, schema.UniqueIndexName(billing.StripeCustomer, billing.FieldCustomerID), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, user.Ref, got.Get(billing.FieldUser))
	assert.Equal(t, pkg.Ref, got.Get(billing.FieldPackage))
	assert.Equal(t, "sub_1", got.Get(billing.FieldSubscriptionID))
	assert.Equal(t, "payer@example.com", got.Get("email"))
	assert.Equal(t, string(billing.SubscriptionStatusActive), got.Get(billing.FieldStatus))

	// a second checkout of the same customer moves it to the new subscription
	require.NoError(t, f.webhooks.HandleCheckoutCompleted(ctx, app.Checkout{CustomerID: "cus_1", SubscriptionID: "sub_2"}))
	all, err := customers(f.backend).All(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "sub_2", all[0].Get(billing.FieldSubscriptionID))

	assert.Equal(t, 1, f.events.results[app.EventCheckoutCompleted+":"+app.WebhookHandled])
}

func TestCheckoutUnknownReferences(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.webhooks.HandleCheckoutCompleted(ctx, app.Checkout{
		CustomerID: "cus_9", UserID: "404", PriceID: "price_missing",
	}))
	got, err := customers(f.backend).GetBy(ctx, schema.UniqueIndexName(billing.StripeCustomer, billing.FieldCustomerID), "cus_9")
	require.NoError(t, err)
	assert.NotContains(t, got.Data, billing.FieldUser)
	assert.NotContains(t, got.Data, billing.FieldPackage)

	err = f.webhooks.HandleCheckoutCompleted(ctx, app.Checkout{})
	assert.ErrorIs(t, err, ports.ErrBadRequest)
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.webhooks.HandleCheckoutCompleted(ctx, app.Checkout{CustomerID: "cus_1", SubscriptionID: "sub_1"}))

	status := func() string {
		t.Helper()
		doc, err := customers(f.backend).GetBy(ctx, billing.BySubscription.Name, "sub_1")
		require.NoError(t, err)
		return doc.GetString(billing.FieldStatus)
	}

	require.NoError(t, f.webhooks.HandleWebhook(ctx, event(t, app.EventSubscriptionUpdated, map[string]any{
		"id": "sub_1", "status": "past_due",
	}), ""))
	assert.Equal(t, string(billing.SubscriptionStatusPastDue), status())

	require.NoError(t, f.webhooks.HandleWebhook(ctx, event(t, app.EventInvoicePaid, map[string]any{
		"customer": "cus_1",
	}), ""))
	assert.Equal(t, string(billing.SubscriptionStatusActive), status())

	require.NoError(t, f.webhooks.HandleWebhook(ctx, event(t, app.EventSubscriptionDeleted, map[string]any{
		"id": "sub_1",
	}), ""))
	assert.Equal(t, string(billing.SubscriptionStatusCancelled), status())

	err := f.webhooks.HandleWebhook(ctx, event(t, app.EventSubscriptionUpdated, map[string]any{
		"id": "sub_404", "status": "active",
	}), "")
	assert.ErrorIs(t, err, collection.ErrDocNotFound)
	assert.Equal(t, 1, f.events.results[app.EventSubscriptionUpdated+":"+app.WebhookFailed])

	// invoices of unknown customers are acknowledged
	assert.NoError(t, f.webhooks.HandleWebhook(ctx, event(t, app.EventInvoicePaymentFailed, map[string]any{
		"customer": "cus_404",
	}), ""))
}

func TestWebhookIgnoredAndRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.NoError(t, f.webhooks.HandleWebhook(ctx, event(t, "product.created", map[string]any{"id": "prod_1"}), ""))
	assert.Equal(t, 1, f.events.results["product.created:"+app.WebhookIgnored])

	err := f.webhooks.HandleWebhook(ctx, []byte("not json"), "")
	assert.ErrorIs(t, err, ports.ErrBadRequest)
	assert.Equal(t, 1, f.events.results["unknown:"+app.WebhookRejected])
	assert.Equal(t, "dummy", f.webhooks.Provider())
}
