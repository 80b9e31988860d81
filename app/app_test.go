package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	authkeys "github.com/artpar/faunagate/adapters/auth"
	"github.com/artpar/faunagate/adapters/clock"
	"github.com/artpar/faunagate/adapters/email"
	"github.com/artpar/faunagate/adapters/hasher"
	"github.com/artpar/faunagate/adapters/idgen"
	"github.com/artpar/faunagate/adapters/local"
	"github.com/artpar/faunagate/adapters/memory"
	"github.com/artpar/faunagate/adapters/payment"
	"github.com/artpar/faunagate/adapters/random"
	"github.com/artpar/faunagate/app"
	"github.com/artpar/faunagate/core/project"
	"github.com/artpar/faunagate/core/schema"
	"github.com/artpar/faunagate/domain/auth"
	"github.com/artpar/faunagate/domain/billing"
	"github.com/artpar/faunagate/ports"
)

type fixture struct {
	backend  *local.Backend
	mailer   *email.MockSender
	service  *app.AuthService
	webhooks *app.WebhookService
	events   *eventRecorder
}

type eventRecorder struct {
	results map[string]int
}

func (r *eventRecorder) ObserveWebhook(eventType, result string) {
	r.results[eventType+":"+result]++
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	reg := schema.NewRegistry()
	require.NoError(t, auth.Declare(reg))
	require.NoError(t, reg.Declare(billing.Models()...))
	require.NoError(t, reg.Resolve())

	b := local.New(memory.NewDocumentStore(), local.Config{
		AdminSecret: "admin-secret",
		Hasher:      hasher.Fake{},
		IDs:         idgen.NewSequential(""),
		Clock:       clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	p := project.New(b, zerolog.Nop())
	require.NoError(t, p.AddResources(auth.Resources()...))
	require.NoError(t, p.AddResources(billing.Resources()...))
	_, err := p.Publish(ctx, ports.ImportMerge)
	require.NoError(t, err)

	key, err := authkeys.GenerateKey()
	require.NoError(t, err)
	ring, err := authkeys.NewKeyRing([]authkeys.Key{key}, authkeys.Options{Expiration: time.Hour})
	require.NoError(t, err)

	mailer := email.NewMockSender("https://api.example.com", "Houses")
	events := &eventRecorder{results: map[string]int{}}
	return fixture{
		backend:  b,
		mailer:   mailer,
		service:  app.NewAuthService(b, ring, mailer, random.NewFake(), zerolog.Nop()),
		webhooks: app.NewWebhookService(b, payment.NewDummyVerifier(), payment.MapStatus, zerolog.Nop()).WithObserver(events),
		events:   events,
	}
}

func signup(name string) auth.SignupRequest {
	return auth.SignupRequest{
		Username: name,
		Email:    name + "@example.com",
		Password: "Secret123",
	}
}

// activeUser signs a user up and activates the account.
func (f fixture) activeUser(t *testing.T, name string) *schema.Document {
	t.Helper()
	doc, err := f.service.CreateActiveUser(context.Background(), signup(name))
	require.NoError(t, err)
	return doc
}
