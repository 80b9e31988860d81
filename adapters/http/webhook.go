package http

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/artpar/faunagate/app"
	"github.com/artpar/faunagate/pkg/envelope"
)

// SignatureHeader carries the Stripe webhook signature.
const SignatureHeader = "Stripe-Signature"

// maxWebhookSize bounds webhook payloads; Stripe events stay far below it.
const maxWebhookSize = 64 << 10

// WebhookHandler receives payment provider events.
type WebhookHandler struct {
	service *app.WebhookService
	errs    *envelope.Mapper
	logger  zerolog.Logger
}

// ServeHTTP verifies and records one event.
//
//	@Summary	Stripe webhook
//	@Tags		Billing
//	@Accept		json
//	@Produce	json
//	@Param		Stripe-Signature	header	string	true	"Event signature"
//	@Success	200					"Event accepted"
//	@Failure	400					"Invalid signature or payload"
//	@Router		/stripe/webhook/ [post]
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookSize))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read webhook body")
		envelope.Fail(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := h.service.HandleWebhook(r.Context(), payload, r.Header.Get(SignatureHeader)); err != nil {
		h.errs.Error(w, err)
		return
	}
	envelope.OK(w, map[string]any{"received": true})
}
