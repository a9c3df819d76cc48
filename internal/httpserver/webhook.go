package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"courier/internal/providers/ses"
	"courier/internal/reconcile"
	"courier/internal/sns"
)

type Reconciler interface {
	Reconcile(ctx context.Context, env *sns.Envelope) (reconcile.Outcome, error)
}

// Webhook terminates the SNS HTTPS subscription for SES delivery
// notifications. Rejections are deliberate: SNS retries anything non-2xx, so
// 4xx is reserved for requests that will never succeed.
type Webhook struct {
	Reconciler   Reconciler
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 256 << 10

func (wh *Webhook) Register(r *mux.Router) {
	r.HandleFunc("/events/sns", wh.handleSNS).Methods(http.MethodPost)
}

func (wh *Webhook) handleSNS(w http.ResponseWriter, r *http.Request) {
	limit := wh.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	// SNS posts the envelope as text/plain; decode the body regardless of
	// Content-Type.
	var env sns.Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(&env); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}

	out, err := wh.Reconciler.Reconcile(r.Context(), &env)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrTopicNotAllowed):
			http.Error(w, ErrForbiddenSource, http.StatusForbidden)
		case errors.Is(err, reconcile.ErrSignatureInvalid):
			http.Error(w, ErrInvalidSignature, http.StatusForbidden)
		case errors.Is(err, reconcile.ErrUnsupportedType),
			errors.Is(err, reconcile.ErrMissingSubscribeURL),
			errors.Is(err, ses.ErrMissingPayload),
			errors.Is(err, ses.ErrInvalidPayload):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			slog.Error("reconcile failed", "err", err, "sns_message_id", env.MessageID)
			http.Error(w, ErrDependency, http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, out)
}
