package contact

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/folio/internal/gateway"
	"github.com/AlexKimmel/folio/internal/mail"
	"github.com/AlexKimmel/folio/internal/ratelimit"
)

const (
	OutcomeSent           = "sent"
	OutcomeRateLimited    = "rate_limited"
	OutcomeInvalid        = "invalid"
	OutcomeDeliveryFailed = "delivery_failed"
	OutcomeError          = "error"
)

const (
	msgSent           = "Thank you for your message. We will get back to you soon."
	msgInvalid        = "Invalid form data"
	msgRateLimited    = "Rate limit exceeded. Please try again later."
	msgDeliveryFailed = "Failed to send your message. Please try again later."
	msgServerError    = "An error occurred while processing your message"
)

const maxMultipartMemory = 32 << 10

type Response struct {
	Message   string            `json:"message"`
	Success   bool              `json:"success"`
	Remaining *int              `json:"remaining,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}

type LimitStatus struct {
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"resetAt"`
}

// Hooks observe what happened to each submission. Any of them may be nil.
type Hooks struct {
	OnOutcome         func(outcome string)
	OnLimiterError    func()
	OnDeliveryFailure func(kind mail.Kind)
}

type Handler struct {
	guard  *ratelimit.Guard
	mailer mail.Dispatcher
	hooks  Hooks
}

func NewHandler(guard *ratelimit.Guard, mailer mail.Dispatcher, hooks Hooks) *Handler {
	return &Handler{guard: guard, mailer: mailer, hooks: hooks}
}

// ClientIdentifier picks the address the rate limiter keys on.
func ClientIdentifier(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	return ratelimit.UnknownClient
}

// ServeHTTP runs one submission: rate-gate, validate, dispatch. A spent
// token is not refunded when validation or delivery fails afterwards.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	id := ClientIdentifier(r)

	dec, err := h.guard.Check(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("client", id).Msg("rate limiter failed")
		if h.hooks.OnLimiterError != nil {
			h.hooks.OnLimiterError()
		}
		h.respond(w, OutcomeError, http.StatusInternalServerError, Response{
			Message: msgServerError,
			Errors:  map[string]string{"server": "Rate limiter unavailable"},
		})
		return
	}

	if !dec.Allowed {
		minutes := gateway.WaitMinutes(dec, h.guard.Now())
		gateway.RateLimitHeaders(w.Header(), dec)
		gateway.RetryAfter(w.Header(), minutes)
		log.Warn().Str("client", ratelimit.ClientKey(id)).Int("wait_min", minutes).Msg("contact rate limited")
		h.respond(w, OutcomeRateLimited, http.StatusTooManyRequests, Response{
			Message: msgRateLimited,
			Errors: map[string]string{
				"form": fmt.Sprintf("You've reached the maximum number of submissions. Please try again in %d minutes.", minutes),
			},
		})
		return
	}

	fields, err := decodeFields(r)
	if err != nil {
		log.Debug().Err(err).Msg("undecodable contact body")
		h.respond(w, OutcomeInvalid, http.StatusBadRequest, Response{
			Message: msgInvalid,
			Errors:  map[string]string{"form": bodyError(err)},
		})
		return
	}

	if v := Validate(fields); !v.Valid {
		h.respond(w, OutcomeInvalid, http.StatusBadRequest, Response{
			Message: msgInvalid,
			Errors:  v.Errors,
		})
		return
	}

	sub := Sanitize(fields)
	out, err := h.mailer.Send(r.Context(), mail.Message{
		Name:    sub.Name,
		Email:   sub.Email,
		Subject: sub.Subject,
		Body:    sub.Message,
	})
	if err != nil {
		log.Error().Err(err).Msg("contact dispatch failed")
		h.respond(w, OutcomeError, http.StatusInternalServerError, Response{
			Message: msgServerError,
			Errors:  map[string]string{"server": err.Error()},
		})
		return
	}

	switch out.Kind {
	case mail.KindNone:
		gateway.RateLimitHeaders(w.Header(), dec)
		remaining := dec.Remaining
		h.respond(w, OutcomeSent, http.StatusOK, Response{
			Message:   msgSent,
			Success:   true,
			Remaining: &remaining,
		})
	case mail.KindGeneric, mail.KindConfiguration, mail.KindAuthentication, mail.KindConnection, mail.KindCredentials:
		if h.hooks.OnDeliveryFailure != nil {
			h.hooks.OnDeliveryFailure(out.Kind)
		}
		h.respond(w, OutcomeDeliveryFailed, http.StatusInternalServerError, Response{
			Message: msgDeliveryFailed,
			Errors:  map[string]string{"email": out.Message},
		})
	default:
		h.respond(w, OutcomeError, http.StatusInternalServerError, Response{
			Message: msgServerError,
			Errors:  map[string]string{"server": "Unknown error"},
		})
	}
}

// Status reports the caller's remaining budget without spending any.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := ClientIdentifier(r)
	dec, err := h.guard.Status(r.Context(), id)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("client", id).Msg("rate limiter failed")
		if h.hooks.OnLimiterError != nil {
			h.hooks.OnLimiterError()
		}
		gateway.WriteJSON(w, http.StatusInternalServerError, Response{
			Message: msgServerError,
			Errors:  map[string]string{"server": "Rate limiter unavailable"},
		})
		return
	}
	gateway.RateLimitHeaders(w.Header(), dec)
	gateway.WriteJSON(w, http.StatusOK, LimitStatus{
		Limit:     dec.Limit,
		Remaining: dec.Remaining,
		ResetAt:   dec.ResetAt.UTC().Format(gateway.ISOMillis),
	})
}

func (h *Handler) respond(w http.ResponseWriter, outcome string, code int, resp Response) {
	if h.hooks.OnOutcome != nil {
		h.hooks.OnOutcome(outcome)
	}
	gateway.WriteJSON(w, code, resp)
}

var errNotObject = errors.New("body is not a JSON object")

func decodeFields(r *http.Request) (map[string]any, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		var err error
		if ct == "multipart/form-data" {
			err = r.ParseMultipartForm(maxMultipartMemory)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			return nil, err
		}
		fields := map[string]any{}
		for _, k := range []string{"name", "email", "subject", "message"} {
			if r.PostForm.Has(k) {
				fields[k] = r.PostForm.Get(k)
			}
		}
		return fields, nil
	default:
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			return nil, err
		}
		if fields == nil {
			return nil, errNotObject
		}
		return fields, nil
	}
}

func bodyError(err error) string {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return "Request body is too large"
	}
	return "Request body could not be read"
}
