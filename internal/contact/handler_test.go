package contact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/folio/internal/mail"
	"github.com/AlexKimmel/folio/internal/ratelimit"
	"github.com/AlexKimmel/folio/internal/ratelimit/memory"
)

var t0 = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	out  mail.Outcome
	err  error
}

func (f *fakeMailer) Send(_ context.Context, m mail.Message) (mail.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return f.out, f.err
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, ratelimit.Policy, time.Time) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("dial tcp 10.1.2.3:6379: connect: connection refused")
}

func (failingLimiter) Peek(context.Context, string, ratelimit.Policy, time.Time) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func (failingLimiter) Close() error { return nil }

type fixture struct {
	mu       sync.Mutex
	h        *Handler
	mailer   *fakeMailer
	outcomes []string
	failures []mail.Kind
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{mailer: &fakeMailer{out: mail.Delivered()}}
	guard := ratelimit.NewGuard(memory.New(), ratelimit.DefaultPolicy(),
		ratelimit.WithClock(func() time.Time { return t0 }))
	f.h = NewHandler(guard, f.mailer, Hooks{
		OnOutcome: func(o string) {
			f.mu.Lock()
			f.outcomes = append(f.outcomes, o)
			f.mu.Unlock()
		},
		OnDeliveryFailure: func(k mail.Kind) {
			f.mu.Lock()
			f.failures = append(f.failures, k)
			f.mu.Unlock()
		},
	})
	return f
}

func jsonRequest(t *testing.T, ip string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/api/contact", bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	if ip != "" {
		r.Header.Set("X-Forwarded-For", ip)
	}
	return r
}

func validBody() map[string]any {
	return map[string]any{
		"name":    "Naveen Bisht",
		"email":   "Test@Example.com ",
		"message": "Hello, interested in collaborating.",
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHandler_SuccessSanitizesAndEchoesBudget(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()

	f.h.ServeHTTP(rec, jsonRequest(t, "203.0.113.7", validBody()))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, msgSent, resp.Message)
	require.NotNil(t, resp.Remaining)
	assert.Equal(t, 19, *resp.Remaining)

	assert.Equal(t, "20", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "19", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2026-10-17T12:30:00.000Z", rec.Header().Get("X-RateLimit-Reset"))

	require.Len(t, f.mailer.sent, 1)
	got := f.mailer.sent[0]
	assert.Equal(t, "test@example.com", got.Email)
	assert.Equal(t, "Naveen Bisht", got.Name)
	assert.Equal(t, "", got.Subject)
	assert.Equal(t, []string{OutcomeSent}, f.outcomes)
}

func TestHandler_HeaderFieldsFoldedToOneLine(t *testing.T) {
	f := newFixture(t)
	body := validBody()
	body["name"] = "Eve\r\nBcc: victim@example.org"
	body["subject"] = "Hi\r\nX-Injected: yes"
	body["message"] = "line one\nline two"
	rec := httptest.NewRecorder()

	f.h.ServeHTTP(rec, jsonRequest(t, "203.0.113.8", body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.mailer.sent, 1)
	got := f.mailer.sent[0]
	assert.Equal(t, "Eve Bcc: victim@example.org", got.Name)
	assert.Equal(t, "Hi X-Injected: yes", got.Subject)
	assert.Equal(t, "line one\nline two", got.Body, "message body keeps its line breaks")
}

func TestHandler_ValidationFailure(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()

	f.h.ServeHTTP(rec, jsonRequest(t, "203.0.113.7", map[string]any{
		"name": "A", "email": "x@y.com", "message": "hi",
	}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, msgInvalid, resp.Message)
	assert.Contains(t, resp.Errors, "name")
	assert.NotContains(t, resp.Errors, "email")
	assert.Empty(t, f.mailer.sent)
}

func TestHandler_InvalidSubmissionStillSpendsToken(t *testing.T) {
	f := newFixture(t)

	f.h.ServeHTTP(httptest.NewRecorder(), jsonRequest(t, "203.0.113.7", map[string]any{"name": "A"}))

	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, jsonRequest(t, "203.0.113.7", validBody()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 18, *decode(t, rec).Remaining)
}

func TestHandler_RateLimitedAfterTwenty(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		f.h.ServeHTTP(rec, jsonRequest(t, "198.51.100.9:5555", validBody()))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, jsonRequest(t, "198.51.100.9:6666", validBody()))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp := decode(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, msgRateLimited, resp.Message)
	assert.Equal(t, "You've reached the maximum number of submissions. Please try again in 30 minutes.", resp.Errors["form"])
	assert.Equal(t, "1800", rec.Header().Get("Retry-After"))
	assert.Equal(t, "20", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.Len(t, f.mailer.sent, 20)
	assert.Equal(t, OutcomeRateLimited, f.outcomes[len(f.outcomes)-1])
}

func TestHandler_RateLimitedBeforeBodyIsRead(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 20; i++ {
		f.h.ServeHTTP(httptest.NewRecorder(), jsonRequest(t, "198.51.100.9", map[string]any{}))
	}

	r := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader("{not json"))
	r.Header.Set("X-Forwarded-For", "198.51.100.9")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandler_LoopbackIsNeverLimited(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 30; i++ {
		rec := httptest.NewRecorder()
		f.h.ServeHTTP(rec, jsonRequest(t, "127.0.0.1", validBody()))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 20, *decode(t, rec).Remaining)
	}
}

func TestHandler_DistinctClientsConcurrently(t *testing.T) {
	f := newFixture(t)
	clients := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}

	var mu sync.Mutex
	ok := map[string]int{}
	var wg sync.WaitGroup
	for _, ip := range clients {
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func(ip string) {
				defer wg.Done()
				rec := httptest.NewRecorder()
				f.h.ServeHTTP(rec, jsonRequest(t, ip, validBody()))
				if rec.Code == http.StatusOK {
					mu.Lock()
					ok[ip]++
					mu.Unlock()
				}
			}(ip)
		}
	}
	wg.Wait()

	for _, ip := range clients {
		assert.Equal(t, 20, ok[ip], ip)
	}
}

func TestHandler_DeliveryFailureHidesSecrets(t *testing.T) {
	f := newFixture(t)
	f.mailer.out = mail.Failed(mail.KindAuthentication)
	rec := httptest.NewRecorder()

	f.h.ServeHTTP(rec, jsonRequest(t, "203.0.113.7", validBody()))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "hunter2")
	assert.NotContains(t, body, "smtp.gmail.com")

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, msgDeliveryFailed, resp.Message)
	assert.Equal(t, mail.Failed(mail.KindAuthentication).Message, resp.Errors["email"])
	assert.Equal(t, []mail.Kind{mail.KindAuthentication}, f.failures)
	assert.Equal(t, []string{OutcomeDeliveryFailed}, f.outcomes)
}

func TestHandler_UnexpectedDispatchError(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("render html body: template broke")
	rec := httptest.NewRecorder()

	f.h.ServeHTTP(rec, jsonRequest(t, "203.0.113.7", validBody()))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, msgServerError, resp.Message)
	assert.Equal(t, "render html body: template broke", resp.Errors["server"])
}

func TestHandler_LimiterErrorDoesNotLeakBackend(t *testing.T) {
	f := newFixture(t)
	f.h.guard = ratelimit.NewGuard(failingLimiter{}, ratelimit.DefaultPolicy())
	rec := httptest.NewRecorder()

	f.h.ServeHTTP(rec, jsonRequest(t, "203.0.113.7", validBody()))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.1.2.3")
	assert.Empty(t, f.mailer.sent)
}

func TestHandler_MalformedJSON(t *testing.T) {
	for _, body := range []string{"{not json", "null", "[1,2]"} {
		f := newFixture(t)
		r := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		f.h.ServeHTTP(rec, r)

		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "Request body could not be read", decode(t, rec).Errors["form"])
	}
}

func TestHandler_FormEncoded(t *testing.T) {
	f := newFixture(t)
	form := url.Values{
		"name":    {"Naveen Bisht"},
		"email":   {"Naveen@Example.com"},
		"subject": {"  Hiring  "},
		"message": {"Hello there"},
	}
	r := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Real-IP", "192.0.2.1")
	rec := httptest.NewRecorder()

	f.h.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "naveen@example.com", f.mailer.sent[0].Email)
	assert.Equal(t, "Hiring", f.mailer.sent[0].Subject)
}

func TestHandler_Multipart(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{"name": "Naveen", "email": "n@example.com", "message": "Hello there"} {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/contact", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	f.h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_StatusDoesNotSpend(t *testing.T) {
	f := newFixture(t)
	f.h.ServeHTTP(httptest.NewRecorder(), jsonRequest(t, "203.0.113.7", validBody()))

	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "/api/contact/limit", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.7")
		rec := httptest.NewRecorder()
		f.h.Status(rec, r)

		require.Equal(t, http.StatusOK, rec.Code)
		var st LimitStatus
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
		assert.Equal(t, 20, st.Limit)
		assert.Equal(t, 19, st.Remaining)
		assert.Equal(t, "2026-10-17T12:30:00.000Z", st.ResetAt)
	}
}

func TestClientIdentifier(t *testing.T) {
	cases := []struct {
		xff, real, want string
	}{
		{"1.2.3.4", "5.6.7.8", "1.2.3.4"},
		{"", "5.6.7.8", "5.6.7.8"},
		{"", "", "unknown"},
		{"  ", " 9.9.9.9 ", "9.9.9.9"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
		if tc.xff != "" {
			r.Header.Set("X-Forwarded-For", tc.xff)
		}
		if tc.real != "" {
			r.Header.Set("X-Real-IP", tc.real)
		}
		assert.Equal(t, tc.want, ClientIdentifier(r), fmt.Sprintf("xff=%q real=%q", tc.xff, tc.real))
	}
}
