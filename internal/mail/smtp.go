package mail

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	gomail "github.com/wneessen/go-mail"
	"golang.org/x/time/rate"

	"github.com/AlexKimmel/folio/internal/config"
)

// transport is the part of *gomail.Client a delivery needs.
type transport interface {
	DialWithContext(ctx context.Context) error
	Send(messages ...*gomail.Msg) error
	Close() error
}

type SMTP struct {
	cfg       config.Mail
	throttle  *rate.Limiter
	now       func() time.Time
	transport func(config.Mail) (transport, error)
}

type Option func(*SMTP)

func WithClock(now func() time.Time) Option {
	return func(s *SMTP) { s.now = now }
}

func withTransport(fn func(config.Mail) (transport, error)) Option {
	return func(s *SMTP) { s.transport = fn }
}

func NewSMTP(cfg config.Mail, opts ...Option) *SMTP {
	s := &SMTP{
		cfg:       cfg,
		now:       time.Now,
		transport: newClient,
	}
	if cfg.MaxPerMinute > 0 {
		s.throttle = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.MaxPerMinute)), max(cfg.Burst, 1))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newClient(cfg config.Mail) (transport, error) {
	c, err := gomail.NewClient(cfg.Host,
		gomail.WithPort(cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.Username),
		gomail.WithPassword(cfg.Password),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(cfg.Timeout()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create smtp client")
	}
	return c, nil
}

// Send verifies the connection and then delivers m. A fresh client is used
// per call so concurrent submissions never share a connection.
func (s *SMTP) Send(ctx context.Context, m Message) (Outcome, error) {
	log := zerolog.Ctx(ctx)

	if missing := s.cfg.Missing(); len(missing) > 0 {
		log.Error().Strs("missing", missing).Msg("smtp not configured")
		return Failed(KindConfiguration), nil
	}
	if m.SubmittedAt.IsZero() {
		m.SubmittedAt = s.now()
	}

	msg, err := s.compose(ctx, m)
	if err != nil {
		var kindErr *composeError
		if errors.As(err, &kindErr) {
			log.Error().Err(err).Msg("compose notification")
			return Failed(KindConfiguration), nil
		}
		return Outcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
	defer cancel()

	if s.throttle != nil {
		if err := s.throttle.Wait(ctx); err != nil {
			log.Warn().Err(err).Msg("outbound mail throttled")
			return Failed(KindGeneric), nil
		}
	}

	c, out := s.dial(ctx)
	if !out.Delivered() {
		return out, nil
	}
	defer func() { _ = c.Close() }()

	if err := c.Send(msg); err != nil {
		err = errors.Wrap(err, "send message")
		kind := Classify(err, KindGeneric)
		log.Error().Err(err).Str("kind", kind.String()).Msg("mail delivery failed")
		return Failed(kind), nil
	}

	log.Info().Str("reply_to", m.Email).Msg("contact mail delivered")
	return Delivered(), nil
}

// Verify dials and authenticates without sending anything.
func (s *SMTP) Verify(ctx context.Context) Outcome {
	if len(s.cfg.Missing()) > 0 {
		return Failed(KindConfiguration)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
	defer cancel()

	c, out := s.dial(ctx)
	if out.Delivered() {
		_ = c.Close()
	}
	return out
}

// dial returns a connected transport, or the failure that prevented it.
// Failures nothing more specific matches count as configuration problems.
func (s *SMTP) dial(ctx context.Context) (transport, Outcome) {
	log := zerolog.Ctx(ctx)

	c, err := s.transport(s.cfg)
	if err != nil {
		log.Error().Err(err).Msg("smtp client setup failed")
		return nil, Failed(KindConfiguration)
	}
	if err := c.DialWithContext(ctx); err != nil {
		err = errors.Wrap(err, "verify smtp connection")
		kind := Classify(err, KindConfiguration)
		log.Error().Err(err).Str("kind", kind.String()).Msg("smtp verify failed")
		return nil, Failed(kind)
	}
	return c, Delivered()
}

type composeError struct{ err error }

func (e *composeError) Error() string { return e.err.Error() }
func (e *composeError) Unwrap() error { return e.err }

func (s *SMTP) compose(ctx context.Context, m Message) (*gomail.Msg, error) {
	text, html, err := Render(m, s.cfg.Brand)
	if err != nil {
		return nil, err
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(HeaderText(m.Name), s.cfg.Username); err != nil {
		return nil, &composeError{errors.Wrap(err, "set sender")}
	}
	if err := msg.To(s.cfg.To); err != nil {
		return nil, &composeError{errors.Wrap(err, "set recipient")}
	}
	if err := msg.ReplyTo(m.Email); err != nil {
		// The form check is lax; a reply address the mail library rejects
		// is dropped rather than failing the submission.
		zerolog.Ctx(ctx).Warn().Err(err).Msg("reply-to rejected")
	}
	msg.Subject(Subject(m))
	msg.SetMessageIDWithValue(uuid.NewString() + "@folio")
	msg.SetDateWithValue(m.SubmittedAt)
	msg.SetBodyString(gomail.TypeTextPlain, text)
	msg.AddAlternativeString(gomail.TypeTextHTML, html)
	return msg, nil
}
