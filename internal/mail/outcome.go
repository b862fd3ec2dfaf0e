// Package mail delivers contact submissions over SMTP and reports every
// attempt as an Outcome: delivered, or a failure of a known Kind.
package mail

import (
	"context"
	"time"
)

type Kind int

const (
	KindNone Kind = iota // delivered
	KindGeneric
	KindConfiguration
	KindAuthentication
	KindConnection
	KindCredentials
)

var kindNames = map[Kind]string{
	KindNone:           "delivered",
	KindGeneric:        "generic",
	KindConfiguration:  "configuration",
	KindAuthentication: "authentication",
	KindConnection:     "connection",
	KindCredentials:    "credentials",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "generic"
}

// Messages shown to the person submitting the form. They must never carry
// transport details such as host names or credentials.
var kindMessages = map[Kind]string{
	KindGeneric:        "Failed to send email. Please try again later.",
	KindConfiguration:  "Email service configuration error. Please try again later.",
	KindAuthentication: "Email authentication failed. Please check your email configuration.",
	KindConnection:     "Unable to connect to email server. Please try again later.",
	KindCredentials:    "Invalid email credentials. Please verify your app password.",
}

type Outcome struct {
	Kind    Kind
	Message string
}

func Delivered() Outcome { return Outcome{Kind: KindNone} }

func Failed(k Kind) Outcome {
	msg, ok := kindMessages[k]
	if !ok {
		k, msg = KindGeneric, kindMessages[KindGeneric]
	}
	return Outcome{Kind: k, Message: msg}
}

func (o Outcome) Delivered() bool { return o.Kind == KindNone }

// Message is one sanitized contact submission.
type Message struct {
	Name        string
	Email       string
	Subject     string
	Body        string
	SubmittedAt time.Time
}

// Dispatcher sends a Message. Delivery problems come back as a failed
// Outcome; the error is reserved for faults that are not about delivery.
type Dispatcher interface {
	Send(ctx context.Context, m Message) (Outcome, error)
}
