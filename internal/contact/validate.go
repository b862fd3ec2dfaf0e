// Package contact handles portfolio contact-form submissions: it checks the
// sender's budget, validates the fields and hands the result to a mail
// dispatcher.
package contact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// emailPattern is a shape check only (something@something.tld). It accepts
// plenty that RFC 5322 would not.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	nameMin, nameMax       = 2, 100
	messageMin, messageMax = 2, 2000
)

type Validation struct {
	Valid  bool
	Errors map[string]string
}

// Submission is a validated form with whitespace trimmed, the email
// lower-cased and line breaks in the name and subject folded to spaces.
type Submission struct {
	Name    string
	Email   string
	Subject string
	Message string
}

// str returns the trimmed string under key; non-strings count as absent.
func str(fields map[string]any, key string) (string, bool) {
	s, ok := fields[key].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func Validate(fields map[string]any) Validation {
	errs := map[string]string{}

	if name, ok := str(fields, "name"); !ok {
		errs["name"] = "Name is required"
	} else if n := utf8.RuneCountInString(name); n < nameMin || n > nameMax {
		errs["name"] = "Name must be between 2 and 100 characters"
	}

	if email, ok := str(fields, "email"); !ok {
		errs["email"] = "Email is required"
	} else if !emailPattern.MatchString(email) {
		errs["email"] = "Invalid email format"
	}

	if msg, ok := str(fields, "message"); !ok {
		errs["message"] = "Message is required"
	} else if n := utf8.RuneCountInString(msg); n < messageMin || n > messageMax {
		errs["message"] = "Message must be between 2 and 2000 characters"
	}

	return Validation{Valid: len(errs) == 0, Errors: errs}
}

func Sanitize(fields map[string]any) Submission {
	name, _ := str(fields, "name")
	email, _ := str(fields, "email")
	subject, _ := str(fields, "subject")
	msg, _ := str(fields, "message")
	return Submission{
		Name:    oneLine(name),
		Email:   strings.ToLower(email),
		Subject: oneLine(subject),
		Message: msg,
	}
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func oneLine(s string) string { return lineBreaks.Replace(s) }
