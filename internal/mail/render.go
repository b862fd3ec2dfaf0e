package mail

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	textTmpl = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/contact.txt.tmpl"))
	htmlTmpl = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/contact.html.tmpl"))
)

type view struct {
	Name      string
	Email     string
	Subject   string
	Body      string
	Submitted string // human readable
	Timestamp string // ISO-8601
	Year      int
	Brand     string
}

// Subject is the mail subject line for m.
func Subject(m Message) string {
	s := HeaderText(m.Subject)
	if s == "" {
		s = "Contact Form"
	}
	return s + " - from " + HeaderText(m.Name)
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// HeaderText folds line breaks into spaces so s fits on one header line.
func HeaderText(s string) string {
	return strings.TrimSpace(lineBreaks.Replace(s))
}

// Render produces the plain-text body and its HTML alternative.
func Render(m Message, brand string) (text, html string, err error) {
	at := m.SubmittedAt
	if at.IsZero() {
		at = time.Now()
	}
	v := view{
		Name:      m.Name,
		Email:     m.Email,
		Subject:   m.Subject,
		Body:      m.Body,
		Submitted: at.Format("Monday, January 2, 2006 at 03:04 PM"),
		Timestamp: at.UTC().Format(time.RFC3339),
		Year:      at.Year(),
		Brand:     brand,
	}

	var tb, hb bytes.Buffer
	if err := textTmpl.Execute(&tb, v); err != nil {
		return "", "", fmt.Errorf("render text body: %w", err)
	}
	if err := htmlTmpl.Execute(&hb, v); err != nil {
		return "", "", fmt.Errorf("render html body: %w", err)
	}
	return tb.String(), hb.String(), nil
}
