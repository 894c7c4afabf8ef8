package application

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
)

// DefaultSubjectTemplate renders the email subject line.
const DefaultSubjectTemplate = `[FreshTrack] {{.EventLabel}}: {{.Unit}} ({{.Severity}})`

// DefaultTemplate renders the message body for every channel.
const DefaultTemplate = `[Temperature Alert {{.EventLabel}}]
Unit: {{.Unit}}
Reading: {{.Value}}
Severity: {{.Severity}}
Status: {{.Status}}
Time: {{.OccurredAt}}
{{- if .Reason }}
Reason: {{.Reason}}
{{- end }}
Action: {{.Suggestion}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	AlertID    string
	Unit       string
	UnitID     string
	RuleID     string
	Value      string
	Severity   string
	Status     string
	OccurredAt string
	Reason     string
	Event      string
	EventLabel string
	Kind       string
	Suggestion string
}

// Template renders notification subject and body.
type Template struct {
	subject *template.Template
	body    *template.Template
}

// NewTemplate parses a body template, falling back to DefaultTemplate.
func NewTemplate(body string) (*Template, error) {
	if body == "" {
		body = DefaultTemplate
	}
	parsedBody, err := template.New("notification-body").Parse(body)
	if err != nil {
		return nil, err
	}
	parsedSubject, err := template.New("notification-subject").Parse(DefaultSubjectTemplate)
	if err != nil {
		return nil, err
	}
	return &Template{subject: parsedSubject, body: parsedBody}, nil
}

// Render applies the templates to data.
func (t *Template) Render(data TemplateData) (subject, body string, err error) {
	if t == nil || t.body == nil {
		return "", "", errors.New("notification template: nil")
	}
	var buf bytes.Buffer
	if err := t.subject.Execute(&buf, data); err != nil {
		return "", "", err
	}
	subject = buf.String()
	buf.Reset()
	if err := t.body.Execute(&buf, data); err != nil {
		return "", "", err
	}
	return subject, buf.String(), nil
}

func buildTemplateData(event alerts.Event, unitName string, kind notifications.Kind) TemplateData {
	if unitName == "" {
		unitName = event.UnitID
	}
	label := eventLabel(event.Type)
	if kind == notifications.KindReminder {
		label = "Still Unacknowledged"
	}
	return TemplateData{
		AlertID:    event.AlertID,
		Unit:       unitName,
		UnitID:     event.UnitID,
		RuleID:     event.RuleID,
		Value:      formatFloat(event.Value),
		Severity:   string(event.Severity),
		Status:     string(event.Status),
		OccurredAt: event.OccurredAt.UTC().Format(time.RFC3339),
		Reason:     event.Reason,
		Event:      string(event.Type),
		EventLabel: label,
		Kind:       string(kind),
		Suggestion: suggestionFor(event),
	}
}

func eventLabel(eventType alerts.EventType) string {
	switch eventType {
	case alerts.EventAlertTriggered:
		return "Triggered"
	case alerts.EventAlertResolved:
		return "Resolved"
	default:
		return string(eventType)
	}
}

func suggestionFor(event alerts.Event) string {
	if event.Type == alerts.EventAlertResolved {
		return "No action needed; the unit is back in range."
	}
	switch event.Severity {
	case alerts.SeverityCritical:
		return "Check the unit immediately and move product if it cannot be brought back in range."
	case alerts.SeverityWarning:
		return "Inspect the unit door and compressor."
	default:
		return "Monitor the unit."
	}
}

func formatFloat(value float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", value), "0"), ".")
}
