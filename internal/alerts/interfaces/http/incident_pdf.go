package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

// BuildIncidentPDF renders a one-page incident report for an alert.
func BuildIncidentPDF(alert alerts.Alert, deliveries []DeliveryRecord) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Temperature Incident Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	line := func(label, value string) {
		if value == "" {
			return
		}
		pdf.Cell(0, 6, fmt.Sprintf("%s: %s", label, value))
		pdf.Ln(5)
	}
	line("Alert", alert.ID)
	line("Site", alert.SiteID)
	line("Unit", alert.UnitID)
	line("Rule", alert.RuleID)
	line("Status", string(alert.Status))
	line("Severity", string(alert.Severity))
	line("Peak Severity", string(alert.PeakSeverity))
	line("Breach Value", fmt.Sprintf("%.2f", alert.BreachValue))
	line("Last Value", fmt.Sprintf("%.2f", alert.LastValue))

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, "Timeline")
	pdf.Ln(6)
	pdf.SetFont("Arial", "", 10)
	line("Breach Started", formatTime(alert.BreachStartedAt))
	line("Opened", formatTime(alert.OpenedAt))
	line("Last Reading", formatTime(alert.LastReadingAt))
	if !alert.AcknowledgedAt.IsZero() {
		line("Acknowledged", fmt.Sprintf("%s by %s", formatTime(alert.AcknowledgedAt), alert.AcknowledgedBy))
	}
	if !alert.ResolvedAt.IsZero() {
		line("Resolved", formatTime(alert.ResolvedAt))
		line("Resolution", alert.ResolutionReason)
		line("Resolved By", alert.ResolvedBy)
		line("Note", alert.ResolutionNote)
	}
	if !alert.OpenedAt.IsZero() {
		end := alert.ResolvedAt
		if end.IsZero() {
			end = alert.LastReadingAt
		}
		if end.After(alert.OpenedAt) {
			line("Duration", end.Sub(alert.OpenedAt).Round(time.Second).String())
		}
	}

	if len(deliveries) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(25, 6, "Channel", "1", 0, "C", false, 0, "")
		pdf.CellFormat(55, 6, "Recipient", "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, "Kind", "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, "Status", "1", 0, "C", false, 0, "")
		pdf.CellFormat(18, 6, "Tries", "1", 0, "C", false, 0, "")
		pdf.CellFormat(42, 6, "Updated", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
		for _, d := range deliveries {
			pdf.CellFormat(25, 6, d.Channel, "1", 0, "L", false, 0, "")
			pdf.CellFormat(55, 6, d.Recipient, "1", 0, "L", false, 0, "")
			pdf.CellFormat(25, 6, d.Kind, "1", 0, "L", false, 0, "")
			pdf.CellFormat(25, 6, d.Status, "1", 0, "L", false, 0, "")
			pdf.CellFormat(18, 6, fmt.Sprintf("%d", d.Attempts), "1", 0, "R", false, 0, "")
			pdf.CellFormat(42, 6, formatTime(d.UpdatedAt), "1", 0, "L", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05Z")
}
