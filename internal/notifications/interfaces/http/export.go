package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
)

var jobColumns = []string{
	"Job", "Alert", "Unit", "Rule", "Transition", "Kind", "Channel", "Recipient",
	"Status", "Attempts", "Last Error", "Error Tier", "Next Attempt", "Created",
}

// BuildJobsXLSX renders notification jobs for offline triage.
func BuildJobsXLSX(jobs []notifications.Job, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	summarySheet := "summary"
	jobsSheet := "jobs"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(jobsSheet); err != nil {
		return nil, err
	}

	counts := make(map[notifications.JobStatus]int)
	for _, job := range jobs {
		counts[job.Status]++
	}
	_ = f.SetCellValue(summarySheet, "A1", "Notification Jobs")
	_ = f.SetCellValue(summarySheet, "A3", "Generated")
	_ = f.SetCellValue(summarySheet, "B3", generatedAt.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Total")
	_ = f.SetCellValue(summarySheet, "B4", len(jobs))
	row := 5
	for _, status := range []notifications.JobStatus{notifications.StatusHeld, notifications.StatusFailed, notifications.StatusRetrying, notifications.StatusPending} {
		if counts[status] == 0 {
			continue
		}
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), string(status))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), counts[status])
		row++
	}

	for i, title := range jobColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(jobsSheet, cell, title)
	}
	for i, job := range jobs {
		values := []any{
			job.ID, job.AlertID, job.UnitID, job.RuleID, string(job.Transition), string(job.Kind),
			string(job.Channel), job.Recipient, string(job.Status), job.AttemptCount, job.LastError,
			string(job.LastErrorTier), formatTime(job.NextAttemptAt), formatTime(job.CreatedAt),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(jobsSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
