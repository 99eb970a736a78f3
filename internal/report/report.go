// Package report renders a session's progress as an XLSX workbook.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-quest/internal/progress"
)

const (
	SummarySheet = "Summary"
	TopicsSheet  = "Topics"

	// ContentType is the MIME type of the workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Status labels used in the topics sheet.
const (
	StatusCompleted = "Completed"
	StatusAvailable = "Available"
	StatusLocked    = "Locked"
)

// TopicStatus returns the label for a topic.
func TopicStatus(t progress.Topic) string {
	switch {
	case t.Completed:
		return StatusCompleted
	case t.Locked:
		return StatusLocked
	default:
		return StatusAvailable
	}
}

// Write renders st as a workbook with a summary and a topics sheet.
func Write(w io.Writer, st progress.State, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(TopicsSheet); err != nil {
		return fmt.Errorf("create topics sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	summary := [][]any{
		{"Subject", st.SubjectName},
		{"Level", st.Level},
		{"XP", st.XP},
		{"Level threshold", st.LevelThreshold},
		{"Total XP", st.TotalXP},
		{"Topics completed", fmt.Sprintf("%d/%d", st.CompletedCount, st.TotalTopics)},
		{"Progress", fmt.Sprintf("%.0f%%", st.ProgressPercent)},
		{"Generated", generatedAt.UTC().Format(time.RFC3339)},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", fmt.Sprintf("A%d", len(summary)), bold); err != nil {
		return fmt.Errorf("style summary: %w", err)
	}
	if err := f.SetColWidth(SummarySheet, "A", "A", 20); err != nil {
		return fmt.Errorf("size summary: %w", err)
	}

	header := []any{"#", "Topic", "Description", "XP", "Status"}
	if err := f.SetSheetRow(TopicsSheet, "A1", &header); err != nil {
		return fmt.Errorf("write topics header: %w", err)
	}
	if err := f.SetCellStyle(TopicsSheet, "A1", "E1", bold); err != nil {
		return fmt.Errorf("style topics header: %w", err)
	}
	for i, t := range st.Topics {
		row := []any{i + 1, t.Title, t.Description, t.XPReward, TopicStatus(t)}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(TopicsSheet, cell, &row); err != nil {
			return fmt.Errorf("write topic %s: %w", t.ID, err)
		}
	}
	if err := f.SetColWidth(TopicsSheet, "B", "C", 40); err != nil {
		return fmt.Errorf("size topics: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Filename is the download name for a subject's report.
func Filename(subjectID string) string {
	if subjectID == "" {
		return "progress.xlsx"
	}
	return subjectID + "-progress.xlsx"
}
