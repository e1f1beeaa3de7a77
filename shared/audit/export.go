package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"venuebook/internal/models"
)

// BookingSource provides the bookings to export.
type BookingSource interface {
	ListVenueIDs(ctx context.Context) ([]string, error)
	ListBookingsByDateRange(ctx context.Context, venueID, from, to string) ([]models.Booking, error)
}

var reportColumns = []string{
	"Booking ID", "Code", "Date", "Start", "End", "User",
	"Type", "Court", "Status", "Payment", "Total", "Currency",
}

// ReportWriter builds an Excel workbook with one sheet per venue.
type ReportWriter struct {
	file       *excelize.File
	firstSheet bool
}

// NewReportWriter creates an empty workbook.
func NewReportWriter() *ReportWriter {
	return &ReportWriter{file: excelize.NewFile(), firstSheet: true}
}

// AddVenueSheet writes the venue's bookings as one sheet.
func (w *ReportWriter) AddVenueSheet(venueID string, bookings []models.Booking) error {
	name := venueID
	// Excel caps sheet names at 31 characters.
	if len(name) > 31 {
		name = name[:31]
	}

	if w.firstSheet {
		w.file.SetSheetName("Sheet1", name)
		w.firstSheet = false
	} else {
		if _, err := w.file.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	if err := w.writeRow(name, 1, headerCells()); err != nil {
		return err
	}
	if style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, 1)
		endCell, _ := excelize.CoordinatesToCellName(len(reportColumns), 1)
		_ = w.file.SetCellStyle(name, startCell, endCell, style)
	}

	for i, b := range bookings {
		row := []any{
			b.ID, b.BookingCode, b.Date, b.StartTime, b.EndTime, b.UserID,
			b.BookingType, b.CourtNumber, b.Status, b.PaymentStatus,
			float64(b.Price.TotalAmount) / 100, b.Price.Currency,
		}
		if err := w.writeRow(name, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func headerCells() []any {
	cells := make([]any, len(reportColumns))
	for i, c := range reportColumns {
		cells[i] = c
	}
	return cells
}

func (w *ReportWriter) writeRow(sheet string, rowNum int, values []any) error {
	for i, val := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, rowNum)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(sheet, cell, val); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the workbook to the writer.
func (w *ReportWriter) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

// SaveToFile writes the workbook to disk.
func (w *ReportWriter) SaveToFile(path string) error {
	return w.file.SaveAs(path)
}

// Close releases workbook resources.
func (w *ReportWriter) Close() error {
	return w.file.Close()
}

// MonthRange returns the first and last date of t's month as
// "YYYY-MM-DD" strings.
func MonthRange(t time.Time) (string, string) {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return models.FormatDate(first), models.FormatDate(last)
}

// ReportFilename creates a filename like "bookings_2026-08.xlsx".
func ReportFilename(t time.Time) string {
	return fmt.Sprintf("bookings_%s.xlsx", t.Format("2006-01"))
}
