package export

import (
	"fmt"
	"io"
	"time"

	"talep/internal/models"
	"talep/internal/timezone"

	"github.com/xuri/excelize/v2"
)

const reportSheet = "Talepler"

var reportHeaders = []string{
	"ID", "Kaynak", "Tür", "Talep Eden", "Başlangıç", "Bitiş", "Durum", "Katılımcı", "Amaç", "Not",
}

var statusLabels = map[models.ReservationStatus]string{
	models.StatusPending:   "Beklemede",
	models.StatusApproved:  "Onaylandı",
	models.StatusRejected:  "Reddedildi",
	models.StatusCancelled: "İptal edildi",
}

var statusFills = map[models.ReservationStatus]string{
	models.StatusPending:   "#FFF2CC",
	models.StatusApproved:  "#E2EFDA",
	models.StatusRejected:  "#F8CBAD",
	models.StatusCancelled: "#EDEDED",
}

// StatusLabel is the Turkish display name of a status.
func StatusLabel(s models.ReservationStatus) string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// Entry is one report row: a reservation with its display names resolved.
type Entry struct {
	Reservation   *models.Reservation
	ResourceName  string
	RequesterName string
}

// WriteReservationsXLSX renders entries for the [from, to) window as an
// Excel workbook with a single sheet.
func WriteReservationsXLSX(w io.Writer, entries []Entry, from, to time.Time, tz *timezone.Normalizer) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(reportSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("error deleting default sheet: %w", err)
	}

	lastCol, _ := excelize.ColumnNumberToName(len(reportHeaders))

	_ = f.SetCellValue(reportSheet, "A1", fmt.Sprintf("Dönem: %s - %s", tz.FormatHuman(from), tz.FormatHuman(to)))
	_ = f.MergeCell(reportSheet, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(reportSheet, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range reportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(reportSheet, cell, h)
	}
	_ = f.SetCellStyle(reportSheet, "A2", lastCol+"2", headerStyle)

	styles := make(map[models.ReservationStatus]int, len(statusFills))
	for status, color := range statusFills {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err == nil {
			styles[status] = id
		}
	}

	for i, e := range entries {
		row := i + 3
		r := e.Reservation
		participants := ""
		if r.ParticipantCount != nil {
			participants = fmt.Sprint(*r.ParticipantCount)
		}
		requester := e.RequesterName
		if requester == "" {
			requester = fmt.Sprintf("#%d", r.RequesterID)
		}

		values := []interface{}{
			r.ID,
			e.ResourceName,
			string(r.ResourceKind),
			requester,
			tz.FormatHuman(r.Start),
			tz.FormatHuman(r.End),
			StatusLabel(r.Status),
			participants,
			r.Purpose,
			r.Notes,
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(reportSheet, start, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}
		if style, ok := styles[r.Status]; ok {
			end, _ := excelize.CoordinatesToCellName(len(reportHeaders), row)
			_ = f.SetCellStyle(reportSheet, start, end, style)
		}
	}

	_ = f.SetColWidth(reportSheet, "A", "A", 8)
	_ = f.SetColWidth(reportSheet, "B", "B", 28)
	_ = f.SetColWidth(reportSheet, "C", "H", 18)
	_ = f.SetColWidth(reportSheet, "I", lastCol, 32)
	_ = f.SetPanes(reportSheet, &excelize.Panes{Freeze: true, YSplit: 2, TopLeftCell: "A3", ActivePane: "bottomLeft"})

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}
