package handlers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"fieldtrack/db"
	"fieldtrack/models"
)

// ReportHandler serves the daily geofence reports, raw and as downloads.
type ReportHandler struct {
	db *db.DataModel
}

func NewReportHandler(dataModel *db.DataModel) *ReportHandler {
	return &ReportHandler{
		db: dataModel,
	}
}

var reportExportHeader = []string{
	"Event #", "Type", "Timestamp", "Lat", "Lng", "Duration (ms)",
}

func reportParams(r *http.Request) (date, trackerID string, ok bool) {
	date = r.URL.Query().Get("date")
	trackerID = r.URL.Query().Get("tracker")
	if date == "" {
		date = models.DateString(time.Now())
	}
	return date, trackerID, trackerID != ""
}

// Get returns the accumulator for (date, tracker). Missing date defaults
// to today; an absent report comes back as zeros.
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	date, trackerID, ok := reportParams(r)
	if !ok {
		writeError(w, "tracker is required", http.StatusBadRequest)
		return
	}

	report, err := h.db.GetGeofenceReport(r.Context(), date, trackerID)
	if err != nil {
		log.Printf("❌ Failed to get report %s/%s: %v", date, trackerID, err)
		writeError(w, "Failed to retrieve report", statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Export downloads the report as CSV (default) or XLSX.
func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	date, trackerID, ok := reportParams(r)
	if !ok {
		writeError(w, "tracker is required", http.StatusBadRequest)
		return
	}

	report, err := h.db.GetGeofenceReport(r.Context(), date, trackerID)
	if err != nil {
		log.Printf("❌ Failed to get report %s/%s: %v", date, trackerID, err)
		writeError(w, "Failed to retrieve report", statusFor(err))
		return
	}

	filename := fmt.Sprintf("geofence_%s_%s", date, trackerID)
	switch r.URL.Query().Get("format") {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`.csv"`)
		if err := writeReportCSV(w, report); err != nil {
			log.Printf("❌ Failed to generate CSV: %v", err)
		}
	case "xlsx":
		data, err := buildReportXLSX(date, trackerID, report)
		if err != nil {
			log.Printf("❌ Failed to generate XLSX: %v", err)
			writeError(w, "Failed to generate export", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`.xlsx"`)
		w.Write(data)
	default:
		writeError(w, "format must be csv or xlsx", http.StatusBadRequest)
	}
}

func eventRow(i int, ev models.GeofenceEvent) []string {
	typ := "RETURN"
	if ev.IsExit {
		typ = "EXIT"
	}
	return []string{
		strconv.Itoa(i + 1),
		typ,
		time.UnixMilli(ev.Ts).UTC().Format(time.RFC3339),
		strconv.FormatFloat(ev.Lat, 'f', 6, 64),
		strconv.FormatFloat(ev.Lng, 'f', 6, 64),
		strconv.FormatInt(ev.DurationMs, 10),
	}
}

func writeReportCSV(w http.ResponseWriter, report models.GeofenceDailyReport) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(reportExportHeader); err != nil {
		return err
	}
	for i, ev := range report.Events {
		if err := writer.Write(eventRow(i, ev)); err != nil {
			return err
		}
	}
	return writer.Write([]string{
		"", "TOTALS", "",
		strconv.Itoa(report.TotalOutsideCount) + " exits", "",
		strconv.FormatInt(report.TotalOutsideDurationMs, 10),
	})
}

func buildReportXLSX(date, trackerID string, report models.GeofenceDailyReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Geofence Report"
	f.SetSheetName("Sheet1", sheet)

	f.SetCellValue(sheet, "A1", "Date")
	f.SetCellValue(sheet, "B1", date)
	f.SetCellValue(sheet, "A2", "Tracker")
	f.SetCellValue(sheet, "B2", trackerID)
	f.SetCellValue(sheet, "A3", "Total exits")
	f.SetCellValue(sheet, "B3", report.TotalOutsideCount)
	f.SetCellValue(sheet, "A4", "Total outside (ms)")
	f.SetCellValue(sheet, "B4", report.TotalOutsideDurationMs)

	for col, title := range reportExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 6)
		if err != nil {
			return nil, err
		}
		f.SetCellValue(sheet, cell, title)
	}
	for i, ev := range report.Events {
		for col, value := range eventRow(i, ev) {
			cell, err := excelize.CoordinatesToCellName(col+1, i+7)
			if err != nil {
				return nil, err
			}
			f.SetCellValue(sheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
