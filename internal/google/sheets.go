package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"talep/internal/models"
	"talep/internal/timezone"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ErrRowNotFound is returned when a reservation has no row in the sheet.
var ErrRowNotFound = errors.New("reservation row not found")

const lastColumn = "K"

var headers = []interface{}{
	"ID", "Kaynak ID", "Kaynak", "Tür", "Talep Eden", "Başlangıç", "Bitiş", "Durum", "Katılımcı", "Amaç", "Güncellendi",
}

var updatedRowPattern = regexp.MustCompile(`![A-Z]+(\d+)`)

// SheetsService mirrors the reservation ledger into one sheet. Column A holds
// the reservation id; row positions are cached by id.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	tz            *timezone.Normalizer
	logger        *zerolog.Logger

	rowCache map[int64]int
	cacheMu  sync.RWMutex
}

func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID, sheetName string, tz *timezone.Normalizer, logger *zerolog.Logger) (*SheetsService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newSheetsService(srv, spreadsheetID, sheetName, tz, logger), nil
}

func newSheetsService(srv *sheets.Service, spreadsheetID, sheetName string, tz *timezone.Normalizer, logger *zerolog.Logger) *SheetsService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		tz:            tz,
		logger:        logger,
		rowCache:      make(map[int64]int),
	}
}

func (s *SheetsService) cell(a1 string) string {
	return fmt.Sprintf("%s!%s", s.sheetName, a1)
}

func (s *SheetsService) rowRange(row int) string {
	return s.cell(fmt.Sprintf("A%d:%s%d", row, lastColumn, row))
}

// TestConnection reads the header cell.
func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.cell("A1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// StartCacheRefresh rebuilds the row index every interval until ctx is done.
func (s *SheetsService) StartCacheRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = models.SheetsCacheTTL * time.Second
	}
	refresh := func() {
		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := s.WarmUpCache(cctx); err != nil {
			s.logger.Warn().Err(err).Msg("sheets row cache refresh failed")
		}
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// WarmUpCache populates the row index cache by reading the entire ID column.
func (s *SheetsService) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.cell("A:A")).Context(ctx).Do()
	if err != nil {
		return err
	}

	cache := make(map[int64]int)
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if id, ok := cellID(row[0]); ok {
			cache[id] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

func cellID(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), x > 0
	case string:
		id, err := strconv.ParseInt(x, 10, 64)
		return id, err == nil && id > 0
	}
	return 0, false
}

func (s *SheetsService) rowValues(r *models.Reservation, resourceName string) []interface{} {
	participants := ""
	if r.ParticipantCount != nil {
		participants = strconv.Itoa(*r.ParticipantCount)
	}
	return []interface{}{
		r.ID,
		r.ResourceID,
		resourceName,
		string(r.ResourceKind),
		r.RequesterID,
		s.tz.FormatHuman(r.Start),
		s.tz.FormatHuman(r.End),
		string(r.Status),
		participants,
		r.Purpose,
		s.tz.FormatHuman(r.UpdatedAt),
	}
}

// AppendReservation adds a row at the end of the sheet.
func (s *SheetsService) AppendReservation(ctx context.Context, r *models.Reservation, resourceName string) error {
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{s.rowValues(r, resourceName)},
	}

	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.cell("A:A"), valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return err
	}

	if resp.Updates != nil {
		if m := updatedRowPattern.FindStringSubmatch(resp.Updates.UpdatedRange); m != nil {
			if row, err := strconv.Atoi(m[1]); err == nil {
				s.setCachedRow(r.ID, row)
			}
		}
	}
	return nil
}

// UpsertReservation rewrites the reservation's row or appends one.
func (s *SheetsService) UpsertReservation(ctx context.Context, r *models.Reservation, resourceName string) error {
	if r == nil {
		return fmt.Errorf("reservation is nil")
	}

	rowIdx, err := s.FindReservationRow(ctx, r.ID)
	if err != nil {
		if errors.Is(err, ErrRowNotFound) {
			return s.AppendReservation(ctx, r, resourceName)
		}
		return err
	}

	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{s.rowValues(r, resourceName)},
	}
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.rowRange(rowIdx), valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

// DeleteReservationRow clears the row of reservationID. A missing row is not an error.
func (s *SheetsService) DeleteReservationRow(ctx context.Context, reservationID int64) error {
	rowIdx, err := s.FindReservationRow(ctx, reservationID)
	if errors.Is(err, ErrRowNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.service.Spreadsheets.Values.Clear(s.spreadsheetID, s.rowRange(rowIdx), &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err == nil {
		s.deleteCacheRow(reservationID)
	}
	return err
}

// UpdateReservationStatus rewrites only the status and updated-at cells.
func (s *SheetsService) UpdateReservationStatus(ctx context.Context, reservationID int64, status string) error {
	rowIdx, err := s.FindReservationRow(ctx, reservationID)
	if err != nil {
		return err
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.cell(fmt.Sprintf("H%d", rowIdx)), &sheets.ValueRange{
		Values: [][]interface{}{{status}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return err
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.cell(fmt.Sprintf("K%d", rowIdx)), &sheets.ValueRange{
		Values: [][]interface{}{{s.tz.FormatHuman(time.Now())}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// FindReservationRow locates the 1-based row of reservationID in column A.
func (s *SheetsService) FindReservationRow(ctx context.Context, reservationID int64) (int, error) {
	if reservationID == 0 {
		return 0, fmt.Errorf("reservation id is required")
	}

	if row, ok := s.getCachedRow(reservationID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.cell("A:A")).Context(ctx).Do()
	if err != nil {
		return 0, err
	}

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if id, ok := cellID(row[0]); ok && id == reservationID {
			s.setCachedRow(reservationID, i+1)
			return i + 1, nil
		}
	}
	return 0, ErrRowNotFound
}

// ReplaceReservationsSheet rewrites the whole sheet: header plus one row per
// reservation. names maps resource id to display name.
func (s *SheetsService) ReplaceReservationsSheet(ctx context.Context, reservations []*models.Reservation, names map[int64]string) error {
	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, s.cell("A1:Z"), &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to clear reservations sheet: %w", err)
	}

	values := make([][]interface{}, 0, len(reservations)+1)
	values = append(values, headers)
	for _, r := range reservations {
		values = append(values, s.rowValues(r, names[r.ResourceID]))
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.cell("A1"), &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update reservations sheet: %w", err)
	}

	cache := make(map[int64]int, len(reservations))
	for i, r := range reservations {
		cache[r.ID] = i + 2
	}
	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

// GetSheetIDByName returns the numeric id of the sheet titled name.
func (s *SheetsService) GetSheetIDByName(ctx context.Context, name string) (int64, error) {
	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("unable to get spreadsheet: %w", err)
	}

	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == name {
			return sheet.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet '%s' not found", name)
}

func (s *SheetsService) getCachedRow(id int64) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *SheetsService) setCachedRow(id int64, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func (s *SheetsService) deleteCacheRow(id int64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, id)
}

// ClearCache clears the row index cache.
func (s *SheetsService) ClearCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[int64]int)
}
