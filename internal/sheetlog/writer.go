// Package sheetlog persists call records to the Google Sheets log that the
// brokerage team works from. Appends are deduplicated by call id and retried
// with backoff, so an upstream webhook retry or a rate-limited API call never
// produces a duplicate or dropped row.
package sheetlog

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/sheets/v4"

	"github.com/SumitKumar-17/cre-agent/internal/apperror"
	"github.com/SumitKumar-17/cre-agent/internal/config"
	"github.com/SumitKumar-17/cre-agent/internal/model"
)

const (
	sheetName   = "Calls"
	headerRange = "Calls!A1:G1"
	// Rows span A:H — seven human-facing columns plus the call id in H,
	// which the dedup check reads and the dashboard ignores.
	appendRange = "Calls!A2:H"
	dedupRange  = "Calls!H2:H"
	readRange   = "Calls!A2:H"
)

var headerRow = []interface{}{"Timestamp", "Name", "Role", "Inquiry", "Market", "Phone", "Notes"}

// Outcome is the result of one successful Write.
type Outcome struct {
	// RowRef is the store-assigned range of the appended row.
	RowRef string
	// Duplicate is set when the call id was already present and the write
	// was skipped.
	Duplicate bool
}

// Writer appends call records to the "Calls" worksheet.
type Writer struct {
	log         *zap.Logger
	svc         *sheets.Service
	sheetID     string
	attempts    int
	baseDelay   time.Duration
	dedupWindow int

	mu           sync.Mutex
	bootstrapped bool
	// nextRow is the first row after the last known data row, maintained
	// from append responses so dedup reads stay bounded. Zero means not
	// yet known; the next dedup check then reads the full column once.
	nextRow int64
}

// New creates a Writer over an authenticated sheets service.
func New(svc *sheets.Service, cfg *config.Config, log *zap.Logger) *Writer {
	return &Writer{
		log:         log,
		svc:         svc,
		sheetID:     cfg.SheetID,
		attempts:    cfg.WriteAttempts,
		baseDelay:   cfg.RetryBaseDelay,
		dedupWindow: cfg.DedupWindowRows,
	}
}

// Write appends the record exactly once. A call id already present in the
// recent window is a success-no-op; transient store errors are retried with
// exponential backoff up to the attempt ceiling.
func (w *Writer) Write(ctx context.Context, rec model.CallRecord) (Outcome, error) {
	var out Outcome
	err := w.withRetry(ctx, func() error {
		if err := w.ensureSheet(ctx); err != nil {
			return err
		}

		dup, err := w.seen(ctx, rec.CallID)
		if err != nil {
			return err
		}
		if dup {
			out = Outcome{Duplicate: true}
			return nil
		}

		ref, err := w.append(ctx, rec)
		if err != nil {
			return err
		}
		out = Outcome{RowRef: ref}
		return nil
	})
	return out, err
}

// ReadRecent returns up to limit of the newest records in the log.
func (w *Writer) ReadRecent(ctx context.Context, limit int) ([]model.CallRecord, error) {
	resp, err := w.svc.Spreadsheets.Values.Get(w.sheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read recent calls: %w", err)
	}

	rows := resp.Values
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}

	records := make([]model.CallRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, recordFromRow(row))
	}
	return records, nil
}

func (w *Writer) withRetry(ctx context.Context, op func() error) error {
	var err error
	delay := w.baseDelay
	for attempt := 1; attempt <= w.attempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !apperror.RetryableStore(err) {
			return err
		}
		if attempt == w.attempts {
			break
		}

		w.log.Warn("sheet write failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("sheet write: attempts exhausted: %w", err)
}

// ensureSheet makes sure the Calls worksheet exists with its header row.
// Safe to race across instances: losing the AddSheet race is success, and
// rewriting the static header is harmless.
func (w *Writer) ensureSheet(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.bootstrapped {
		return nil
	}

	meta, err := w.svc.Spreadsheets.Get(w.sheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}

	exists := false
	for _, s := range meta.Sheets {
		if s.Properties != nil && s.Properties.Title == sheetName {
			exists = true
			break
		}
	}

	if !exists {
		req := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{Title: sheetName},
				},
			}},
		}
		if _, err := w.svc.Spreadsheets.BatchUpdate(w.sheetID, req).Context(ctx).Do(); err != nil {
			if apperror.RetryableStore(err) {
				return fmt.Errorf("add sheet: %w", err)
			}
			// A concurrent instance created it first.
			w.log.Info("sheet already created elsewhere", zap.String("sheet", sheetName))
		} else {
			w.log.Info("created worksheet", zap.String("sheet", sheetName))
		}
	}

	if err := w.writeHeaderIfEmpty(ctx); err != nil {
		return err
	}

	w.bootstrapped = true
	return nil
}

func (w *Writer) writeHeaderIfEmpty(ctx context.Context) error {
	resp, err := w.svc.Spreadsheets.Values.Get(w.sheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	vr := &sheets.ValueRange{Values: [][]interface{}{headerRow}}
	_, err = w.svc.Spreadsheets.Values.Update(w.sheetID, headerRange, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	w.log.Info("wrote header row", zap.String("sheet", sheetName))
	return nil
}

// seen checks the recent window of the call-id column for callID. Once the
// row position is known the read is bounded to the window; other instances
// can only append past it, so their rows are always inside the range.
func (w *Writer) seen(ctx context.Context, callID string) (bool, error) {
	w.mu.Lock()
	next := w.nextRow
	w.mu.Unlock()

	rng := dedupRange
	if next > 0 && w.dedupWindow > 0 {
		start := next - int64(w.dedupWindow)
		if start < 2 {
			start = 2
		}
		rng = fmt.Sprintf("%s!H%d:H", sheetName, start)
	}

	resp, err := w.svc.Spreadsheets.Values.Get(w.sheetID, rng).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("read dedup window: %w", err)
	}

	if next == 0 {
		w.mu.Lock()
		w.nextRow = int64(len(resp.Values)) + 2
		w.mu.Unlock()
	}

	rows := resp.Values
	if w.dedupWindow > 0 && len(rows) > w.dedupWindow {
		rows = rows[len(rows)-w.dedupWindow:]
	}
	for _, row := range rows {
		if len(row) > 0 && fmt.Sprint(row[0]) == callID {
			return true, nil
		}
	}
	return false, nil
}

func (w *Writer) append(ctx context.Context, rec model.CallRecord) (string, error) {
	vr := &sheets.ValueRange{Values: [][]interface{}{{
		rec.Timestamp,
		rec.Name,
		string(rec.Role),
		rec.Inquiry,
		rec.Market,
		rec.Phone,
		rec.Notes,
		rec.CallID,
	}}}

	resp, err := w.svc.Spreadsheets.Values.Append(w.sheetID, appendRange, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append row: %w", err)
	}

	ref := ""
	if resp.Updates != nil {
		ref = resp.Updates.UpdatedRange
	}
	if m := appendedRowPattern.FindStringSubmatch(ref); m != nil {
		if n, perr := strconv.ParseInt(m[1], 10, 64); perr == nil {
			w.mu.Lock()
			w.nextRow = n + 1
			w.mu.Unlock()
		}
	}
	return ref, nil
}

// appendedRowPattern pulls the row number out of an updated range like
// "Calls!A57:H57".
var appendedRowPattern = regexp.MustCompile(`!A(\d+):`)

func recordFromRow(row []interface{}) model.CallRecord {
	field := func(i int) string {
		if i < len(row) {
			return fmt.Sprint(row[i])
		}
		return ""
	}
	return model.CallRecord{
		Timestamp: field(0),
		Name:      field(1),
		Role:      model.Role(field(2)),
		Inquiry:   field(3),
		Market:    field(4),
		Phone:     field(5),
		Notes:     field(6),
		CallID:    field(7),
	}
}
