package sheetlog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/SumitKumar-17/cre-agent/internal/config"
	"github.com/SumitKumar-17/cre-agent/internal/model"
)

// fakeSheets emulates just enough of the Sheets v4 REST surface for the
// writer: spreadsheet metadata, batchUpdate (AddSheet), values get/update/
// append.
type fakeSheets struct {
	mu            sync.Mutex
	hasCallsSheet bool
	hasHeader     bool
	callIDs       []string
	appended      [][]interface{}

	appendFailures int // respond with appendStatus this many times
	appendStatus   int
	appendAttempts int
	dedupRanges    []string // H-column ranges requested by dedup reads
}

func (f *fakeSheets) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, ":batchUpdate"):
			f.hasCallsSheet = true
			respond(w, map[string]any{"spreadsheetId": "sheet-x"})

		case strings.HasSuffix(path, ":append"):
			f.appendAttempts++
			if f.appendFailures > 0 {
				f.appendFailures--
				apiError(w, f.appendStatus)
				return
			}
			var vr struct {
				Values [][]interface{} `json:"values"`
			}
			_ = json.NewDecoder(r.Body).Decode(&vr)
			for _, row := range vr.Values {
				f.appended = append(f.appended, row)
				if len(row) > 7 {
					f.callIDs = append(f.callIDs, fmt.Sprint(row[7]))
				}
			}
			n := len(f.callIDs) + 1 // row of the freshly appended record
			respond(w, map[string]any{
				"spreadsheetId": "sheet-x",
				"updates": map[string]any{
					"updatedRange": fmt.Sprintf("Calls!A%d:H%d", n, n),
					"updatedRows":  1,
				},
			})

		case strings.Contains(path, "/values/Calls!A1:G1"):
			if r.Method == http.MethodPut {
				f.hasHeader = true
				respond(w, map[string]any{"updatedRange": "Calls!A1:G1"})
				return
			}
			if f.hasHeader {
				respond(w, map[string]any{
					"values": [][]any{{"Timestamp", "Name", "Role", "Inquiry", "Market", "Phone", "Notes"}},
				})
				return
			}
			respond(w, map[string]any{"range": "Calls!A1:G1"})

		case strings.Contains(path, "/values/Calls!H"):
			rng := path[strings.LastIndex(path, "/")+1:]
			f.dedupRanges = append(f.dedupRanges, rng)

			start := 2
			seg := rng[strings.Index(rng, "!H")+2:]
			if i := strings.Index(seg, ":"); i > 0 {
				if n, err := strconv.Atoi(seg[:i]); err == nil {
					start = n
				}
			}
			rows := make([][]any, 0)
			if start-2 < len(f.callIDs) {
				for _, id := range f.callIDs[start-2:] {
					rows = append(rows, []any{id})
				}
			}
			respond(w, map[string]any{"values": rows})

		case strings.Contains(path, "/values/Calls!A2:H"):
			respond(w, map[string]any{"values": f.appended})

		default: // spreadsheet metadata
			titles := []map[string]any{{"properties": map[string]any{"title": "Sheet1"}}}
			if f.hasCallsSheet {
				titles = append(titles, map[string]any{"properties": map[string]any{"title": "Calls"}})
			}
			respond(w, map[string]any{"spreadsheetId": "sheet-x", "sheets": titles})
		}
	})
}

func respond(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func apiError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": status, "message": "fake sheets error"},
	})
}

func newTestWriter(t *testing.T, f *fakeSheets, attempts, window int) (*Writer, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	svc, err := sheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication())
	assert.NoError(t, err)

	cfg := &config.Config{
		SheetID:         "sheet-x",
		WriteAttempts:   attempts,
		RetryBaseDelay:  time.Millisecond,
		DedupWindowRows: window,
	}
	return New(svc, cfg, zaptest.NewLogger(t)), srv
}

func sampleRecord(callID string) model.CallRecord {
	return model.CallRecord{
		CallID:    callID,
		Timestamp: "2026-03-01T10:30:00Z",
		Name:      "Pat Doe",
		Role:      model.RolePropertyOwner,
		Inquiry:   "wants a valuation",
		Market:    "Midtown",
		Phone:     "+12125550143",
		Notes:     "interest: low; urgency: low",
	}
}

func TestWriteBootstrapsSheetAndAppends(t *testing.T) {
	f := &fakeSheets{}
	w, _ := newTestWriter(t, f, 3, 100)

	out, err := w.Write(context.Background(), sampleRecord("c1"))
	assert.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Equal(t, "Calls!A2:H2", out.RowRef)

	assert.True(t, f.hasCallsSheet)
	assert.True(t, f.hasHeader)
	assert.Len(t, f.appended, 1)
	row := f.appended[0]
	assert.Equal(t, "2026-03-01T10:30:00Z", row[0])
	assert.Equal(t, "property_owner", row[2])
	assert.Equal(t, "Midtown", row[4])
	assert.Equal(t, "c1", row[7])
}

func TestWriteDeduplicatesByCallID(t *testing.T) {
	f := &fakeSheets{}
	w, _ := newTestWriter(t, f, 3, 100)

	first, err := w.Write(context.Background(), sampleRecord("c-dup"))
	assert.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := w.Write(context.Background(), sampleRecord("c-dup"))
	assert.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Empty(t, second.RowRef)

	assert.Len(t, f.appended, 1)
}

func TestWriteDedupWindowIsBounded(t *testing.T) {
	f := &fakeSheets{callIDs: []string{"c-old", "c-new"}, hasCallsSheet: true, hasHeader: true}
	w, _ := newTestWriter(t, f, 3, 1)

	// c-old fell out of the one-row window, so it appends again.
	out, err := w.Write(context.Background(), sampleRecord("c-old"))
	assert.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Len(t, f.appended, 1)
}

func TestDedupReadsStayBoundedAsLogGrows(t *testing.T) {
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%d", i)
	}
	f := &fakeSheets{callIDs: ids, hasCallsSheet: true, hasHeader: true}
	w, _ := newTestWriter(t, f, 3, 2)

	// First write has no row position yet and reads the full column once.
	out, err := w.Write(context.Background(), sampleRecord("x1"))
	assert.NoError(t, err)
	assert.False(t, out.Duplicate)

	// Subsequent reads cover only the recent window, not the whole column.
	out, err = w.Write(context.Background(), sampleRecord("x2"))
	assert.NoError(t, err)
	assert.False(t, out.Duplicate)

	// Dedup still catches a repeat inside the bounded window.
	out, err = w.Write(context.Background(), sampleRecord("x1"))
	assert.NoError(t, err)
	assert.True(t, out.Duplicate)

	assert.Equal(t, []string{"Calls!H2:H", "Calls!H11:H", "Calls!H12:H"}, f.dedupRanges)
	assert.Len(t, f.appended, 2)
}

func TestWriteRetriesTransientErrors(t *testing.T) {
	f := &fakeSheets{appendFailures: 2, appendStatus: http.StatusServiceUnavailable}
	w, _ := newTestWriter(t, f, 4, 100)

	out, err := w.Write(context.Background(), sampleRecord("c-retry"))
	assert.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Len(t, f.appended, 1)
	assert.Equal(t, 3, f.appendAttempts)
}

func TestWriteGivesUpAfterAttemptCeiling(t *testing.T) {
	f := &fakeSheets{appendFailures: 10, appendStatus: http.StatusTooManyRequests}
	w, _ := newTestWriter(t, f, 3, 100)

	_, err := w.Write(context.Background(), sampleRecord("c-fail"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "attempts exhausted")
	assert.Empty(t, f.appended)
	assert.Equal(t, 3, f.appendAttempts)
}

func TestWriteDoesNotRetryAuthErrors(t *testing.T) {
	f := &fakeSheets{appendFailures: 5, appendStatus: http.StatusForbidden}
	w, _ := newTestWriter(t, f, 4, 100)

	_, err := w.Write(context.Background(), sampleRecord("c-auth"))
	assert.Error(t, err)
	assert.Equal(t, 1, f.appendAttempts)
	assert.Empty(t, f.appended)
}

func TestReadRecent(t *testing.T) {
	f := &fakeSheets{hasCallsSheet: true, hasHeader: true}
	w, _ := newTestWriter(t, f, 3, 100)

	for _, id := range []string{"c1", "c2", "c3"} {
		_, err := w.Write(context.Background(), sampleRecord(id))
		assert.NoError(t, err)
	}

	calls, err := w.ReadRecent(context.Background(), 2)
	assert.NoError(t, err)
	assert.Len(t, calls, 2)
	assert.Equal(t, "c2", calls[0].CallID)
	assert.Equal(t, "c3", calls[1].CallID)
	assert.Equal(t, model.RolePropertyOwner, calls[0].Role)
}
