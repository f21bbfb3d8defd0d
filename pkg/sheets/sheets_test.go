package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"

	"github.com/samvad-hq/review-harvester/internal/uploader"
)

// fakeSheetsAPI serves the handful of Sheets endpoints the client uses.
type fakeSheetsAPI struct {
	mu        sync.Mutex
	titles    []string
	added     []string
	appended  [][]any
	header    []any
	column    []any
	appendErr int
	queries   []string
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/v4/spreadsheets/sheet-1"):
		sheets := make([]map[string]any, 0, len(f.titles))
		for _, t := range f.titles {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": t}})
		}
		writeJSON(w, map[string]any{"sheets": sheets})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req struct {
			Requests []struct {
				AddSheet struct {
					Properties struct {
						Title string `json:"title"`
					} `json:"properties"`
				} `json:"addSheet"`
			} `json:"requests"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			f.added = append(f.added, rq.AddSheet.Properties.Title)
		}
		writeJSON(w, map[string]any{"spreadsheetId": "sheet-1"})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		if f.appendErr != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.appendErr)
			_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"nope"}}`, f.appendErr)
			return
		}
		var vr struct {
			Values [][]any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.appended = append(f.appended, vr.Values...)
		writeJSON(w, map[string]any{})
	case r.Method == http.MethodPut:
		var vr struct {
			Values [][]any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&vr)
		if len(vr.Values) > 0 {
			f.header = vr.Values[0]
		}
		writeJSON(w, map[string]any{})
	case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
		if r.URL.Query().Get("majorDimension") == "COLUMNS" {
			writeJSON(w, map[string]any{"values": [][]any{f.column}})
			return
		}
		if f.header == nil {
			writeJSON(w, map[string]any{})
			return
		}
		writeJSON(w, map[string]any{"values": [][]any{f.header}})
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, api *fakeSheetsAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := NewWithOptions(context.Background(), "sheet-1",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	return c
}

func TestEnsureSheetAddsMissingTabOnce(t *testing.T) {
	api := &fakeSheetsAPI{titles: []string{"Existing"}}
	c := newTestClient(t, api)
	ctx := context.Background()

	if err := c.EnsureSheet(ctx, "Existing"); err != nil {
		t.Fatalf("EnsureSheet existing: %v", err)
	}
	if err := c.EnsureSheet(ctx, "SG_shopee"); err != nil {
		t.Fatalf("EnsureSheet new: %v", err)
	}
	if err := c.EnsureSheet(ctx, "SG_shopee"); err != nil {
		t.Fatalf("EnsureSheet again: %v", err)
	}
	if len(api.added) != 1 || api.added[0] != "SG_shopee" {
		t.Fatalf("expected one AddSheet for SG_shopee, got %v", api.added)
	}
}

func TestHeaderAndColumnRoundTrip(t *testing.T) {
	api := &fakeSheetsAPI{column: []any{"R1", "", "R3", 1234567890123.0}}
	c := newTestClient(t, api)
	ctx := context.Background()

	header, err := c.ReadHeader(ctx, "s")
	if err != nil || len(header) != 0 {
		t.Fatalf("expected empty header, got %v %v", header, err)
	}
	if err := c.WriteHeader(ctx, "s", []string{"review_id", "rating"}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	header, err = c.ReadHeader(ctx, "s")
	if err != nil || strings.Join(header, ",") != "review_id,rating" {
		t.Fatalf("unexpected header %v %v", header, err)
	}

	col, err := c.ReadColumn(ctx, "s", 0)
	if err != nil {
		t.Fatalf("ReadColumn: %v", err)
	}
	if strings.Join(col, ",") != "R1,,R3,1234567890123" {
		t.Fatalf("unexpected column %v", col)
	}

	var sawRaw, sawUnformatted bool
	for _, q := range api.queries {
		if strings.HasPrefix(q, "PUT") && strings.Contains(q, "valueInputOption=RAW") {
			sawRaw = true
		}
		if strings.Contains(q, "majorDimension=COLUMNS") && strings.Contains(q, "valueRenderOption=UNFORMATTED_VALUE") {
			sawUnformatted = true
		}
	}
	if !sawRaw {
		t.Fatalf("header writes must use RAW input, queries: %v", api.queries)
	}
	if !sawUnformatted {
		t.Fatalf("id column must be read unformatted, queries: %v", api.queries)
	}
}

func TestAppendRowsUsesRawInsertRows(t *testing.T) {
	api := &fakeSheetsAPI{}
	c := newTestClient(t, api)

	rows := [][]any{{"R1", "5"}, {"R2", "4"}}
	if err := c.AppendRows(context.Background(), "My Sheet", rows); err != nil {
		t.Fatalf("AppendRows: %v", err)
	}
	if len(api.appended) != 2 || api.appended[1][0] != "R2" {
		t.Fatalf("unexpected appended rows %v", api.appended)
	}
	last := api.queries[len(api.queries)-1]
	if !strings.Contains(last, "insertDataOption=INSERT_ROWS") || !strings.Contains(last, "valueInputOption=RAW") {
		t.Fatalf("unexpected append query %q", last)
	}
}

func TestAppendRowsClassifiesErrors(t *testing.T) {
	api := &fakeSheetsAPI{appendErr: http.StatusBadRequest}
	c := newTestClient(t, api)

	err := c.AppendRows(context.Background(), "s", [][]any{{"x"}})
	if !errors.Is(err, uploader.ErrPermanent) {
		t.Fatalf("400 should be permanent, got %v", err)
	}

	api.appendErr = http.StatusTooManyRequests
	err = c.AppendRows(context.Background(), "s", [][]any{{"x"}})
	if err == nil || errors.Is(err, uploader.ErrPermanent) {
		t.Fatalf("429 should be retryable, got %v", err)
	}
}

func TestColumnLetterAndA1(t *testing.T) {
	cases := map[int]string{0: "A", 1: "B", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA"}
	for in, want := range cases {
		if got := ColumnLetter(in); got != want {
			t.Fatalf("ColumnLetter(%d) = %q, want %q", in, got, want)
		}
	}
	if got := a1("Bob's Sheet", "A1"); got != "'Bob''s Sheet'!A1" {
		t.Fatalf("unexpected a1 %q", got)
	}
}
