// Package sheets adapts the Google Sheets v4 API to the uploader's Destination contract.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/samvad-hq/review-harvester/internal/dedup"
	"github.com/samvad-hq/review-harvester/internal/uploader"
)

const (
	valueInputRaw     = "RAW"
	renderUnformatted = "UNFORMATTED_VALUE"
	insertRows        = "INSERT_ROWS"
	headerColumnsA    = "A1:ZZ1"
)

// Client reads and appends rows in one spreadsheet.
type Client struct {
	svc           *sheetsapi.Service
	spreadsheetID string

	mu     sync.Mutex
	sheets map[string]struct{}
}

// New builds a client from a service-account credentials file.
func New(ctx context.Context, spreadsheetID, credentialsFile string, opts ...option.ClientOption) (*Client, error) {
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append([]option.ClientOption{option.WithCredentialsFile(credentialsFile)}, opts...)
	}
	return NewWithOptions(ctx, spreadsheetID, opts...)
}

// NewWithOptions builds a client from raw client options (endpoint overrides, HTTP clients).
func NewWithOptions(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Client, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("spreadsheet id is empty")
	}
	opts = append([]option.ClientOption{option.WithScopes(sheetsapi.SpreadsheetsScope)}, opts...)
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID}, nil
}

// EnsureSheet creates the tab when the spreadsheet does not have it yet.
func (c *Client) EnsureSheet(ctx context.Context, sheet string) error {
	if err := c.loadSheets(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	_, ok := c.sheets[sheet]
	c.mu.Unlock()
	if ok {
		return nil
	}

	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{
				Properties: &sheetsapi.SheetProperties{Title: sheet},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return classify(fmt.Sprintf("add sheet %q", sheet), err)
	}

	c.mu.Lock()
	c.sheets[sheet] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Client) loadSheets(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.sheets != nil
	c.mu.Unlock()
	if loaded {
		return nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return classify("get spreadsheet", err)
	}

	titles := make(map[string]struct{}, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s != nil && s.Properties != nil {
			titles[s.Properties.Title] = struct{}{}
		}
	}

	c.mu.Lock()
	c.sheets = titles
	c.mu.Unlock()
	return nil
}

// ReadHeader returns the first row of the sheet; empty when the sheet has no header yet.
func (c *Client) ReadHeader(ctx context.Context, sheet string) ([]string, error) {
	vr, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, a1(sheet, headerColumnsA)).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("read header of %q", sheet), err)
	}
	if len(vr.Values) == 0 {
		return nil, nil
	}
	return stringify(vr.Values[0]), nil
}

// WriteHeader writes the header into row 1.
func (c *Client) WriteHeader(ctx context.Context, sheet string, header []string) error {
	row := make([]any, len(header))
	for i, h := range header {
		row[i] = h
	}
	vr := &sheetsapi.ValueRange{Values: [][]any{row}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, a1(sheet, "A1"), vr).
		ValueInputOption(valueInputRaw).
		Context(ctx).
		Do()
	if err != nil {
		return classify(fmt.Sprintf("write header of %q", sheet), err)
	}
	return nil
}

// ReadColumn returns the values of the zero-based column below the header row. Cells are
// read unformatted so numeric ids typed into older rows come back as plain digits rather
// than their display form (1.23457E+12).
func (c *Client) ReadColumn(ctx context.Context, sheet string, index int) ([]string, error) {
	col := ColumnLetter(index)
	vr, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, a1(sheet, fmt.Sprintf("%s2:%s", col, col))).
		MajorDimension("COLUMNS").
		ValueRenderOption(renderUnformatted).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("read column %s of %q", col, sheet), err)
	}
	if len(vr.Values) == 0 {
		return nil, nil
	}
	out := make([]string, len(vr.Values[0]))
	for i, v := range vr.Values[0] {
		out[i] = dedup.NormalizeID(v)
	}
	return out, nil
}

// AppendRows appends rows after the last row of the sheet without reinterpreting values.
func (c *Client) AppendRows(ctx context.Context, sheet string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	vr := &sheetsapi.ValueRange{Values: rows}
	_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, a1(sheet, "A1"), vr).
		ValueInputOption(valueInputRaw).
		InsertDataOption(insertRows).
		Context(ctx).
		Do()
	if err != nil {
		return classify(fmt.Sprintf("append %d rows to %q", len(rows), sheet), err)
	}
	return nil
}

// ColumnLetter converts a zero-based column index into A1 letters (0 -> A, 26 -> AA).
func ColumnLetter(index int) string {
	if index < 0 {
		index = 0
	}
	var b []byte
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// a1 builds a quoted A1 range so sheet names with spaces or quotes stay valid.
func a1(sheet, cells string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + cells
}

func stringify(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if v == nil {
			continue
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}

// classify marks client-side API failures as permanent so the uploader stops retrying them.
// Quota (429) and server errors stay retryable.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return fmt.Errorf("%s: %w", op, err)
		}
		if apiErr.Code >= http.StatusBadRequest {
			return fmt.Errorf("%s: %w: %w", op, uploader.ErrPermanent, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
