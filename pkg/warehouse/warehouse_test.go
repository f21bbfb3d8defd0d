package warehouse

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/samvad-hq/review-harvester/internal/uploader"
)

// fakeBackend keeps tables in memory.
type fakeBackend struct {
	datasetCalls int
	tables       map[string]bigquery.Schema
	rows         map[string][][]bigquery.Value
	schemaCalls  int
	insertErr    error
	queried      []string
	closed       bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tables: make(map[string]bigquery.Schema),
		rows:   make(map[string][][]bigquery.Value),
	}
}

func (f *fakeBackend) EnsureDataset(context.Context) error {
	f.datasetCalls++
	return nil
}

func (f *fakeBackend) TableSchema(_ context.Context, table string) (bigquery.Schema, error) {
	f.schemaCalls++
	schema, ok := f.tables[table]
	if !ok {
		return nil, errTableNotFound
	}
	return schema, nil
}

func (f *fakeBackend) CreateTable(_ context.Context, table string, schema bigquery.Schema) error {
	if _, ok := f.tables[table]; ok {
		return &googleapi.Error{Code: http.StatusConflict, Message: "already exists"}
	}
	f.tables[table] = schema
	return nil
}

func (f *fakeBackend) DistinctValues(_ context.Context, table, column string) ([]bigquery.Value, error) {
	f.queried = append(f.queried, table+"."+column)
	idx := -1
	for i, field := range f.tables[table] {
		if field.Name == column {
			idx = i
		}
	}
	seen := make(map[bigquery.Value]bool)
	var out []bigquery.Value
	for _, row := range f.rows[table] {
		v := row[idx]
		if v == nil || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeBackend) Insert(_ context.Context, table string, rows []*bigquery.ValuesSaver) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, r := range rows {
		f.rows[table] = append(f.rows[table], r.Row)
	}
	return nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func TestHeaderRoundTripsThroughColumnDescriptions(t *testing.T) {
	api := newFakeBackend()
	c := newClient(api)
	ctx := context.Background()

	if err := c.EnsureSheet(ctx, "Amazon US"); err != nil {
		t.Fatalf("EnsureSheet: %v", err)
	}
	if err := c.EnsureSheet(ctx, "Amazon US"); err != nil {
		t.Fatalf("EnsureSheet again: %v", err)
	}
	if api.datasetCalls != 1 {
		t.Fatalf("dataset should be checked once, got %d", api.datasetCalls)
	}

	header, err := c.ReadHeader(ctx, "Amazon US")
	if err != nil || len(header) != 0 {
		t.Fatalf("missing table should read as empty header, got %v %v", header, err)
	}

	want := []string{"ASIN", "Review ID", "Verified Purchase"}
	if err := c.WriteHeader(ctx, "Amazon US", want); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	schema := api.tables["amazon_us"]
	if len(schema) != 3 || schema[1].Name != "review_id" || schema[1].Type != bigquery.StringFieldType {
		t.Fatalf("unexpected table schema %+v", schema)
	}

	// a fresh client reads the header back from the table
	header, err = newClient(api).ReadHeader(ctx, "Amazon US")
	if err != nil || strings.Join(header, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected header %v %v", header, err)
	}
}

func TestAppendAndReadColumn(t *testing.T) {
	api := newFakeBackend()
	c := newClient(api)
	ctx := context.Background()

	if err := c.WriteHeader(ctx, "SG_shopee", []string{"review_id", "star", "verified_purchase"}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	rows := [][]any{
		{"R1", 5, true},
		{"R2", 4, ""},
		{"R1", 5, false},
	}
	if err := c.AppendRows(ctx, "SG_shopee", rows); err != nil {
		t.Fatalf("AppendRows: %v", err)
	}
	stored := api.rows["sg_shopee"]
	if len(stored) != 3 || stored[0][1] != "5" || stored[0][2] != "true" || stored[1][2] != nil {
		t.Fatalf("unexpected stored rows %v", stored)
	}

	ids, err := c.ReadColumn(ctx, "SG_shopee", 0)
	if err != nil {
		t.Fatalf("ReadColumn: %v", err)
	}
	if strings.Join(ids, ",") != "R1,R2" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if len(api.queried) != 1 || api.queried[0] != "sg_shopee.review_id" {
		t.Fatalf("unexpected queries %v", api.queried)
	}
	if api.schemaCalls != 0 {
		t.Fatalf("schema written by this client should be cached, got %d lookups", api.schemaCalls)
	}
}

func TestReadColumnOfMissingTableIsEmpty(t *testing.T) {
	c := newClient(newFakeBackend())
	ids, err := c.ReadColumn(context.Background(), "nothing", 0)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no ids, got %v %v", ids, err)
	}
}

func TestAppendRowsClassifiesErrors(t *testing.T) {
	api := newFakeBackend()
	c := newClient(api)
	ctx := context.Background()

	err := c.AppendRows(ctx, "missing", [][]any{{"x"}})
	if !errors.Is(err, uploader.ErrPermanent) {
		t.Fatalf("appending to a missing table should be permanent, got %v", err)
	}

	if err := c.WriteHeader(ctx, "s", []string{"review_id"}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	err = c.AppendRows(ctx, "s", [][]any{{"a", "b"}})
	if !errors.Is(err, uploader.ErrPermanent) {
		t.Fatalf("over-wide row should be permanent, got %v", err)
	}

	api.insertErr = bigquery.PutMultiError{{RowIndex: 0, Errors: bigquery.MultiError{errors.New("bad value")}}}
	err = c.AppendRows(ctx, "s", [][]any{{"a"}})
	if !errors.Is(err, uploader.ErrPermanent) {
		t.Fatalf("rejected rows should be permanent, got %v", err)
	}

	api.insertErr = &googleapi.Error{Code: http.StatusServiceUnavailable}
	err = c.AppendRows(ctx, "s", [][]any{{"a"}})
	if err == nil || errors.Is(err, uploader.ErrPermanent) {
		t.Fatalf("503 should be retryable, got %v", err)
	}

	api.insertErr = &googleapi.Error{Code: http.StatusForbidden}
	err = c.AppendRows(ctx, "s", [][]any{{"a"}})
	if !errors.Is(err, uploader.ErrPermanent) {
		t.Fatalf("403 should be permanent, got %v", err)
	}
}

func TestTableAndColumnNames(t *testing.T) {
	tables := map[string]string{
		"SG_shopee":     "sg_shopee",
		"Amazon US":     "amazon_us",
		" biodance-kr ": "biodance_kr",
		"2024 reviews":  "_2024_reviews",
		"???":           "reviews",
	}
	for in, want := range tables {
		if got := TableName(in); got != want {
			t.Fatalf("TableName(%q) = %q, want %q", in, got, want)
		}
	}

	got := ColumnNames([]string{"Review ID", "review id", "", "Image URLs"})
	if strings.Join(got, ",") != "review_id,review_id_2,col_3,image_urls" {
		t.Fatalf("unexpected column names %v", got)
	}
}

func TestCloseReleasesBackend(t *testing.T) {
	api := newFakeBackend()
	if err := newClient(api).Close(); err != nil || !api.closed {
		t.Fatalf("expected backend closed, err=%v", err)
	}
}
