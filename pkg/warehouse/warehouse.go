// Package warehouse adapts BigQuery to the uploader's Destination contract. Every sheet name
// maps to a table in one dataset; header names become STRING columns and are kept verbatim
// as column descriptions so the header round-trips.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/samvad-hq/review-harvester/internal/dedup"
	"github.com/samvad-hq/review-harvester/internal/uploader"
)

var (
	errTableNotFound = errors.New("table not found")

	invalidIdentRe = regexp.MustCompile(`[^a-z0-9_]+`)
)

// backend is the slice of BigQuery the destination needs.
type backend interface {
	EnsureDataset(ctx context.Context) error
	// TableSchema returns errTableNotFound for missing tables.
	TableSchema(ctx context.Context, table string) (bigquery.Schema, error)
	CreateTable(ctx context.Context, table string, schema bigquery.Schema) error
	DistinctValues(ctx context.Context, table, column string) ([]bigquery.Value, error)
	Insert(ctx context.Context, table string, rows []*bigquery.ValuesSaver) error
	Close() error
}

// Client reads and appends review rows in one BigQuery dataset.
type Client struct {
	api backend

	mu           sync.Mutex
	datasetReady bool
	schemas      map[string]bigquery.Schema
}

func newClient(api backend) *Client {
	return &Client{api: api, schemas: make(map[string]bigquery.Schema)}
}

// EnsureSheet makes sure the dataset exists. The table itself is created by WriteHeader,
// once its columns are known.
func (c *Client) EnsureSheet(ctx context.Context, sheet string) error {
	c.mu.Lock()
	ready := c.datasetReady
	c.mu.Unlock()
	if ready {
		return nil
	}
	if err := c.api.EnsureDataset(ctx); err != nil {
		return classify("ensure dataset", err)
	}
	c.mu.Lock()
	c.datasetReady = true
	c.mu.Unlock()
	return nil
}

// ReadHeader returns the table's header names; empty when the table does not exist yet.
func (c *Client) ReadHeader(ctx context.Context, sheet string) ([]string, error) {
	schema, err := c.schema(ctx, sheet)
	if errors.Is(err, errTableNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	header := make([]string, len(schema))
	for i, f := range schema {
		header[i] = f.Name
		if f.Description != "" {
			header[i] = f.Description
		}
	}
	return header, nil
}

// WriteHeader creates the table with one nullable STRING column per header name.
func (c *Client) WriteHeader(ctx context.Context, sheet string, header []string) error {
	table := TableName(sheet)
	schema := make(bigquery.Schema, len(header))
	names := ColumnNames(header)
	for i, h := range header {
		schema[i] = &bigquery.FieldSchema{
			Name:        names[i],
			Type:        bigquery.StringFieldType,
			Description: h,
		}
	}
	if err := c.api.CreateTable(ctx, table, schema); err != nil {
		return classify(fmt.Sprintf("create table %s", table), err)
	}

	c.mu.Lock()
	c.schemas[table] = schema
	c.mu.Unlock()
	return nil
}

// ReadColumn returns the distinct non-null values of the zero-based column.
func (c *Client) ReadColumn(ctx context.Context, sheet string, index int) ([]string, error) {
	schema, err := c.schema(ctx, sheet)
	if errors.Is(err, errTableNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(schema) {
		return nil, fmt.Errorf("table %s has no column %d", TableName(sheet), index)
	}

	table := TableName(sheet)
	values, err := c.api.DistinctValues(ctx, table, schema[index].Name)
	if err != nil {
		return nil, classify(fmt.Sprintf("read column %s of %s", schema[index].Name, table), err)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, dedup.NormalizeID(v))
	}
	return out, nil
}

// AppendRows streams rows into the table. Cells are stored as strings; empty cells as NULL.
func (c *Client) AppendRows(ctx context.Context, sheet string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	table := TableName(sheet)
	schema, err := c.schema(ctx, sheet)
	if errors.Is(err, errTableNotFound) {
		return fmt.Errorf("append to %s: %w: %w", table, uploader.ErrPermanent, err)
	}
	if err != nil {
		return err
	}

	savers := make([]*bigquery.ValuesSaver, len(rows))
	for i, row := range rows {
		if len(row) > len(schema) {
			return fmt.Errorf("append to %s: %w: row has %d cells for %d columns", table, uploader.ErrPermanent, len(row), len(schema))
		}
		values := make([]bigquery.Value, len(schema))
		for j, cell := range row {
			values[j] = cellValue(cell)
		}
		savers[i] = &bigquery.ValuesSaver{Schema: schema, Row: values}
	}

	if err := c.api.Insert(ctx, table, savers); err != nil {
		return classify(fmt.Sprintf("insert %d rows into %s", len(rows), table), err)
	}
	return nil
}

// Close releases the BigQuery client.
func (c *Client) Close() error {
	return c.api.Close()
}

func (c *Client) schema(ctx context.Context, sheet string) (bigquery.Schema, error) {
	table := TableName(sheet)
	c.mu.Lock()
	schema, ok := c.schemas[table]
	c.mu.Unlock()
	if ok {
		return schema, nil
	}

	schema, err := c.api.TableSchema(ctx, table)
	if errors.Is(err, errTableNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, classify(fmt.Sprintf("get table %s", table), err)
	}
	c.mu.Lock()
	c.schemas[table] = schema
	c.mu.Unlock()
	return schema, nil
}

// TableName turns a sheet name into a BigQuery table id ("SG shopee" -> "sg_shopee").
func TableName(sheet string) string {
	return ident(sheet, "reviews")
}

// ColumnNames turns header names into unique BigQuery column names
// ("Review ID" -> "review_id").
func ColumnNames(header []string) []string {
	names := make([]string, len(header))
	used := make(map[string]int, len(header))
	for i, h := range header {
		name := ident(h, "col_"+strconv.Itoa(i+1))
		if n := used[name]; n > 0 {
			used[name] = n + 1
			name = name + "_" + strconv.Itoa(n+1)
		}
		used[name]++
		names[i] = name
	}
	return names
}

func ident(s, fallback string) string {
	name := strings.Trim(invalidIdentRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "_"), "_")
	if name == "" {
		return fallback
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

func cellValue(cell any) bigquery.Value {
	switch v := cell.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return v
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// classify marks client-side API failures and rejected rows as permanent so the uploader
// stops retrying them. Quota (429) and server errors stay retryable.
func classify(op string, err error) error {
	var rowErrs bigquery.PutMultiError
	if errors.As(err, &rowErrs) {
		return fmt.Errorf("%s: %w: %w", op, uploader.ErrPermanent, err)
	}
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
