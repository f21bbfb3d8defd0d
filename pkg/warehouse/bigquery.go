package warehouse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var datasetRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// New builds a destination for one dataset from a service-account credentials file.
func New(ctx context.Context, projectID, dataset, credentialsFile string, opts ...option.ClientOption) (*Client, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("bigquery project id is empty")
	}
	if !datasetRe.MatchString(dataset) {
		return nil, fmt.Errorf("invalid bigquery dataset %q (letters, digits and underscores only)", dataset)
	}
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append([]option.ClientOption{option.WithCredentialsFile(credentialsFile)}, opts...)
	}
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	return newClient(&bigQueryBackend{client: client, dataset: dataset}), nil
}

type bigQueryBackend struct {
	client  *bigquery.Client
	dataset string
}

func (b *bigQueryBackend) EnsureDataset(ctx context.Context) error {
	ds := b.client.Dataset(b.dataset)
	_, err := ds.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !hasStatus(err, http.StatusNotFound) {
		return err
	}
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !hasStatus(err, http.StatusConflict) {
		return err
	}
	return nil
}

func (b *bigQueryBackend) TableSchema(ctx context.Context, table string) (bigquery.Schema, error) {
	md, err := b.client.Dataset(b.dataset).Table(table).Metadata(ctx)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return nil, errTableNotFound
		}
		return nil, err
	}
	return md.Schema, nil
}

func (b *bigQueryBackend) CreateTable(ctx context.Context, table string, schema bigquery.Schema) error {
	return b.client.Dataset(b.dataset).Table(table).Create(ctx, &bigquery.TableMetadata{Schema: schema})
}

// DistinctValues runs a SELECT DISTINCT over one column. Table and column names come from
// TableName and ColumnNames, so they are safe to quote.
func (b *bigQueryBackend) DistinctValues(ctx context.Context, table, column string) ([]bigquery.Value, error) {
	sql := fmt.Sprintf("SELECT DISTINCT `%s` FROM `%s.%s.%s` WHERE `%s` IS NOT NULL",
		column, b.client.Project(), b.dataset, table, column)
	it, err := b.client.Query(sql).Read(ctx)
	if err != nil {
		return nil, err
	}

	var out []bigquery.Value
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if len(row) > 0 {
			out = append(out, row[0])
		}
	}
}

func (b *bigQueryBackend) Insert(ctx context.Context, table string, rows []*bigquery.ValuesSaver) error {
	return b.client.Dataset(b.dataset).Table(table).Inserter().Put(ctx, rows)
}

func (b *bigQueryBackend) Close() error {
	return b.client.Close()
}

func hasStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
