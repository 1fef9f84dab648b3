// Package supabase is a vectorstore.Backend that keeps records in a Supabase
// (PostgREST) table with a pgvector embedding column.
//
// Expected table:
//
//	create table documents (
//		seq       bigserial,
//		id        text primary key,
//		text      text not null default '',
//		metadata  jsonb not null default '{}',
//		embedding vector not null
//	);
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/creastat/llmkit/pkg/logger"
	"github.com/creastat/llmkit/pkg/types"
	"github.com/creastat/llmkit/pkg/vectorstore"
)

const (
	defaultTable   = "documents"
	defaultTimeout = 10 * time.Second
	scanPageSize   = 500
)

// Config holds configuration for the Supabase backend
type Config struct {
	URL     string
	APIKey  string
	Table   string        // Default: documents
	Timeout time.Duration // HTTP client timeout
	Logger  logger.Logger
}

// Backend talks to the PostgREST endpoint of a Supabase project
type Backend struct {
	url        string
	apiKey     string
	table      string
	httpClient *http.Client
	logger     logger.Logger
}

// New creates a new Supabase backend
func New(config Config) (*Backend, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if config.Table == "" {
		config.Table = defaultTable
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Backend{
		url:        strings.TrimSuffix(config.URL, "/"),
		apiKey:     config.APIKey,
		table:      config.Table,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger.OrNop(config.Logger),
	}, nil
}

// row is the JSON shape of one table row
type row struct {
	Seq       int64             `json:"seq,omitempty"`
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata"`
	Embedding pgVector          `json:"embedding"`
}

// pgVector decodes pgvector values, which PostgREST returns as a string
// such as "[1,2,3]" rather than a JSON array.
type pgVector []float32

func (v *pgVector) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		data = []byte(s)
	}
	var out []float32
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode vector: %w", err)
	}
	*v = out
	return nil
}

// Upsert implements vectorstore.Backend. PostgREST applies the whole
// payload in one statement, and merge-duplicates leaves seq untouched on
// replacement.
func (b *Backend) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]row, len(records))
	for i, r := range records {
		meta := r.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		rows[i] = row{ID: r.ID, Text: r.Text, Metadata: meta, Embedding: pgVector(r.Vector)}
	}

	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("%w: marshal rows: %v", types.ErrBackend, err)
	}

	query := url.Values{"on_conflict": {"id"}}
	req, err := b.newRequest(ctx, http.MethodPost, query, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	b.logger.Debug("Upserting records into Supabase", "table", b.table, "count", len(records))
	return b.do(req, "upsert", nil)
}

// Delete implements vectorstore.Backend
func (b *Backend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := url.Values{"id": {inFilter(ids)}}
	req, err := b.newRequest(ctx, http.MethodDelete, query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=minimal")

	b.logger.Debug("Deleting records from Supabase", "table", b.table, "count", len(ids))
	return b.do(req, "delete", nil)
}

// Scan implements vectorstore.Backend. Pages are fetched by keyset on seq
// so concurrent inserts never shift a page boundary.
func (b *Backend) Scan(ctx context.Context, fn func(vectorstore.Record) bool) error {
	var after int64
	for {
		query := url.Values{
			"select": {"seq,id,text,metadata,embedding"},
			"order":  {"seq.asc"},
			"limit":  {strconv.Itoa(scanPageSize)},
		}
		if after > 0 {
			query.Set("seq", "gt."+strconv.FormatInt(after, 10))
		}
		req, err := b.newRequest(ctx, http.MethodGet, query, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		var page []row
		if err := b.do(req, "scan", &page); err != nil {
			return err
		}

		for _, r := range page {
			rec := vectorstore.Record{
				ID:       r.ID,
				Vector:   []float32(r.Embedding),
				Text:     r.Text,
				Metadata: r.Metadata,
				Seq:      r.Seq,
			}
			if !fn(rec) {
				return nil
			}
			after = r.Seq
		}
		if len(page) < scanPageSize {
			return nil
		}
	}
}

// Close implements vectorstore.Backend
func (b *Backend) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

func (b *Backend) newRequest(ctx context.Context, method string, query url.Values, body io.Reader) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", b.url, b.table, query.Encode())
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", types.ErrBackend, err)
	}
	req.Header.Set("apikey", b.apiKey)
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	return req, nil
}

// do executes req and decodes a 2xx body into out when out is non-nil
func (b *Backend) do(req *http.Request, op string, out any) error {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrBackend, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		b.logger.Error("Supabase request failed", "op", op, "status", resp.StatusCode, "body", string(body))
		return fmt.Errorf("%w: %s failed: status %d", types.ErrBackend, op, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", types.ErrBackend, op, err)
	}
	return nil
}

// inFilter renders ids as a PostgREST in.() filter with quoted values
func inFilter(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return "in.(" + strings.Join(quoted, ",") + ")"
}

var _ vectorstore.Backend = (*Backend)(nil)
