package search

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"go.elastic.co/fastjson"
)

// Operation is one index action in a bulk request. An empty DocumentID lets
// the cluster assign one.
type Operation struct {
	Index      string
	DocumentID string
	Document   []byte
}

// ItemError is the per-item failure reported by the cluster.
type ItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ItemResult is the outcome of one Operation, in request order.
type ItemResult struct {
	ID     string     `json:"_id"`
	Index  string     `json:"_index"`
	Status int        `json:"status"`
	Error  *ItemError `json:"error,omitempty"`
}

// Failed reports whether the cluster rejected this item.
func (r ItemResult) Failed() bool {
	return r.Error != nil || r.Status > 299
}

type bulkResponse struct {
	Errors bool                    `json:"errors"`
	Items  []map[string]ItemResult `json:"items"`
}

var bulkFilterPath = []string{
	"errors",
	"items.*._id",
	"items.*._index",
	"items.*.status",
	"items.*.error.type",
	"items.*.error.reason",
}

// EncodeBulkBody writes the newline-delimited action/source pairs for ops
// into w.
func EncodeBulkBody(w io.Writer, ops []Operation) error {
	var jsonw fastjson.Writer
	for _, op := range ops {
		jsonw.RawString(`{"index":{`)
		if op.Index != "" {
			jsonw.RawString(`"_index":`)
			jsonw.String(op.Index)
		}
		if op.DocumentID != "" {
			if op.Index != "" {
				jsonw.RawByte(',')
			}
			jsonw.RawString(`"_id":`)
			jsonw.String(op.DocumentID)
		}
		jsonw.RawString("}}\n")
		if _, err := w.Write(jsonw.Bytes()); err != nil {
			return fmt.Errorf("failed to write bulk action: %w", err)
		}
		jsonw.Reset()
		if _, err := w.Write(op.Document); err != nil {
			return fmt.Errorf("failed to write bulk document: %w", err)
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return fmt.Errorf("failed to write newline: %w", err)
		}
	}
	return nil
}

func (c *Client) bulkBody(ops []Operation) (*bytes.Buffer, bool, error) {
	var buf bytes.Buffer
	if c.compression == gzip.NoCompression {
		if err := EncodeBulkBody(&buf, ops); err != nil {
			return nil, false, err
		}
		return &buf, false, nil
	}
	gzipw, err := gzip.NewWriterLevel(&buf, c.compression)
	if err != nil {
		return nil, false, fmt.Errorf("creating gzip writer: %w", err)
	}
	if err := EncodeBulkBody(gzipw, ops); err != nil {
		return nil, false, err
	}
	if err := gzipw.Close(); err != nil {
		return nil, false, fmt.Errorf("failed closing the gzip writer: %w", err)
	}
	return &buf, true, nil
}

// Bulk submits ops as one bulk request and returns one result per
// operation in request order. An error means the request as a whole was not
// accepted; per-item rejections are reported through ItemResult.
func (c *Client) Bulk(ctx context.Context, ops []Operation) ([]ItemResult, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	body, gzipped, err := c.bulkBody(ops)
	if err != nil {
		return nil, err
	}

	req := esapi.BulkRequest{
		Body:       body,
		Header:     make(http.Header),
		FilterPath: bulkFilterPath,
	}
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("failed to execute the bulk request: %w", err)
	}
	defer drain(res.Body)

	if res.IsError() {
		return nil, statusError("bulk", res)
	}

	var resp bulkResponse
	if err := jsoniter.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("error decoding bulk response: %w", err)
	}
	if len(resp.Items) != len(ops) {
		return nil, fmt.Errorf("bulk response has %d items for %d operations", len(resp.Items), len(ops))
	}

	results := make([]ItemResult, len(resp.Items))
	for i, item := range resp.Items {
		for _, r := range item {
			results[i] = r
		}
	}
	return results, nil
}
