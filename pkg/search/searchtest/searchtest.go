// Package searchtest provides an in-process stand-in for an
// Elasticsearch-compatible cluster. It answers the root info call, index
// exists/create, and /_bulk, records every bulk request it receives, and can
// be told to reject whole requests or individual items.
package searchtest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
)

// Action is one decoded index action from a bulk request.
type Action struct {
	Index  string
	ID     string
	Source []byte
}

// BulkRequest is one decoded /_bulk call.
type BulkRequest struct {
	Gzipped bool
	Actions []Action
}

// Server is a mock search cluster backed by httptest.Server.
type Server struct {
	*httptest.Server

	mu               sync.Mutex
	indices          map[string]bool
	bulks            []BulkRequest
	createCalls      int
	createConflict   bool
	bulkFailStatus   int
	bulkFailuresLeft int
	failPositions    map[int]bool
	onBulk           func(BulkRequest)
	username         string
	password         string
}

// NewServer starts a mock cluster that is closed via t.Cleanup.
func NewServer(t testing.TB) *Server {
	s := &Server{
		indices:       make(map[string]bool),
		failPositions: make(map[int]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.Close)
	return s
}

// AddIndex marks an index as already existing.
func (s *Server) AddIndex(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indices[name] = true
}

// HasIndex reports whether the index exists on the mock.
func (s *Server) HasIndex(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indices[name]
}

// CreateConflict makes the next create call fail with
// resource_already_exists_exception, as if another writer won the race.
func (s *Server) CreateConflict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createConflict = true
}

// FailBulk makes the next n bulk requests fail with the given HTTP status.
// A negative n fails every request.
func (s *Server) FailBulk(status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkFailStatus = status
	s.bulkFailuresLeft = n
}

// FailItems makes the given zero-based positions of every subsequent bulk
// request come back with a mapper_parsing_exception.
func (s *Server) FailItems(positions ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range positions {
		s.failPositions[p] = true
	}
}

// OnBulk registers a hook invoked for each accepted bulk request before the
// response is written.
func (s *Server) OnBulk(fn func(BulkRequest)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBulk = fn
}

// Requests returns every bulk request received, including rejected ones.
func (s *Server) Requests() []BulkRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BulkRequest(nil), s.bulks...)
}

// Documents returns the sources of every action in received order.
func (s *Server) Documents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []string
	for _, b := range s.bulks {
		for _, a := range b.Actions {
			docs = append(docs, string(a.Source))
		}
	}
	return docs
}

// CreateCalls returns the number of index create calls received.
func (s *Server) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

// Credentials returns the basic-auth credentials of the last request.
func (s *Server) Credentials() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username, s.password
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	// go-elasticsearch refuses to talk to a server without this header
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	s.mu.Lock()
	s.username, s.password, _ = r.BasicAuth()
	s.mu.Unlock()

	path := strings.Trim(r.URL.Path, "/")
	switch {
	case path == "" && r.Method == http.MethodGet:
		fmt.Fprint(w, `{"name":"searchtest","cluster_name":"searchtest","version":{"number":"8.19.0"},"tagline":"You Know, for Search"}`)
	case path == "_bulk" && r.Method == http.MethodPost:
		s.handleBulk(w, r)
	case !strings.Contains(path, "/") && r.Method == http.MethodHead:
		if s.HasIndex(path) {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case !strings.Contains(path, "/") && r.Method == http.MethodPut:
		s.handleCreate(w, path)
	default:
		http.Error(w, `{"error":{"type":"unsupported","reason":"not mocked"},"status":400}`, http.StatusBadRequest)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.indices[name] || s.createConflict {
		s.createConflict = false
		s.indices[name] = true
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":{"type":"resource_already_exists_exception","reason":"index [%s] already exists"},"status":400}`, name)
		return
	}
	s.indices[name] = true
	fmt.Fprintf(w, `{"acknowledged":true,"shards_acknowledged":true,"index":%q}`, name)
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	req, err := DecodeBulkRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.bulks = append(s.bulks, req)
	if s.bulkFailuresLeft != 0 {
		if s.bulkFailuresLeft > 0 {
			s.bulkFailuresLeft--
		}
		status := s.bulkFailStatus
		s.mu.Unlock()
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":{"type":"mock_failure","reason":"bulk rejected"},"status":%d}`, status)
		return
	}
	hook := s.onBulk
	failPositions := make(map[int]bool, len(s.failPositions))
	for p := range s.failPositions {
		failPositions[p] = true
	}
	for _, a := range req.Actions {
		if a.Index != "" {
			s.indices[a.Index] = true
		}
	}
	s.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	type itemError struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	type item struct {
		ID     string     `json:"_id"`
		Index  string     `json:"_index"`
		Status int        `json:"status"`
		Error  *itemError `json:"error,omitempty"`
	}
	resp := struct {
		Errors bool              `json:"errors"`
		Items  []map[string]item `json:"items"`
	}{Items: make([]map[string]item, 0, len(req.Actions))}

	for i, a := range req.Actions {
		it := item{ID: a.ID, Index: a.Index, Status: http.StatusCreated}
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		if failPositions[i] {
			resp.Errors = true
			it.Status = http.StatusBadRequest
			it.Error = &itemError{Type: "mapper_parsing_exception", Reason: "failed to parse"}
		}
		resp.Items = append(resp.Items, map[string]item{"index": it})
	}
	jsoniter.NewEncoder(w).Encode(resp)
}

// DecodeBulkRequest decodes a /_bulk body, transparently handling gzip.
func DecodeBulkRequest(r *http.Request) (BulkRequest, error) {
	var body io.Reader = r.Body
	out := BulkRequest{}
	if r.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(r.Body)
		if err != nil {
			return out, fmt.Errorf("opening gzip body: %w", err)
		}
		defer gr.Close()
		body = gr
		out.Gzipped = true
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var meta map[string]struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		}
		if err := jsoniter.Unmarshal(line, &meta); err != nil {
			return out, fmt.Errorf("decoding action line: %w", err)
		}
		m, ok := meta["index"]
		if !ok || len(meta) != 1 {
			return out, fmt.Errorf("unsupported action line: %s", line)
		}
		if !scanner.Scan() {
			return out, fmt.Errorf("missing source for action %s", line)
		}
		out.Actions = append(out.Actions, Action{
			Index:  m.Index,
			ID:     m.ID,
			Source: append([]byte(nil), scanner.Bytes()...),
		})
	}
	return out, scanner.Err()
}
