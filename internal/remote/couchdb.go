package remote

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

	"github.com/locationtracker/agent/internal/codec"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultProtocol  = "https"
	defaultPullLimit = 500
	maxErrorBody     = 4 << 10
)

// CouchDBConfig describes a CouchDB-compatible database
type CouchDBConfig struct {
	Protocol string
	Host     string
	Database string
	Username string
	Password string

	// When TokenURL is set requests are authorized with OAuth2 client credentials
	// instead of basic auth.
	TokenURL     string
	ClientID     string
	ClientSecret string

	Limit   int
	Timeout time.Duration
}

// BaseURL returns protocol://host, defaulting the protocol to https
func (c CouchDBConfig) BaseURL() string {
	protocol := c.Protocol
	if protocol == "" {
		protocol = defaultProtocol
	}
	return fmt.Sprintf("%s://%s", protocol, strings.TrimSuffix(c.Host, "/"))
}

// CouchDBEndpoint replicates through the CouchDB HTTP API
type CouchDBEndpoint struct {
	baseURL    string
	database   string
	username   string
	password   string
	limit      int
	httpClient *http.Client
}

// NewCouchDBEndpoint creates an endpoint for cfg
func NewCouchDBEndpoint(cfg CouchDBConfig) (*CouchDBEndpoint, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("remote host is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("remote database is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultPullLimit
	}

	client := &http.Client{Timeout: timeout}
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		client = cc.Client(context.Background())
		client.Timeout = timeout
	}

	return &CouchDBEndpoint{
		baseURL:    cfg.BaseURL(),
		database:   cfg.Database,
		username:   cfg.Username,
		password:   cfg.Password,
		limit:      limit,
		httpClient: client,
	}, nil
}

type changesResponse struct {
	Results []struct {
		ID      string          `json:"id"`
		Deleted bool            `json:"deleted"`
		Doc     codec.Document  `json:"doc"`
		Seq     json.RawMessage `json:"seq"`
	} `json:"results"`
	LastSeq json.RawMessage `json:"last_seq"`
}

// FetchChangesSince reads one page of the _changes feed
func (e *CouchDBEndpoint) FetchChangesSince(ctx context.Context, cursor string) (ChangeBatch, error) {
	q := url.Values{}
	q.Set("include_docs", "true")
	q.Set("limit", strconv.Itoa(e.limit))
	if cursor != "" {
		q.Set("since", cursor)
	}

	var resp changesResponse
	if err := e.do(ctx, "fetch changes", http.MethodGet, e.dbURL("_changes")+"?"+q.Encode(), nil, &resp); err != nil {
		return ChangeBatch{}, err
	}

	batch := ChangeBatch{Documents: make([]codec.Document, 0, len(resp.Results)), Cursor: cursor}
	for _, row := range resp.Results {
		if row.Deleted || row.Doc == nil || strings.HasPrefix(row.ID, "_design/") {
			continue
		}
		batch.Documents = append(batch.Documents, row.Doc)
	}
	if seq := seqString(resp.LastSeq); seq != "" {
		batch.Cursor = seq
	}
	return batch, nil
}

type bulkRow struct {
	ID     string `json:"id"`
	Rev    string `json:"rev"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

const errConflict = "conflict"

// Submit posts docs through _bulk_docs. Documents that conflict with an existing
// revision are resubmitted once against the current revision, so a write whose
// response was lost is not rejected forever.
func (e *CouchDBEndpoint) Submit(ctx context.Context, docs []codec.Document) ([]SubmitResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	rows, err := e.bulkDocs(ctx, docs)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]codec.Document, len(docs))
	for _, doc := range docs {
		if id, ok := doc[codec.FieldID].(string); ok {
			byID[id] = doc
		}
	}

	var conflicts []string
	for _, row := range rows {
		if row.Error == errConflict && byID[row.ID] != nil {
			conflicts = append(conflicts, row.ID)
		}
	}
	if len(conflicts) > 0 {
		if retried, err := e.resolveConflicts(ctx, conflicts, byID); err == nil {
			for i, row := range rows {
				if r, ok := retried[row.ID]; ok && row.Error == errConflict {
					rows[i] = r
				}
			}
		}
	}

	results := make([]SubmitResult, 0, len(rows))
	for _, row := range rows {
		res := SubmitResult{ID: row.ID, Accepted: row.Error == ""}
		if !res.Accepted {
			res.Reason = row.Error
			if row.Reason != "" {
				res.Reason += ": " + row.Reason
			}
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *CouchDBEndpoint) bulkDocs(ctx context.Context, docs []codec.Document) ([]bulkRow, error) {
	body, err := json.Marshal(map[string]interface{}{"docs": docs})
	if err != nil {
		return nil, fmt.Errorf("failed to encode bulk request: %w", err)
	}

	var rows []bulkRow
	if err := e.do(ctx, "submit", http.MethodPost, e.dbURL("_bulk_docs"), body, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

type allDocsResponse struct {
	Rows []struct {
		ID    string `json:"id"`
		Error string `json:"error"`
		Value struct {
			Rev     string `json:"rev"`
			Deleted bool   `json:"deleted"`
		} `json:"value"`
	} `json:"rows"`
}

// resolveConflicts resubmits the conflicting documents on top of their current revisions
func (e *CouchDBEndpoint) resolveConflicts(ctx context.Context, ids []string, byID map[string]codec.Document) (map[string]bulkRow, error) {
	revs, err := e.revisions(ctx, ids)
	if err != nil {
		return nil, err
	}

	retry := make([]codec.Document, 0, len(revs))
	for _, id := range ids {
		rev, ok := revs[id]
		if !ok {
			continue
		}
		retry = append(retry, byID[id].With(codec.FieldRev, rev))
	}
	if len(retry) == 0 {
		return nil, nil
	}

	rows, err := e.bulkDocs(ctx, retry)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bulkRow, len(rows))
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// revisions returns the current revision of each existing document
func (e *CouchDBEndpoint) revisions(ctx context.Context, ids []string) (map[string]string, error) {
	body, err := json.Marshal(map[string]interface{}{"keys": ids})
	if err != nil {
		return nil, fmt.Errorf("failed to encode revision lookup: %w", err)
	}

	var resp allDocsResponse
	if err := e.do(ctx, "lookup revisions", http.MethodPost, e.dbURL("_all_docs"), body, &resp); err != nil {
		return nil, err
	}

	revs := make(map[string]string, len(resp.Rows))
	for _, row := range resp.Rows {
		if row.Error != "" || row.Value.Rev == "" {
			continue
		}
		revs[row.ID] = row.Value.Rev
	}
	return revs, nil
}

func (e *CouchDBEndpoint) dbURL(path string) string {
	return fmt.Sprintf("%s/%s/%s", e.baseURL, url.PathEscape(e.database), path)
}

func (e *CouchDBEndpoint) do(ctx context.Context, op, method, target string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return transportErr(op, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.username != "" {
		req.SetBasicAuth(e.username, e.password)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return transportErr(op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return transportErr(op, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(msg))))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return transportErr(op, resp.StatusCode, fmt.Errorf("invalid response: %w", err))
	}
	return nil
}

// seqString renders a CouchDB sequence, which is a number on 1.x and an opaque string later
func seqString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
