package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Outcome is the per-document result of a batch feed/get/update/delete
// call, tagged per §9 ("Result types"): either ok with the document
// id, or err with a translated HTTP-shaped status and message.
type Outcome struct {
	ID      string
	Status  int
	Message string
	Doc     map[string]any // populated only by GetBatch on a 200
}

func (o Outcome) OK() bool { return o.Status == 200 }

// BatchResult is the aggregate of a batch operation (§9).
type BatchResult struct {
	Errors bool
	Items  []Outcome
}

// FeedItem is one document to feed, already converted to the store's
// wire shape by the Document Pipeline.
type FeedItem struct {
	ID     string
	Fields map[string]any
}

// FeedBatch fans out over a bounded semaphore (capacity = concurrency)
// per §4.1/§5/§9's channel-per-batch pattern: the calling goroutine
// owns the result slice in input order; workers send (index, outcome)
// back over a channel. A 200 that cannot be JSON-decoded aborts the
// whole batch (signals store corruption, per §4.1).
func (c *Client) FeedBatch(ctx context.Context, schema string, items []FeedItem, concurrency int, timeout time.Duration) (result BatchResult, err error) {
	ctx, endSpan := startRPCSpan(ctx, "FeedBatch", attribute.String("schema", schema), attribute.Int("items", len(items)))
	defer func() { endSpan(err) }()

	if concurrency <= 0 {
		concurrency = c.config.FeedConcurrency
	}
	type slot struct {
		idx     int
		outcome Outcome
		abort   error
	}
	results := make([]Outcome, len(items))
	resultCh := make(chan slot, len(items))
	sem := make(chan struct{}, concurrency)

	for i, item := range items {
		i, item := i, item
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			outcome, abortErr := c.feedOne(ctx, schema, item, timeout)
			resultCh <- slot{idx: i, outcome: outcome, abort: abortErr}
		}()
	}

	var aborted error
	errorsSeen := false
	for range items {
		s := <-resultCh
		if s.abort != nil && aborted == nil {
			aborted = s.abort
		}
		results[s.idx] = s.outcome
		if !s.outcome.OK() {
			errorsSeen = true
		}
	}
	if aborted != nil {
		return BatchResult{}, aborted
	}
	return BatchResult{Errors: errorsSeen, Items: results}, nil
}

func (c *Client) feedOne(ctx context.Context, schema string, item FeedItem, timeout time.Duration) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"fields": item.Fields})
	if err != nil {
		return Outcome{ID: item.ID, Status: 500, Message: "failed to encode document"}, nil
	}

	url := fmt.Sprintf("%s/document/v1/%s/%s/docid/%s", c.config.DocumentURL, schema, schema, item.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{ID: item.ID, Status: 500, Message: "failed to build request"}, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.documentPool.Do(req)
	if err != nil {
		// RequestError -> synthetic 500/"Network Error" for this doc only (§4.1).
		return Outcome{ID: item.ID, Status: 500, Message: "Network Error"}, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusOK {
		var decoded map[string]any
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return Outcome{}, fmt.Errorf("store returned 200 with undecodable body for doc %q: %w", item.ID, err)
		}
		return Outcome{ID: item.ID, Status: 200}, nil
	}
	status, msg := translateDocStatus(resp.StatusCode, string(respBody), false)
	return Outcome{ID: item.ID, Status: status, Message: msg}, nil
}

// GetBatch issues concurrent GETs; a 404 is a normal per-doc outcome,
// not an error (§4.1).
func (c *Client) GetBatch(ctx context.Context, schema string, ids []string, fields []string, concurrency int, timeout time.Duration) (result BatchResult, err error) {
	ctx, endSpan := startRPCSpan(ctx, "GetBatch", attribute.String("schema", schema), attribute.Int("ids", len(ids)))
	defer func() { endSpan(err) }()

	if concurrency <= 0 {
		concurrency = c.config.GetConcurrency
	}
	results := make([]Outcome, len(ids))
	type slot struct {
		idx     int
		outcome Outcome
	}
	resultCh := make(chan slot, len(ids))
	sem := make(chan struct{}, concurrency)

	for i, id := range ids {
		i, id := i, id
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			resultCh <- slot{idx: i, outcome: c.getOne(ctx, schema, id, fields, timeout)}
		}()
	}

	errorsSeen := false
	for range ids {
		s := <-resultCh
		results[s.idx] = s.outcome
		if !s.outcome.OK() {
			errorsSeen = true
		}
	}
	return BatchResult{Errors: errorsSeen, Items: results}, nil
}

func (c *Client) getOne(ctx context.Context, schema, id string, fields []string, timeout time.Duration) Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/document/v1/%s/%s/docid/%s", c.config.DocumentURL, schema, schema, id)
	if len(fields) > 0 {
		url += fmt.Sprintf("?fieldSet=%s:%s", schema, strings.Join(fields, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Outcome{ID: id, Status: 500, Message: "failed to build request"}
	}
	resp, err := c.documentPool.Do(req)
	if err != nil {
		return Outcome{ID: id, Status: 500, Message: "Network Error"}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusOK {
		var decoded struct {
			Fields map[string]any `json:"fields"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return Outcome{ID: id, Status: 500, Message: "unexpected error: undecodable response body"}
		}
		return Outcome{ID: id, Status: 200, Doc: decoded.Fields}
	}
	status, msg := translateDocStatus(resp.StatusCode, string(body), false)
	return Outcome{ID: id, Status: status, Message: msg}
}

// UpdatePrecondition encodes the optimistic-concurrency condition for
// one partial update (§4.1): id match, per-fieldTypes-entry type
// compatibility (never tensor), and createTimestamp equality if
// present.
type UpdatePrecondition struct {
	FieldTypes      map[string]string
	CreateTimestamp *float64
}

// UpdateItem is one partial-update patch to apply.
type UpdateItem struct {
	ID            string
	Fields        map[string]any
	Precondition  UpdatePrecondition
}

// UpdateDocumentsBatch issues PUTs with the §4.1 composite condition
// string. A 412 is translated to 404 when the update carried no
// type/timestamp preconditions (document truly absent); otherwise to 400 with the documentation-link message.
func (c *Client) UpdateDocumentsBatch(ctx context.Context, schema string, items []UpdateItem, concurrency int, timeout time.Duration) (result BatchResult, err error) {
	ctx, endSpan := startRPCSpan(ctx, "UpdateDocumentsBatch", attribute.String("schema", schema), attribute.Int("items", len(items)))
	defer func() { endSpan(err) }()

	if concurrency <= 0 {
		concurrency = c.config.PartialUpdateConcurrency
	}
	results := make([]Outcome, len(items))
	type slot struct {
		idx     int
		outcome Outcome
	}
	resultCh := make(chan slot, len(items))
	sem := make(chan struct{}, concurrency)

	for i, item := range items {
		i, item := i, item
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			resultCh <- slot{idx: i, outcome: c.updateOne(ctx, schema, item, timeout)}
		}()
	}

	errorsSeen := false
	for range items {
		s := <-resultCh
		results[s.idx] = s.outcome
		if !s.outcome.OK() {
			errorsSeen = true
		}
	}
	return BatchResult{Errors: errorsSeen, Items: results}, nil
}

func buildUpdateCondition(id string, pre UpdatePrecondition) string {
	parts := []string{fmt.Sprintf("id = %q", id)}
	for field, want := range pre.FieldTypes {
		parts = append(parts, fmt.Sprintf("(%s.type == %q || !(%s.type))", field, want, field))
		parts = append(parts, fmt.Sprintf("%s.type != \"tensor\"", field))
	}
	if pre.CreateTimestamp != nil {
		parts = append(parts, fmt.Sprintf("createTimestamp == %v", *pre.CreateTimestamp))
	}
	return strings.Join(parts, " AND ")
}

func (c *Client) updateOne(ctx context.Context, schema string, item UpdateItem, timeout time.Duration) Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	carriedPrecondition := len(item.Precondition.FieldTypes) > 0 || item.Precondition.CreateTimestamp != nil
	body, err := json.Marshal(map[string]any{
		"fields":    item.Fields,
		"condition": buildUpdateCondition(item.ID, item.Precondition),
	})
	if err != nil {
		return Outcome{ID: item.ID, Status: 500, Message: "failed to encode update"}
	}

	url := fmt.Sprintf("%s/document/v1/%s/%s/docid/%s?create=false", c.config.DocumentURL, schema, schema, item.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{ID: item.ID, Status: 500, Message: "failed to build request"}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.documentPool.Do(req)
	if err != nil {
		return Outcome{ID: item.ID, Status: 500, Message: "Network Error"}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusOK {
		return Outcome{ID: item.ID, Status: 200}
	}
	status, msg := translateDocStatus(resp.StatusCode, string(respBody), carriedPrecondition)
	return Outcome{ID: item.ID, Status: status, Message: msg}
}

// DeleteBatch deletes a set of documents by id, analogous to FeedBatch.
func (c *Client) DeleteBatch(ctx context.Context, schema string, ids []string, concurrency int, timeout time.Duration) (result BatchResult, err error) {
	ctx, endSpan := startRPCSpan(ctx, "DeleteBatch", attribute.String("schema", schema), attribute.Int("ids", len(ids)))
	defer func() { endSpan(err) }()

	if concurrency <= 0 {
		concurrency = c.config.DeleteConcurrency
	}
	results := make([]Outcome, len(ids))
	type slot struct {
		idx     int
		outcome Outcome
	}
	resultCh := make(chan slot, len(ids))
	sem := make(chan struct{}, concurrency)

	for i, id := range ids {
		i, id := i, id
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			resultCh <- slot{idx: i, outcome: c.deleteOne(ctx, schema, id, timeout)}
		}()
	}

	errorsSeen := false
	for range ids {
		s := <-resultCh
		results[s.idx] = s.outcome
		if !s.outcome.OK() {
			errorsSeen = true
		}
	}
	return BatchResult{Errors: errorsSeen, Items: results}, nil
}

func (c *Client) deleteOne(ctx context.Context, schema, id string, timeout time.Duration) Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/document/v1/%s/%s/docid/%s", c.config.DocumentURL, schema, schema, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return Outcome{ID: id, Status: 500, Message: "failed to build request"}
	}
	resp, err := c.documentPool.Do(req)
	if err != nil {
		return Outcome{ID: id, Status: 500, Message: "Network Error"}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusOK {
		return Outcome{ID: id, Status: 200}
	}
	status, msg := translateDocStatus(resp.StatusCode, string(body), false)
	return Outcome{ID: id, Status: status, Message: msg}
}

// DeleteAllDocs deletes every document in schema on a given cluster,
// via the store's selection-based bulk delete endpoint.
func (c *Client) DeleteAllDocs(ctx context.Context, schema, cluster string, timeout time.Duration) (err error) {
	ctx, endSpan := startRPCSpan(ctx, "DeleteAllDocs", attribute.String("schema", schema), attribute.String("cluster", cluster))
	defer func() { endSpan(err) }()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/document/v1/%s/%s/docid/?cluster=%s&selection=true", c.config.DocumentURL, schema, schema, cluster)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.documentPool.Do(req)
	if err != nil {
		return fmt.Errorf("delete-all-docs request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete-all-docs failed with HTTP %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
