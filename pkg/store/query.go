package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marqocore/vespacore/pkg/apperr"
)

// QueryHit is a single result row as returned by the store.
type QueryHit struct {
	ID       string
	Relevance float64
	Fields   map[string]any
}

// QueryResult is the raw store response to a single query RPC.
type QueryResult struct {
	Hits  []QueryHit
	Total int
}

type queryResponseEnvelope struct {
	Root struct {
		Fields struct {
			TotalCount int `json:"totalCount"`
		} `json:"fields"`
		Children []struct {
			ID        string         `json:"id"`
			Relevance float64        `json:"relevance"`
			Fields    map[string]any `json:"fields"`
		} `json:"children"`
		Errors []struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"root"`
}

// Query issues a single query RPC carrying yql (opaque placeholder,
// per §4.5.6 "not evaluated; rank profile is custom") and the feature
// map the Hybrid Search Coordinator builds (§4.5.6). A store-side
// timeout maps to a typed Timeout error; any other failure maps to
// Status with every subordinate error summary (§4.1).
func (c *Client) Query(ctx context.Context, yql string, features map[string]any, timeout time.Duration) (result *QueryResult, err error) {
	ctx, endSpan := startRPCSpan(ctx, "Query")
	defer func() { endSpan(err) }()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"yql":            yql,
		"query_features": features,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGeneric, "encode query request", err)
	}

	url := c.config.QueryURL + "/search/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGeneric, "build query request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.queryPool.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetworkError, "query request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetworkError, "read query response", err)
	}

	var parsed queryResponseEnvelope
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode != http.StatusOK {
		var subordinate []string
		for _, e := range parsed.Root.Errors {
			subordinate = append(subordinate, fmt.Sprintf("[%d] %s", e.Code, e.Message))
		}
		if len(subordinate) == 0 {
			subordinate = []string{string(respBody)}
		}
		return nil, translateQueryError(resp.StatusCode, subordinate)
	}

	hits := make([]QueryHit, len(parsed.Root.Children))
	for i, child := range parsed.Root.Children {
		hits[i] = QueryHit{ID: child.ID, Relevance: child.Relevance, Fields: child.Fields}
	}
	return &QueryResult{Hits: hits, Total: parsed.Root.Fields.TotalCount}, nil
}
