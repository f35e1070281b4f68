package store

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/marqocore/vespacore/pkg/apperr"
	"go.opentelemetry.io/otel/attribute"
)

// DeployApplication gzip-streams dir as a tar archive and POSTs it as
// one request to the config cluster's prepareandactivate endpoint
// (§4.1, §6.1). Package-validation failures surface as a distinct
// InvalidApplicationPackage kind so callers can distinguish "your
// bundle is malformed" from every other deploy failure.
func (c *Client) DeployApplication(ctx context.Context, dir string, timeout time.Duration) (err error) {
	ctx, endSpan := startRPCSpan(ctx, "DeployApplication")
	defer func() { endSpan(err) }()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tarDirectory(tw, dir); err != nil {
		return apperr.Wrap(apperr.KindInvalidApplicationPackage, "failed to package application bundle", err)
	}
	if err := tw.Close(); err != nil {
		return apperr.Wrap(apperr.KindInvalidApplicationPackage, "failed to close tar writer", err)
	}
	if err := gz.Close(); err != nil {
		return apperr.Wrap(apperr.KindInvalidApplicationPackage, "failed to close gzip writer", err)
	}

	url := c.config.ConfigURL + "/application/v2/tenant/default/prepareandactivate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return apperr.Wrap(apperr.KindGeneric, "build deploy request", err)
	}
	req.Header.Set("Content-Type", "application/x-gzip")

	resp, err := c.configPool.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindNetworkError, "deploy request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		return apperr.Newf(apperr.KindActivationConflict, "application activation conflict: %s", string(body))
	case http.StatusBadRequest:
		return apperr.Newf(apperr.KindInvalidApplicationPackage, "invalid application package: %s", string(body))
	default:
		return apperr.Newf(apperr.KindStatus, "deploy failed with HTTP %d: %s", resp.StatusCode, string(body))
	}
}

func tarDirectory(tw *tar.Writer, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// Session wraps a deployment session's opaque contentBaseUrl/prepareUrl
// pair (§4.1). All subsequent file operations against a Session must
// traverse the Client's single configPool to preserve cookie-based
// stickiness to the node that created it.
type Session struct {
	ContentBaseURL string
	PrepareURL     string
	SessionID      string
}

type createSessionResponse struct {
	Content  string `json:"content"`
	Prepared string `json:"prepared"`
	SessionID string `json:"session-id"`
}

// CreateDeploymentSession opens a new session on the config cluster.
func (c *Client) CreateDeploymentSession(ctx context.Context) (sess *Session, err error) {
	ctx, endSpan := startRPCSpan(ctx, "CreateDeploymentSession")
	defer func() { endSpan(err) }()

	url := fmt.Sprintf("%s/application/v2/tenant/default/session?from=%s/application/v2/tenant/default/application/default",
		c.config.ConfigURL, c.config.ConfigURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGeneric, "build session request", err)
	}

	resp, err := c.configPool.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetworkError, "create deployment session failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperr.Newf(apperr.KindStatus, "create session failed with HTTP %d: %s", resp.StatusCode, string(body))
	}

	var parsed createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindStatus, "decode session response", err)
	}
	return &Session{ContentBaseURL: parsed.Content, PrepareURL: parsed.Prepared, SessionID: parsed.SessionID}, nil
}

// PutSessionFile writes one file's contents into an open session.
func (c *Client) PutSessionFile(ctx context.Context, sess *Session, relPath string, data []byte) error {
	return c.sessionFileOp(ctx, http.MethodPut, sess, relPath, data)
}

// DeleteSessionFile removes one file from an open session.
func (c *Client) DeleteSessionFile(ctx context.Context, sess *Session, relPath string) error {
	return c.sessionFileOp(ctx, http.MethodDelete, sess, relPath, nil)
}

func (c *Client) sessionFileOp(ctx context.Context, method string, sess *Session, relPath string, data []byte) (err error) {
	ctx, endSpan := startRPCSpan(ctx, "SessionFileOp", attribute.String("method", method), attribute.String("path", relPath))
	defer func() { endSpan(err) }()

	url := sess.ContentBaseURL + relPath
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return apperr.Wrap(apperr.KindGeneric, "build session file request", err)
	}
	resp, err := c.configPool.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindNetworkError, "session file operation failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return apperr.Newf(apperr.KindStatus, "session file op %s %s failed with HTTP %d: %s", method, relPath, resp.StatusCode, string(respBody))
	}
	return nil
}

type sessionEntry struct {
	Path string `json:"path"`
}

// DownloadApplication enumerates and fetches every file under sess
// into a fresh temporary directory tree, skipping entries whose last
// path segment has no dot (directories), per §4.1.
func (c *Client) DownloadApplication(ctx context.Context) (string, *Session, error) {
	sess, err := c.getSessionListing(ctx)
	if err != nil {
		return "", nil, err
	}

	dir, err := os.MkdirTemp("", "marqocore-app-")
	if err != nil {
		return "", nil, apperr.Wrap(apperr.KindGeneric, "create temp directory", err)
	}

	entries, err := c.listSessionFiles(ctx, sess)
	if err != nil {
		return "", nil, err
	}
	for _, entry := range entries {
		last := entry
		if idx := strings.LastIndex(entry, "/"); idx >= 0 {
			last = entry[idx+1:]
		}
		if !strings.Contains(last, ".") {
			continue // directory entry
		}
		data, err := c.getSessionFile(ctx, sess, entry)
		if err != nil {
			return "", nil, err
		}
		dest := filepath.Join(dir, filepath.FromSlash(entry))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", nil, apperr.Wrap(apperr.KindGeneric, "create directory tree", err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return "", nil, apperr.Wrap(apperr.KindGeneric, "write downloaded file", err)
		}
	}
	return dir, sess, nil
}

func (c *Client) getSessionListing(ctx context.Context) (*Session, error) {
	// The current active session is re-derived by creating a fresh
	// session against the currently-active application; a true
	// "download the active app" call opens a session with from=
	// pointing at the active instance rather than a blank one.
	return c.CreateDeploymentSession(ctx)
}

func (c *Client) listSessionFiles(ctx context.Context, sess *Session) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sess.ContentBaseURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGeneric, "build listing request", err)
	}
	resp, err := c.configPool.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetworkError, "list session files failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperr.Newf(apperr.KindStatus, "list session files failed with HTTP %d: %s", resp.StatusCode, string(body))
	}
	var listing struct {
		Entries []sessionEntry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, apperr.Wrap(apperr.KindStatus, "decode session listing", err)
	}
	paths := make([]string, len(listing.Entries))
	for i, e := range listing.Entries {
		paths[i] = e.Path
	}
	return paths, nil
}

// GetSessionFile fetches one file's content from an open session.
// A 404 is reported as (nil, false, nil) — the Application Package
// Manager uses this to distinguish "file not yet created" (first
// bootstrap) from a transport failure.
func (c *Client) GetSessionFile(ctx context.Context, sess *Session, relPath string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sess.ContentBaseURL+relPath, nil)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindGeneric, "build file fetch request", err)
	}
	resp, err := c.configPool.Do(req)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindNetworkError, "fetch session file failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, false, apperr.Newf(apperr.KindStatus, "fetch session file failed with HTTP %d: %s", resp.StatusCode, string(body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindNetworkError, "read session file", err)
	}
	return data, true, nil
}

func (c *Client) getSessionFile(ctx context.Context, sess *Session, relPath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sess.ContentBaseURL+relPath, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGeneric, "build file fetch request", err)
	}
	resp, err := c.configPool.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetworkError, "fetch session file failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperr.Newf(apperr.KindStatus, "fetch session file failed with HTTP %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// PrepareAndActivate PUTs the session's prepareUrl, then PUTs the
// activate URL returned in the prepare response (§4.1, §4.2's deploy
// protocol).
func (c *Client) PrepareAndActivate(ctx context.Context, sess *Session) (err error) {
	ctx, endSpan := startRPCSpan(ctx, "PrepareAndActivate")
	defer func() { endSpan(err) }()

	prepareReq, err := http.NewRequestWithContext(ctx, http.MethodPut, sess.PrepareURL, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindGeneric, "build prepare request", err)
	}
	prepareResp, err := c.configPool.Do(prepareReq)
	if err != nil {
		return apperr.Wrap(apperr.KindNetworkError, "prepare request failed", err)
	}
	defer prepareResp.Body.Close()

	var prepared struct {
		Activate string `json:"activate"`
	}
	if err := json.NewDecoder(prepareResp.Body).Decode(&prepared); err != nil {
		return apperr.Wrap(apperr.KindStatus, "decode prepare response", err)
	}
	if prepareResp.StatusCode == http.StatusConflict {
		return apperr.New(apperr.KindActivationConflict, "prepare conflicted with a concurrent deploy")
	}
	if prepareResp.StatusCode != http.StatusOK {
		return apperr.Newf(apperr.KindStatus, "prepare failed with HTTP %d", prepareResp.StatusCode)
	}

	activateReq, err := http.NewRequestWithContext(ctx, http.MethodPut, prepared.Activate, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindGeneric, "build activate request", err)
	}
	activateResp, err := c.configPool.Do(activateReq)
	if err != nil {
		return apperr.Wrap(apperr.KindNetworkError, "activate request failed", err)
	}
	defer activateResp.Body.Close()

	if activateResp.StatusCode == http.StatusConflict {
		return apperr.New(apperr.KindActivationConflict, "activation lost a race with a concurrent deploy")
	}
	if activateResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(activateResp.Body)
		return apperr.Newf(apperr.KindStatus, "activate failed with HTTP %d: %s", activateResp.StatusCode, string(body))
	}
	return nil
}

type convergenceResponse struct {
	CurrentGeneration int64 `json:"currentGeneration"`
	WantedGeneration  int64 `json:"wantedGeneration"`
	Converged         bool  `json:"converged"`
}

// WaitForApplicationConvergence polls every ConvergencePollEvery (once
// per second when unset), accepting
// transient timeouts, until the store reports converged=true or
// timeout elapses (§4.1).
func (c *Client) WaitForApplicationConvergence(ctx context.Context, timeout time.Duration) (err error) {
	ctx, endSpan := startRPCSpan(ctx, "WaitForApplicationConvergence")
	defer func() { endSpan(err) }()

	deadline := time.Now().Add(timeout)
	interval := c.config.ConvergencePollEvery
	if interval <= 0 {
		interval = time.Second
	}
	url := c.config.ConfigURL + "/application/v2/tenant/default/application/default/environment/default/region/default/instance/default/serviceconverge"

	for {
		converged, err := c.pollConvergence(ctx, url)
		if err == nil && converged {
			return nil
		}
		if time.Now().After(deadline) {
			return apperr.New(apperr.KindNotConverged, "store has not converged in time")
		}
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.KindNotConverged, "convergence wait cancelled", ctx.Err())
		case <-time.After(interval):
		}
	}
}

func (c *Client) pollConvergence(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.configPool.Do(req)
	if err != nil {
		return false, err // transient: treated as "not yet converged"
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("serviceconverge returned HTTP %d", resp.StatusCode)
	}
	var parsed convergenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, err
	}
	return parsed.Converged, nil
}

// Version fetches the deployed store version.
func (c *Client) Version(ctx context.Context) (version string, err error) {
	ctx, endSpan := startRPCSpan(ctx, "Version")
	defer func() { endSpan(err) }()

	url := c.config.ConfigURL + "/state/v1/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindGeneric, "build version request", err)
	}
	resp, err := c.configPool.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindNetworkError, "version request failed", err)
	}
	defer resp.Body.Close()
	var parsed struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperr.Wrap(apperr.KindStatus, "decode version response", err)
	}
	return parsed.Version, nil
}
