package pipeline

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/marqocore/vespacore/pkg/apperr"
	"github.com/marqocore/vespacore/pkg/model"
	"github.com/marqocore/vespacore/pkg/vectoriser"
)

// MediaDecoder turns downloaded media bytes into one or more ordered
// pre-encoded tensor chunks ready for Vectoriser.Input.PreEncoded
// (§4.4.3 step 6: optional inline preprocessing/chunking).
//
// No codec or ffmpeg binding is wired here: decoding media is an
// external capability, the same boundary the Vectoriser already draws
// around model inference (see pkg/vectoriser's package doc). Callers
// supply a concrete MediaDecoder backed by whatever decode service
// their deployment runs.
type MediaDecoder interface {
	Decode(ctx context.Context, modality vectoriser.Modality, data []byte) ([][]float32, error)
}

// MediaPolicy controls concurrency and size limits for media acquisition
// (§4.4.3 step 4).
type MediaPolicy struct {
	// PerRequestConcurrency, when non-zero, overrides every other
	// source (§4.4.3 step 4's top precedence tier).
	PerRequestConcurrency int

	ImageConcurrency int
	MediaConcurrency int // audio/video
	Timeout          time.Duration
	MaxBytes         int64
}

func (p MediaPolicy) concurrencyFor(m vectoriser.Modality) int {
	if p.PerRequestConcurrency > 0 {
		return p.PerRequestConcurrency
	}
	if m == vectoriser.ModalityImage {
		if p.ImageConcurrency > 0 {
			return p.ImageConcurrency
		}
		return 20
	}
	if p.MediaConcurrency > 0 {
		return p.MediaConcurrency
	}
	return 5
}

// mediaResult is the outcome of resolving one URL to decoded,
// pre-encoded tensor chunks ready for Vectoriser.Input.PreEncoded.
type mediaResult struct {
	modality vectoriser.Modality
	chunks   [][]float32
	err      error
}

var extModality = map[string]vectoriser.Modality{
	".jpg": vectoriser.ModalityImage, ".jpeg": vectoriser.ModalityImage,
	".png": vectoriser.ModalityImage, ".gif": vectoriser.ModalityImage,
	".bmp": vectoriser.ModalityImage, ".webp": vectoriser.ModalityImage,
	".mp4": vectoriser.ModalityVideo, ".mov": vectoriser.ModalityVideo,
	".avi": vectoriser.ModalityVideo, ".webm": vectoriser.ModalityVideo,
	".mp3": vectoriser.ModalityAudio, ".wav": vectoriser.ModalityAudio,
	".flac": vectoriser.ModalityAudio, ".ogg": vectoriser.ModalityAudio,
}

var contentTypeModality = map[string]vectoriser.Modality{
	"image/": vectoriser.ModalityImage,
	"video/": vectoriser.ModalityVideo,
	"audio/": vectoriser.ModalityAudio,
}

// collectMediaURLs gathers every distinct URL referenced by a tensor
// candidate or pointer field across kept documents, so each is only
// downloaded once regardless of how many documents reference it
// (§4.4.3 step 4's shared URL-keyed dedup map).
func collectMediaURLs(kept []*resolvedDoc) []string {
	seen := map[string]bool{}
	var urls []string
	for _, rd := range kept {
		for _, v := range rd.tensorCandidates {
			if looksLikeURL(v) && !seen[v] {
				seen[v] = true
				urls = append(urls, v)
			}
		}
	}
	return urls
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// inferAllModalities resolves each URL's modality by extension, falling
// back to a HEAD-style content-type probe when the extension is
// unrecognized (§4.4.3 step 1).
func inferAllModalities(ctx context.Context, urls []string, headers map[string]string, client *http.Client) (map[string]vectoriser.Modality, map[string]error) {
	out := make(map[string]vectoriser.Modality, len(urls))
	errs := map[string]error{}
	for _, u := range urls {
		m, err := inferModality(ctx, u, headers, client)
		if err != nil {
			errs[u] = err
			continue
		}
		out[u] = m
	}
	return out, errs
}

func inferModality(ctx context.Context, url string, headers map[string]string, client *http.Client) (vectoriser.Modality, error) {
	ext := strings.ToLower(path.Ext(strings.SplitN(url, "?", 2)[0]))
	if m, ok := extModality[ext]; ok {
		return m, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindMediaDownloadError, "building modality probe request for "+url, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindMediaDownloadError, "probing content type for "+url, err)
	}
	resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	for prefix, m := range contentTypeModality {
		if strings.HasPrefix(ct, prefix) {
			return m, nil
		}
	}
	return "", apperr.Newf(apperr.KindUnsupportedModality, "cannot determine modality of %s from extension or content type %q", url, ct)
}

// acquireMedia downloads and decodes every URL in modalities
// concurrently, bounded by policy's per-modality concurrency, and
// collects one mediaResult per URL regardless of individual failures
// (§4.4.3 steps 4-6). A plain WaitGroup/semaphore/mutex is used instead
// of an error-group because a failed download must not abort sibling
// downloads in the same batch — each URL's outcome is reported
// independently to the embedding stage.
func acquireMedia(ctx context.Context, client *http.Client, decoder MediaDecoder, modalities map[string]vectoriser.Modality, headers map[string]string, policy MediaPolicy) map[string]mediaResult {
	results := make(map[string]mediaResult, len(modalities))
	if len(modalities) == 0 {
		return results
	}

	byModality := map[vectoriser.Modality][]string{}
	for u, m := range modalities {
		byModality[m] = append(byModality[m], u)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for m, urls := range byModality {
		sem := make(chan struct{}, policy.concurrencyFor(m))
		for _, u := range urls {
			wg.Add(1)
			go func(u string, m vectoriser.Modality) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				res := downloadAndDecode(ctx, client, decoder, u, m, headers, policy)
				mu.Lock()
				results[u] = res
				mu.Unlock()
			}(u, m)
		}
	}
	wg.Wait()
	return results
}

func downloadAndDecode(ctx context.Context, client *http.Client, decoder MediaDecoder, url string, m vectoriser.Modality, headers map[string]string, policy MediaPolicy) mediaResult {
	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dctx, http.MethodGet, url, nil)
	if err != nil {
		return mediaResult{err: apperr.Wrap(apperr.KindMediaDownloadError, "building download request for "+url, err)}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return mediaResult{err: apperr.Wrap(apperr.KindMediaDownloadError, "downloading "+url, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return mediaResult{err: apperr.Newf(apperr.KindMediaDownloadError, "downloading %s: status %d", url, resp.StatusCode)}
	}

	maxBytes := policy.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 384 * 1024 * 1024
	}
	limited := io.LimitReader(resp.Body, maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return mediaResult{err: apperr.Wrap(apperr.KindMediaDownloadError, "reading "+url, err)}
	}
	if int64(len(data)) > maxBytes {
		return mediaResult{err: apperr.Newf(apperr.KindMediaExceedsMaxSize, "%s exceeds maximum size of %d bytes", url, maxBytes)}
	}

	if decoder == nil {
		return mediaResult{err: apperr.Newf(apperr.KindUnsupportedModality, "no media decoder configured to embed %s content from %s", m, url)}
	}
	chunks, err := decoder.Decode(dctx, m, data)
	if err != nil {
		return mediaResult{err: apperr.Wrap(apperr.KindMediaDownloadError, "decoding "+url, err)}
	}
	return mediaResult{modality: m, chunks: chunks}
}

// checkModalityAgainstIndex applies §4.4.3 step 2's index-type gating:
// Structured pointer fields have a fixed expected modality, and a
// mismatch is a per-document error rather than a silent coercion.
func checkModalityAgainstIndex(fieldType model.FieldType, got vectoriser.Modality) error {
	var want vectoriser.Modality
	switch fieldType {
	case model.FieldTypeImagePointer:
		want = vectoriser.ModalityImage
	case model.FieldTypeVideoPointer:
		want = vectoriser.ModalityVideo
	case model.FieldTypeAudioPointer:
		want = vectoriser.ModalityAudio
	default:
		return nil
	}
	if got != want {
		return apperr.Newf(apperr.KindMediaMismatch, "field declared as %s but content resolved to modality %s", fieldType, got)
	}
	return nil
}
