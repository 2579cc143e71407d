package discovery

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var documentMIMEPrefixes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument",
	"application/vnd.ms-excel",
	"application/vnd.ms-powerpoint",
	"text/plain",
	"text/markdown",
	"text/x-markdown",
	"text/csv",
	"application/rtf",
	"text/rtf",
}

// IsLikelyDownloadable decides whether a probed resource is a document. An
// attachment disposition wins, then a document MIME type, then the URL's
// extension.
func IsLikelyDownloadable(headers http.Header, rawURL string) bool {
	if strings.Contains(strings.ToLower(headers.Get("Content-Disposition")), "attachment") {
		return true
	}
	contentType := strings.ToLower(strings.TrimSpace(headers.Get("Content-Type")))
	for _, prefix := range documentMIMEPrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return IsDocument(rawURL)
}

// ResolveDocuments HEAD-probes each candidate and returns descriptors for the
// ones that look downloadable, in input order. Probes run concurrently up to
// the configured document concurrency; a failed probe only drops its URL.
func (d *Discoverer) ResolveDocuments(ctx context.Context, fileURLs []string, timeout time.Duration) []DocumentDescriptor {
	if timeout <= 0 {
		timeout = d.opts.DocumentProbeTimeout
	}
	unique := newOrderedSet()
	for _, u := range fileURLs {
		unique.Add(u)
	}

	slots := make([]*DocumentDescriptor, unique.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.DocumentConcurrency)
	for i, u := range unique.items {
		g.Go(func() error {
			if desc, ok := d.probeDocument(gctx, u, timeout); ok {
				slots[i] = &desc
			}
			return nil
		})
	}
	_ = g.Wait() // probes never return errors

	out := make([]DocumentDescriptor, 0, len(slots))
	for _, desc := range slots {
		if desc != nil {
			out = append(out, *desc)
		}
	}
	return out
}

func (d *Discoverer) probeDocument(ctx context.Context, sourceURL string, timeout time.Duration) (DocumentDescriptor, bool) {
	logger := d.logger.With(zap.String("url", sourceURL))

	resp, err := d.head(ctx, sourceURL, timeout)
	if err != nil {
		d.recorder.ObserveProbe(OutcomeError)
		logger.Debug("document probe failed", zap.Error(err))
		return DocumentDescriptor{}, false
	}

	downloadURL := sourceURL
	if isRedirect(resp.StatusCode) {
		if location := resp.Headers.Get("Location"); location != "" {
			target, ok := resolveReference(sourceURL, location)
			if !ok {
				d.recorder.ObserveProbe(OutcomeError)
				logger.Debug("document redirect has unusable location", zap.String("location", location))
				return DocumentDescriptor{}, false
			}
			downloadURL = target.String()
			resp, err = d.head(ctx, downloadURL, timeout)
			if err != nil {
				d.recorder.ObserveProbe(OutcomeError)
				logger.Debug("document redirect probe failed", zap.String("download_url", downloadURL), zap.Error(err))
				return DocumentDescriptor{}, false
			}
		}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		d.recorder.ObserveProbe(OutcomeForbidden)
		logger.Debug("document probe denied", zap.Int("status", resp.StatusCode))
		return DocumentDescriptor{}, false
	}
	if !IsLikelyDownloadable(resp.Headers, sourceURL) {
		d.recorder.ObserveProbe(OutcomeRejected)
		logger.Debug("resource does not look downloadable",
			zap.String("content_type", resp.Headers.Get("Content-Type")),
		)
		return DocumentDescriptor{}, false
	}

	d.recorder.ObserveProbe(OutcomeDownloadable)
	return DocumentDescriptor{
		SourceURL:          sourceURL,
		DownloadURL:        downloadURL,
		Pathname:           escapedPathOf(sourceURL),
		ContentType:        resp.Headers.Get("Content-Type"),
		ContentDisposition: resp.Headers.Get("Content-Disposition"),
	}, true
}

func (d *Discoverer) head(ctx context.Context, rawURL string, timeout time.Duration) (Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := d.fetcher.Head(reqCtx, rawURL)
	if err != nil {
		return Response{}, err //nolint:wrapcheck // logged by caller
	}
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	}
	return resp, nil
}

func isRedirect(status int) bool {
	return status >= 300 && status < 400
}
