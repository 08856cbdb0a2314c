package engine

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/model"
)

// Fetch downloads an artifact's bytes. Hosted deployments answer with a
// redirect to object storage; the redirect is followed without engine
// credentials, so callers see the same result either way.
func (c *Client) Fetch(ctx context.Context, a model.Artifact) ([]byte, error) {
	data, _, err := c.FetchWithType(ctx, a)
	return data, err
}

// FetchWithType is Fetch that also returns the Content-Type of the final
// response.
func (c *Client) FetchWithType(ctx context.Context, a model.Artifact) ([]byte, string, error) {
	q := url.Values{}
	q.Set("filename", a.Filename)
	q.Set("subfolder", a.Subfolder)
	q.Set("type", a.Type)
	endpoint := c.endpoint("/view", q)

	callCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()
	req, err := c.newRequest(callCtx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, "", errors.Annotate(ErrFetchFailed, err.Error())
	}
	status, header, body, err := c.do(req)
	if err != nil {
		c.logger.Warn("fetch failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, "", errors.Annotatef(ErrFetchFailed, "GET %s: %v", endpoint, err)
	}

	switch {
	case statusOK(status):
		return body, header.Get("Content-Type"), nil
	case status >= 300 && status < 400:
		loc := header.Get("Location")
		if loc == "" {
			return nil, "", errors.Annotatef(ErrFetchFailed, "GET %s: status %d without Location", endpoint, status)
		}
		target, err := req.URL.Parse(loc)
		if err != nil {
			return nil, "", errors.Annotatef(ErrFetchFailed, "GET %s: bad Location %q", endpoint, loc)
		}
		fetchRedirectCounter.Inc()
		return c.fetchRedirect(callCtx, target.String())
	default:
		c.logger.Warn("fetch rejected",
			zap.String("endpoint", endpoint), zap.Int("status", status), zap.String("body", snippet(body)))
		return nil, "", errors.Annotatef(ErrFetchFailed, "GET %s: status %d", endpoint, status)
	}
}

// fetchRedirect retrieves a presigned location. It must not carry the
// engine's API key.
func (c *Client) fetchRedirect(ctx context.Context, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", errors.Annotate(ErrFetchFailed, err.Error())
	}
	status, header, body, err := c.do(req)
	if err != nil {
		c.logger.Warn("redirected fetch failed", zap.Error(err))
		return nil, "", errors.Annotatef(ErrFetchFailed, "redirected GET: %v", err)
	}
	if !statusOK(status) {
		c.logger.Warn("redirected fetch rejected", zap.Int("status", status), zap.String("body", snippet(body)))
		return nil, "", errors.Annotatef(ErrFetchFailed, "redirected GET: status %d", status)
	}
	return body, header.Get("Content-Type"), nil
}
