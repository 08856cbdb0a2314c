package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"

	"github.com/pingcap/errors"
	"go.uber.org/zap"
)

type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Upload stores an input image on the engine and returns the reference a
// graph's image input should carry. Failures are not retried.
func (c *Client) Upload(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	endpoint := c.endpoint("/upload/image", nil)
	if filename == "" {
		filename = "input.png"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var b bytes.Buffer
	mw := multipart.NewWriter(&b)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="`+escapeQuotes(path.Base(filename))+`"`)
	h.Set("Content-Type", contentType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return "", errors.Annotate(ErrUploadFailed, err.Error())
	}
	if _, err := fw.Write(data); err != nil {
		return "", errors.Annotate(ErrUploadFailed, err.Error())
	}
	for _, f := range [][2]string{{"type", "input"}, {"overwrite", "true"}} {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", errors.Annotate(ErrUploadFailed, err.Error())
		}
	}
	if err := mw.Close(); err != nil {
		return "", errors.Annotate(ErrUploadFailed, err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()
	req, err := c.newRequest(callCtx, http.MethodPost, endpoint, b.Bytes(), mw.FormDataContentType())
	if err != nil {
		return "", errors.Annotate(ErrUploadFailed, err.Error())
	}
	status, _, body, err := c.do(req)
	if err != nil {
		c.logger.Warn("upload failed", zap.String("endpoint", endpoint), zap.Error(err))
		return "", errors.Annotatef(ErrUploadFailed, "POST %s: %v", endpoint, err)
	}
	if !statusOK(status) {
		c.logger.Warn("upload rejected",
			zap.String("endpoint", endpoint), zap.Int("status", status), zap.String("body", snippet(body)))
		return "", errors.Annotatef(ErrUploadFailed, "POST %s: status %d", endpoint, status)
	}

	var ur uploadResponse
	if err := json.Unmarshal(body, &ur); err != nil || ur.Name == "" {
		c.logger.Warn("upload response not understood",
			zap.String("endpoint", endpoint), zap.String("body", snippet(body)))
		return "", errors.Annotatef(ErrUploadFailed, "POST %s: unexpected response", endpoint)
	}

	ref := ur.Name
	if ur.Subfolder != "" {
		ref = ur.Subfolder + "/" + ur.Name
	}
	c.logger.Debug("asset uploaded", zap.String("ref", ref), zap.Int("bytes", len(data)))
	return ref, nil
}

func escapeQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
