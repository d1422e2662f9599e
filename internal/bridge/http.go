package bridge

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// HTTPResult is the data-shaped outcome of fetch/postForm. Exactly the fields
// the guest sees: no live handles, no Go errors.
type HTTPResult struct {
	OK      bool              `json:"ok"`
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Binary  bool              `json:"binary,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func httpFailure(err error) HTTPResult {
	msg := err.Error()
	if strings.Contains(msg, "context canceled") {
		msg = "cancelled"
	}
	return HTTPResult{Error: msg}
}

// Fetch issues an HTTP GET with the instance's client. Text bodies are
// sanitized before crossing into the guest; binary bodies arrive
// base64-encoded with the binary flag set.
func (b *Bridge) Fetch(ctx context.Context, rawURL string, headers map[string]string) HTTPResult {
	if err := b.limiter.Wait(ctx); err != nil {
		return httpFailure(err)
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		Get(rawURL)
	if err != nil {
		b.log.Debug("fetch failed", zap.String("url", rawURL), zap.Error(err))
		return httpFailure(err)
	}

	return b.response(resp.StatusCode(), resp.Header(), resp.Body())
}

// PostForm issues a form-encoded POST with the same contract as Fetch.
func (b *Bridge) PostForm(ctx context.Context, rawURL string, form map[string]string, headers map[string]string) HTTPResult {
	if err := b.limiter.Wait(ctx); err != nil {
		return httpFailure(err)
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetFormData(form).
		Post(rawURL)
	if err != nil {
		b.log.Debug("postForm failed", zap.String("url", rawURL), zap.Error(err))
		return httpFailure(err)
	}

	return b.response(resp.StatusCode(), resp.Header(), resp.Body())
}

// ParseForm turns a raw urlencoded body into the form map PostForm takes.
// Malformed input degrades to an empty map; the guest finds out via the
// server's response, matching the never-fault policy.
func ParseForm(body string) map[string]string {
	values, err := url.ParseQuery(body)
	if err != nil {
		return map[string]string{}
	}
	form := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			form[k] = v[0]
		}
	}
	return form
}

func (b *Bridge) response(status int, header http.Header, body []byte) HTTPResult {
	headers := make(map[string]string, len(header))
	for k, v := range header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	res := HTTPResult{
		OK:      true,
		Status:  status,
		Headers: headers,
	}

	contentType := header.Get("Content-Type")
	if isTextual(contentType, body) {
		res.Body = Sanitize(DecodeBody(body, contentType))
	} else {
		res.Body = base64.StdEncoding.EncodeToString(body)
		res.Binary = true
	}
	return res
}

// textualSubtypes are non-"text/*" content types still delivered as text.
var textualSubtypes = []string{"json", "xml", "javascript", "x-www-form-urlencoded"}

func isTextual(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.HasPrefix(ct, "text/") {
		return true
	}
	for _, sub := range textualSubtypes {
		if strings.Contains(ct, sub) {
			return true
		}
	}
	if ct != "" && !strings.HasPrefix(ct, "application/octet-stream") {
		return false
	}

	// No usable header: sniff. mimetype derives all text-ish types from
	// text/plain, so walking the parent chain covers html/json/csv/etc.
	for m := mimetype.Detect(body); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
