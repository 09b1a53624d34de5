package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/jo-hoe/schedule2cal/internal/common"
	"github.com/jo-hoe/schedule2cal/internal/config"
	"github.com/jo-hoe/schedule2cal/internal/conversion"
)

var _ conversion.Service = (*Client)(nil)

const (
	authSchemeBearer  = "Bearer"
	defaultTimeout    = 60 * time.Second
	errorSnippetLimit = 400
)

// Client implements conversion.Service against the schedule conversion backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New creates a new conversion backend client.
func New(cfg config.BackendConfig) *Client {
	return &Client{
		httpClient: newHTTPClient(cfg.Timeout),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Convert posts the image as a single multipart "image" part and returns the calendar body.
func (c *Client) Convert(ctx context.Context, up conversion.Upload) ([]byte, error) {
	u, err := url.JoinPath(c.baseURL, common.PathUploadSchedule)
	if err != nil {
		return nil, &conversion.TransportError{Err: fmt.Errorf("join url: %w", err)}
	}

	body, contentType, err := buildMultipart(up)
	if err != nil {
		return nil, &conversion.TransportError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, &conversion.TransportError{Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set(common.HeaderContentType, contentType)
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set(common.HeaderAuthorization, authSchemeBearer+" "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &conversion.TransportError{Err: ctx.Err()}
		}
		return nil, &conversion.TransportError{Err: fmt.Errorf("http do: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetLimit+1))
		return nil, &conversion.TransportError{
			StatusCode: resp.StatusCode,
			Snippet:    truncate(string(snippet), errorSnippetLimit),
		}
	}

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &conversion.ResponseError{Err: fmt.Errorf("read body: %w", err)}
	}
	return respBytes, nil
}

// buildMultipart writes exactly one form part carrying the image and its declared content type.
func buildMultipart(up conversion.Upload) (io.Reader, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	ct := strings.TrimSpace(up.ContentType)
	if ct == "" {
		ct = common.ContentTypeOctetStream
	}
	h := make(textproto.MIMEHeader)
	h.Set(common.HeaderContentDisposition,
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, common.FormFieldImage, escapeQuotes(up.Filename)))
	h.Set(common.HeaderContentType, ct)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create part: %w", err)
	}
	if _, err := part.Write(up.Data); err != nil {
		return nil, "", fmt.Errorf("write part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &b, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
