package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"retailcrm/internal/interfaces"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

// GatewayClient talks to an HTTP WhatsApp gateway that owns the sessions and
// posts webhooks back to us.
type GatewayClient struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	maxBytes int64
	logger   zerolog.Logger
}

type GatewayOptions struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	MaxBytes int64
}

func NewGatewayClient(opts GatewayOptions, logger zerolog.Logger) *GatewayClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &GatewayClient{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiKey:   opts.APIKey,
		http:     &http.Client{Timeout: opts.Timeout},
		maxBytes: opts.MaxBytes,
		logger:   logger.With().Str("component", "gateway_client").Logger(),
	}
}

type sendTextRequest struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

type sendTextResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
}

// GatewayError is a non-2xx answer from the gateway.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Body)
}

// SendText posts a text message for the session and returns the gateway id.
func (g *GatewayClient) SendText(ctx context.Context, sessionID, phone, text string) (string, error) {
	body, err := json.Marshal(sendTextRequest{Phone: phone, Text: text})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/sessions/%s/messages/text", g.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	g.authorize(req)

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send text: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out sendTextResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	id := out.ID
	if id == "" {
		id = out.MessageID
	}
	if id == "" {
		return "", fmt.Errorf("gateway response carried no message id")
	}

	g.logger.Debug().Str("session", sessionID).Str("external_id", id).Msg("text sent")
	return id, nil
}

// FetchMedia downloads a transient attachment. The returned mime type comes
// from the response header, falling back to content sniffing.
func (g *GatewayClient) FetchMedia(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	if g.sameHost(rawURL) {
		g.authorize(req)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, "", err
	}

	var r io.Reader = resp.Body
	if g.maxBytes > 0 {
		// one extra byte lets the pipeline detect oversize payloads
		r = io.LimitReader(resp.Body, g.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}

	mimeType := ""
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "application/octet-stream" {
			mimeType = mt
		}
	}
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	return data, mimeType, nil
}

func (g *GatewayClient) authorize(req *http.Request) {
	if g.apiKey != "" {
		req.Header.Set("apikey", g.apiKey)
	}
}

func (g *GatewayClient) sameHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	base, err := url.Parse(g.baseURL)
	if err != nil {
		return false
	}
	return u.Host == base.Host
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &GatewayError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}

// MediaRouter sends whatsmeow:// URLs to the session manager and everything
// else to plain HTTP.
type MediaRouter struct {
	HTTP      interfaces.MediaFetcher
	WhatsMeow interfaces.MediaFetcher
}

func (r MediaRouter) FetchMedia(ctx context.Context, rawURL string) ([]byte, string, error) {
	if strings.HasPrefix(rawURL, mediaScheme+"://") {
		if r.WhatsMeow == nil {
			return nil, "", fmt.Errorf("no whatsmeow driver for %s", rawURL)
		}
		return r.WhatsMeow.FetchMedia(ctx, rawURL)
	}
	return r.HTTP.FetchMedia(ctx, rawURL)
}
