package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/broadcast"
)

var ErrCircuitOpen = errors.New("gateway channel circuit open")

type Config struct {
	BaseURL       string
	SendPath      string        // default "/message/sendText/{channel}"
	Timeout       time.Duration // 0 = no client-side timeout
	FailThreshold int
	OpenFor       time.Duration
}

// HTTPClient talks to an Evolution-style messaging gateway: one POST per
// message, authenticated with the channel's own API key.
type HTTPClient struct {
	baseURL  string
	sendPath string
	client   *http.Client
	br       *breakers
}

var _ broadcast.Gateway = (*HTTPClient)(nil)

func NewHTTPClient(cfg Config) *HTTPClient {
	path := cfg.SendPath
	if path == "" {
		path = "/message/sendText/{channel}"
	}
	return &HTTPClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		sendPath: path,
		client:   &http.Client{Timeout: cfg.Timeout},
		br:       newBreakers(cfg.FailThreshold, cfg.OpenFor),
	}
}

type sendTextReq struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

func (c *HTTPClient) Send(ctx context.Context, req broadcast.SendRequest) error {
	br := c.br.get(req.ChannelRef)
	if !br.TryAcquire() {
		return fmt.Errorf("channel=%s: %w", req.ChannelRef, ErrCircuitOpen)
	}

	if err := c.post(ctx, req); err != nil {
		if ctx.Err() == nil {
			br.OnFailure()
		}
		return err
	}

	br.OnSuccess()
	return nil
}

func (c *HTTPClient) post(ctx context.Context, req broadcast.SendRequest) error {
	b, err := json.Marshal(sendTextReq{Number: req.To, Text: req.Body})
	if err != nil {
		return err
	}

	// the queue may issue the next message once this one is written
	traced := httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) { broadcast.MarkSendStarted(ctx) },
	})

	path := strings.ReplaceAll(c.sendPath, "{channel}", url.PathEscape(req.ChannelRef))
	httpReq, err := http.NewRequestWithContext(traced, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("apikey", req.Credential)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}

	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("channel=%s status=%d body=%q", req.ChannelRef, res.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, res.Body)

	return nil
}
