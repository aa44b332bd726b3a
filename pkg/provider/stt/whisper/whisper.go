// Package whisper transcribes finished utterances with whisper.cpp.
//
// [Client] posts the WAV blob to a running whisper-server (POST /inference).
// [Native] loads a ggml model in-process through the whisper.cpp Go bindings.
// Both implement [stt.Transcriber]; utterance segmentation is done upstream by
// the VAD capturer.
//
//	c, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := c.Transcribe(ctx, wav)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxact/pkg/provider/stt"
)

const defaultLanguage = "en"

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model identifier forwarded to the server. When empty the
// server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithHTTPClient replaces the HTTP client. The default has a 30 s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client is an stt.Transcriber backed by a whisper.cpp HTTP server.
type Client struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

var _ stt.Transcriber = (*Client)(nil)

// New creates a Client for the server at serverURL (e.g.
// "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Transcribe uploads wav as multipart/form-data and returns the recognised
// text. Network failures and 5xx/429 responses wrap stt.ErrServiceUnavailable.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := map[string]string{
		"language":        c.language,
		"model":           c.model,
		"response_format": "json",
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("whisper: http request: %w", err)
		}
		return "", fmt.Errorf("whisper: http request: %w: %v", stt.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("whisper: server returned HTTP %d: %w", resp.StatusCode, stt.ErrServiceUnavailable)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return cleanText(result.Text), nil
}

// cleanText trims whitespace and drops the bracketed non-speech markers
// whisper emits for silence, such as "[BLANK_AUDIO]".
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	for {
		i := strings.IndexAny(s, "[(")
		if i < 0 {
			break
		}
		closing := map[byte]byte{'[': ']', '(': ')'}[s[i]]
		j := strings.IndexByte(s[i:], closing)
		if j < 0 {
			break
		}
		s = s[:i] + s[i+j+1:]
	}
	return strings.Join(strings.Fields(s), " ")
}
