// Package gemini implements speech.Synthesizer on top of the Gemini
// generateContent REST endpoint with an AUDIO response modality.
//
// One request is sent per call. The audio comes back inline as base64
// s16le PCM at candidates[0].content.parts[0].inlineData.data; the client
// returns that string untouched and leaves decoding to the caller.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/invoicevox/pkg/speech"
)

// Compile-time interface assertion.
var _ speech.Synthesizer = (*Client)(nil)

const (
	providerName   = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultTimeout = 60 * time.Second

	// defaultMaxResponseBytes bounds the response body read into memory. A
	// minute of 24 kHz mono s16le is under 4 MiB once base64-encoded.
	defaultMaxResponseBytes = 64 << 20

	audioPath = "candidates[0].content.parts[0].inlineData.data"
)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithBaseURL overrides the API base URL. Primarily used in tests to point at
// a local mock server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the overall request timeout. Default: 60s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxResponseBytes sets the largest response body the client accepts.
// Larger responses fail with a [*speech.SynthesisServiceError]. Default: 64 MiB.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResponseBytes = n
		}
	}
}

// Client implements speech.Synthesizer for Gemini TTS models.
type Client struct {
	apiKey           string
	baseURL          string
	timeout          time.Duration
	maxResponseBytes int64
	httpClient       *http.Client
}

// New creates a Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	c := &Client{
		apiKey:           apiKey,
		baseURL:          defaultBaseURL,
		timeout:          defaultTimeout,
		maxResponseBytes: defaultMaxResponseBytes,
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// ---- request types ----

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// ---- response types ----

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content      *responseContent `json:"content"`
	FinishReason string           `json:"finishReason,omitempty"`
}

type responseContent struct {
	Parts []part `json:"parts"`
}

type errorEnvelope struct {
	Error *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *apiError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s: %s", e.Status, e.Message)
	}
	return e.Message
}

// Synthesize sends req to Gemini and returns the base64 audio payload.
func (c *Client) Synthesize(ctx context.Context, req speech.SynthesisRequest) (string, error) {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(req.Model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", serviceError(0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", serviceError(0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return "", serviceError(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}
	if int64(len(data)) > c.maxResponseBytes {
		return "", serviceError(resp.StatusCode, fmt.Errorf("response exceeds %d bytes", c.maxResponseBytes))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", serviceError(resp.StatusCode, parseAPIError(data))
	}

	var gr generateResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return "", serviceError(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return extractAudio(&gr)
}

// buildRequest maps a synthesis request onto the generateContent body.
func buildRequest(req speech.SynthesisRequest) generateRequest {
	return generateRequest{
		Contents: []content{{Parts: []part{{Text: req.Text}}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: string(req.Voice)},
				},
			},
		},
	}
}

// extractAudio walks candidates[0].content.parts[0].inlineData.data and
// reports the first absent segment. No other part or candidate is consulted.
func extractAudio(gr *generateResponse) (string, error) {
	missing := func(seg string) error {
		return &speech.MissingAudioDataError{Path: audioPath, Missing: seg}
	}
	if len(gr.Candidates) == 0 {
		return "", missing("candidates[0]")
	}
	cand := gr.Candidates[0]
	if cand.Content == nil {
		return "", missing("content")
	}
	if len(cand.Content.Parts) == 0 {
		return "", missing("parts[0]")
	}
	inline := cand.Content.Parts[0].InlineData
	if inline == nil {
		return "", missing("inlineData")
	}
	if inline.Data == "" {
		return "", missing("data")
	}
	slog.Debug("gemini: audio received",
		"mime_type", inline.MIMEType,
		"finish_reason", cand.FinishReason,
		"payload_bytes", len(inline.Data),
	)
	return inline.Data, nil
}

// parseAPIError extracts the Gemini error envelope from a non-2xx body,
// falling back to the raw body text.
func parseAPIError(body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 256 {
		text = text[:256] + "…"
	}
	if text == "" {
		text = "empty response body"
	}
	return errors.New(text)
}

func serviceError(status int, cause error) error {
	return &speech.SynthesisServiceError{Provider: providerName, StatusCode: status, Cause: cause}
}
