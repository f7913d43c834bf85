// Package voice is a small REST client for the ElevenLabs conversational-AI
// and text-to-speech APIs.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL      = "https://api.elevenlabs.io"
	DefaultTTSModel     = "eleven_multilingual_v2"
	DefaultOutputFormat = "mp3_44100_128"

	chunkSize = 32 << 10
)

// Agent is the provider's view of a conversational agent.
type Agent struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs: status %d: %s", e.Status, e.Body)
}

// Client talks to ElevenLabs with an API key.
type Client struct {
	apiKey       string
	baseURL      string
	ttsModel     string
	outputFormat string
	timeout      time.Duration
	httpClient   *http.Client
}

// Option customizes a Client.
type Option func(*Client)

func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			c.baseURL = base
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every call made by the client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithTTSModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.ttsModel = model
		}
	}
}

func WithOutputFormat(format string) Option {
	return func(c *Client) {
		if format != "" {
			c.outputFormat = format
		}
	}
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:       strings.TrimSpace(apiKey),
		baseURL:      DefaultBaseURL,
		ttsModel:     DefaultTTSModel,
		outputFormat: DefaultOutputFormat,
		httpClient:   &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: encode body: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and decodes a JSON answer into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("elevenlabs: decode response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// GetAgent fetches an agent's id and name.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/convai/agents/"+url.PathEscape(agentID), nil, nil)
	if err != nil {
		return nil, err
	}
	var a Agent
	if err := c.do(req, &a); err != nil {
		return nil, err
	}
	if a.AgentID == "" {
		a.AgentID = agentID
	}
	return &a, nil
}

// DuplicateAgent copies agentID under a new name and returns the copy's id.
func (c *Client) DuplicateAgent(ctx context.Context, agentID, name string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/convai/agents/"+url.PathEscape(agentID)+"/duplicate", nil,
		map[string]string{"name": name})
	if err != nil {
		return "", err
	}
	var out struct {
		AgentID string `json:"agent_id"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.AgentID == "" {
		return "", errors.New("elevenlabs: duplicate returned no agent_id")
	}
	return out.AgentID, nil
}

// SignedURL issues a short-lived websocket URL for a browser session with
// agentID.
func (c *Client) SignedURL(ctx context.Context, agentID string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/convai/conversation/get-signed-url",
		url.Values{"agent_id": {agentID}}, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return "", fmt.Errorf("Failed to get signed URL: %s", strings.TrimSpace(string(body)))
	}
	var out struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("elevenlabs: decode signed url: %w", err)
	}
	return out.SignedURL, nil
}

// Synthesize converts text to speech with voiceID and returns the whole
// audio stream.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/text-to-speech/"+url.PathEscape(voiceID)+"/stream",
		url.Values{"output_format": {c.outputFormat}},
		map[string]string{"text": text, "model_id": c.ttsModel})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out []byte
	for chunk, err := range chunks(resp.Body) {
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// chunks yields r in pieces until EOF.
func chunks(r io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		buf := make([]byte, chunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}
