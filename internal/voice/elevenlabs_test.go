package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New("el-key", WithBaseURL(srv.URL), WithTimeout(2*time.Second))
}

func TestGetAgent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/convai/agents/agent_base", r.URL.Path)
		require.Equal(t, "el-key", r.Header.Get("xi-api-key"))
		_ = json.NewEncoder(w).Encode(map[string]any{"agent_id": "agent_base", "name": "Support"})
	})

	a, err := c.GetAgent(context.Background(), "agent_base")
	require.NoError(t, err)
	require.Equal(t, "agent_base", a.AgentID)
	require.Equal(t, "Support", a.Name)
}

func TestGetAgent_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid key"}`, http.StatusUnauthorized)
	})

	_, err := c.GetAgent(context.Background(), "agent_base")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.Contains(t, apiErr.Body, "invalid key")
}

func TestDuplicateAgent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/convai/agents/agent_base/duplicate", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Custom Agent - Bob", body["name"])
		_ = json.NewEncoder(w).Encode(map[string]any{"agent_id": "agent_dup"})
	})

	id, err := c.DuplicateAgent(context.Background(), "agent_base", "Custom Agent - Bob")
	require.NoError(t, err)
	require.Equal(t, "agent_dup", id)
}

func TestSignedURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/convai/conversation/get-signed-url", r.URL.Path)
		require.Equal(t, "agent_x", r.URL.Query().Get("agent_id"))
		_ = json.NewEncoder(w).Encode(map[string]any{"signed_url": "wss://example/signed"})
	})

	u, err := c.SignedURL(context.Background(), "agent_x")
	require.NoError(t, err)
	require.Equal(t, "wss://example/signed", u)
}

func TestSignedURL_Failure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "agent missing")
	})

	_, err := c.SignedURL(context.Background(), "agent_x")
	require.EqualError(t, err, "Failed to get signed URL: agent missing")
}

func TestSynthesize(t *testing.T) {
	audio := bytes.Repeat([]byte{0xff, 0xfb, 0x90, 0x00}, 20000)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/text-to-speech/voice_1/stream", r.URL.Path)
		require.Equal(t, DefaultOutputFormat, r.URL.Query().Get("output_format"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "hello", body["text"])
		require.Equal(t, DefaultTTSModel, body["model_id"])

		w.Header().Set("Content-Type", "audio/mpeg")
		flusher := w.(http.Flusher)
		for i := 0; i < len(audio); i += 10000 {
			_, _ = w.Write(audio[i:min(i+10000, len(audio))])
			flusher.Flush()
		}
	})

	out, err := c.Synthesize(context.Background(), "hello", "voice_1")
	require.NoError(t, err)
	require.Equal(t, audio, out)
}

func TestSynthesize_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	c := New("el-key", WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))

	_, err := c.Synthesize(context.Background(), "hello", "voice_1")
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

type failingReader struct{ n int }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.n == 0 {
		return 0, errors.New("connection reset")
	}
	f.n--
	p[0] = 1
	return 1, nil
}

func TestChunks_StopsOnError(t *testing.T) {
	var got []byte
	var lastErr error
	for chunk, err := range chunks(&failingReader{n: 3}) {
		if err != nil {
			lastErr = err
			break
		}
		got = append(got, chunk...)
	}
	require.Equal(t, []byte{1, 1, 1}, got)
	require.EqualError(t, lastErr, "connection reset")
}
