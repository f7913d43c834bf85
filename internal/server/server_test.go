package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/comigor/escal8-go/internal/agent"
	"github.com/comigor/escal8-go/internal/conversation"
	"github.com/comigor/escal8-go/internal/logger"
	"github.com/comigor/escal8-go/internal/media"
	"github.com/comigor/escal8-go/internal/responder"
	"github.com/comigor/escal8-go/internal/store"
	"github.com/comigor/escal8-go/internal/voice"
)

type fakeVoice struct {
	getErr   error
	dupCount int
	ttsErr   error
}

func (f *fakeVoice) GetAgent(ctx context.Context, id string) (*voice.Agent, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &voice.Agent{AgentID: id, Name: "Support Template"}, nil
}

func (f *fakeVoice) DuplicateAgent(ctx context.Context, id, name string) (string, error) {
	f.dupCount++
	return "agent_clone_" + strconv.Itoa(f.dupCount), nil
}

func (f *fakeVoice) SignedURL(ctx context.Context, id string) (string, error) {
	return "wss://signed.example/" + id, nil
}

func (f *fakeVoice) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if f.ttsErr != nil {
		return nil, f.ttsErr
	}
	return []byte("ID3-" + voiceID + "-" + text), nil
}

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	return "transcribed", nil
}

type testEnv struct {
	voice *fakeVoice
	http  *httptest.Server
}

func newEnv(t *testing.T, transcriber media.Transcriber) *testEnv {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fv := &fakeVoice{}
	srv := New(
		agent.NewDirectory(fv, st, "agent_base"),
		conversation.NewService(st, responder.Echo{}),
		media.NewConverter(fv, transcriber, "SOYHLrjzK2X1ezoPC6cr"),
		Options{CORSOrigins: []string{"http://localhost:3000"}, MaxUpload: 1 << 20},
	)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &testEnv{voice: fv, http: hs}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, e.http.URL+path, rdr)
	require.NoError(t, err)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestRootAndHealth(t *testing.T) {
	e := newEnv(t, nil)

	resp, body := e.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Escal8 - Backend API", body["message"])
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	_, body = e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, "healthy", body["status"])

	resp, _ = e.do(t, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBaseAgent(t *testing.T) {
	e := newEnv(t, nil)

	resp, body := e.do(t, http.MethodGet, "/api/agents/base", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "agent_base", body["agent_id"])
	require.Equal(t, "Support Template", body["name"])

	e.voice.getErr = errors.New("invalid api key")
	resp, body = e.do(t, http.MethodGet, "/api/agents/base", nil)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "invalid api key", body["detail"])
}

func TestSignedURL(t *testing.T) {
	e := newEnv(t, nil)

	_, body := e.do(t, http.MethodGet, "/api/agents/agent_x/websocket-url", nil)
	require.Equal(t, "wss://signed.example/agent_x", body["signed_url"])
}

func TestCloneAndList(t *testing.T) {
	e := newEnv(t, nil)

	resp, body := e.do(t, http.MethodPost, "/api/agents/clone", map[string]any{
		"agent_name": "Sales Bot", "extra_prompts": "Be upbeat.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "agent_clone_1", body["agent_id"])
	require.Equal(t, "Sales Bot", body["name"])
	require.NotEmpty(t, body["db_id"])
	require.NotEmpty(t, body["message"])

	_, body = e.do(t, http.MethodGet, "/api/agents", nil)
	agents := body["agents"].([]any)
	require.Len(t, agents, 1)
	row := agents[0].(map[string]any)
	require.Equal(t, "agent_clone_1", row["elevenlabs_agent_id"])
	require.Equal(t, "agent_base", row["base_agent_id"])
	require.Nil(t, row["voice_id"])
}

func TestClone_Validation(t *testing.T) {
	e := newEnv(t, nil)

	resp, body := e.do(t, http.MethodPost, "/api/agents/clone", map[string]any{"agent_name": "x"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "extra_prompts is required", body["detail"])

	resp, _ = e.do(t, http.MethodPost, "/api/agents/clone", "{not json")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Zero(t, e.voice.dupCount)
}

func TestConversationFlow(t *testing.T) {
	e := newEnv(t, nil)
	_, cloned := e.do(t, http.MethodPost, "/api/agents/clone", map[string]any{
		"agent_name": "Sales Bot", "extra_prompts": "",
	})

	resp, started := e.do(t, http.MethodPost, "/api/conversations/start", map[string]any{
		"agent_id": cloned["agent_id"],
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Sales Bot", started["agent_name"])
	convID := started["conversation_id"].(string)

	resp, ex := e.do(t, http.MethodPost, "/api/conversations/"+convID+"/messages", map[string]any{
		"conversation_id": convID, "message": "hello",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := ex["user_message"].(map[string]any)
	assistant := ex["assistant_message"].(map[string]any)
	require.Equal(t, "user", user["role"])
	require.Equal(t, "hello", user["content_text"])
	require.Equal(t, "assistant", assistant["role"])
	require.Equal(t,
		"I received your message: 'hello'. I'm here to help! (Note: For the best experience, try using the voice interface)",
		assistant["content_text"])

	_, list := e.do(t, http.MethodGet, "/api/conversations/"+convID+"/messages", nil)
	msgs := list["messages"].([]any)
	require.Len(t, msgs, 2)
	require.Equal(t, user["id"], msgs[0].(map[string]any)["id"])

	resp, body := e.do(t, http.MethodPost, "/api/conversations/"+convID+"/end", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
}

func TestConversation_NotFound(t *testing.T) {
	e := newEnv(t, nil)

	resp, body := e.do(t, http.MethodPost, "/api/conversations/start", map[string]any{"agent_id": "agent_missing"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "Agent not found", body["detail"])

	resp, body = e.do(t, http.MethodPost, "/api/conversations/missing/messages", map[string]any{"message": "hi"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "Conversation not found", body["detail"])

	resp, _ = e.do(t, http.MethodPost, "/api/conversations/missing/end", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/api/conversations/missing/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, body["messages"])

	resp, _ = e.do(t, http.MethodPost, "/api/conversations/missing/messages", map[string]any{})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestTextToSpeech(t *testing.T) {
	e := newEnv(t, nil)

	resp, err := http.Post(e.http.URL+"/api/text-to-speech?text=hi", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	require.Equal(t, "inline; filename=speech.mp3", resp.Header.Get("Content-Disposition"))
	audio, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ID3-SOYHLrjzK2X1ezoPC6cr-hi", string(audio))

	e.voice.ttsErr = errors.New("voice not found")
	r2, body := e.do(t, http.MethodPost, "/api/text-to-speech?text=hi&voice_id=v9", nil)
	require.Equal(t, http.StatusInternalServerError, r2.StatusCode)
	require.Equal(t, "TTS Error: voice not found", body["detail"])

	r3, _ := e.do(t, http.MethodPost, "/api/text-to-speech", nil)
	require.Equal(t, http.StatusUnprocessableEntity, r3.StatusCode)
}

func uploadAudio(t *testing.T, url, field string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "recording.webm")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("webm-audio"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/api/speech-to-text", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestSpeechToText(t *testing.T) {
	e := newEnv(t, fakeTranscriber{})
	resp, body := uploadAudio(t, e.http.URL, "audio_file")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "transcribed", body["text"])
	require.Equal(t, true, body["success"])
	require.NotContains(t, body, "error")

	resp, _ = uploadAudio(t, e.http.URL, "wrong_field")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSpeechToText_Unconfigured(t *testing.T) {
	e := newEnv(t, nil)
	resp, body := uploadAudio(t, e.http.URL, "audio_file")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["success"])
	require.Equal(t, "STT requires OpenAI API key", body["error"])
}

func TestCORS(t *testing.T) {
	e := newEnv(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, e.http.URL+"/api/agents", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req, _ = http.NewRequest(http.MethodGet, e.http.URL+"/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRecover(t *testing.T) {
	h := Recover(logger.Discard(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"detail":"Internal server error"}`, rec.Body.String())
}

func TestRecover_AfterResponseStarted(t *testing.T) {
	h := Recover(logger.Discard(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "partial", rec.Body.String())
}

func TestAudioSocket(t *testing.T) {
	e := newEnv(t, nil)
	wsURL := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws/audio"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ignored")))
	for i := 0; i < 2; i++ {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
		var frame statusFrame
		require.NoError(t, conn.ReadJSON(&frame))
		require.Equal(t, statusFrame{Type: "status", Message: "Audio received"}, frame)
	}

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
}
