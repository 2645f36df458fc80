package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/valet-labs/valet/internal/app"
	"github.com/valet-labs/valet/internal/command"
	"github.com/valet-labs/valet/internal/config"
	"github.com/valet-labs/valet/pkg/completion"
	completionmock "github.com/valet-labs/valet/pkg/completion/mock"
)

// testConfig returns a minimal config for tests. No DSN, so the app uses the
// in-memory store unless one is injected.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Speech: config.SpeechConfig{Language: "en-US"},
	}
}

// newTestApp builds an App over a scripted completion service and an
// in-memory store, returning the app and the store for assertions.
func newTestApp(t *testing.T, svc completion.Service) (*app.App, *command.MemStore) {
	t.Helper()

	store := command.NewMemStore()
	a, err := app.New(
		context.Background(),
		testConfig(),
		&app.Providers{Completion: svc},
		app.WithStore(store),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return a, store
}

func postCommand(t *testing.T, handler http.Handler, userID, text string) *httptest.ResponseRecorder {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"text": text})
	req := httptest.NewRequest("POST", "/v1/commands", bytes.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresCompletionProvider(t *testing.T) {
	t.Parallel()

	if _, err := app.New(context.Background(), testConfig(), &app.Providers{}); err == nil {
		t.Fatal("New() with no completion provider should fail")
	}
}

func TestSubmitCommand(t *testing.T) {
	t.Parallel()

	svc := &completionmock.Service{Responses: []*completion.Response{
		{Text: `{"type":"open_app","action":"launch","target":"calculator","parameters":{}}`},
		{Text: "Opening the calculator for you."},
	}}
	a, _ := newTestApp(t, svc)

	rec := postCommand(t, a.Handler(), "user-1", "open the calculator")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", rec.Code, rec.Body.String())
	}

	var cmd command.Command
	if err := json.Unmarshal(rec.Body.Bytes(), &cmd); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if cmd.ID == "" {
		t.Error("command ID should be assigned")
	}
	if cmd.Status != command.StatusCompleted {
		t.Errorf("Status = %q, want completed", cmd.Status)
	}
	if cmd.Intent.Target != "calculator" {
		t.Errorf("Intent.Target = %q, want calculator", cmd.Intent.Target)
	}
	if cmd.Response == "" {
		t.Error("Response should be non-empty")
	}
}

func TestSubmitCommandValidation(t *testing.T) {
	t.Parallel()

	svc := &completionmock.Service{Response: &completion.Response{Text: "ok"}}
	a, _ := newTestApp(t, svc)

	tests := []struct {
		name   string
		userID string
		body   string
		want   int
	}{
		{name: "missing user header", userID: "", body: `{"text":"hi"}`, want: http.StatusBadRequest},
		{name: "empty text", userID: "user-1", body: `{"text":""}`, want: http.StatusBadRequest},
		{name: "malformed body", userID: "user-1", body: `{"text":`, want: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/commands", strings.NewReader(tc.body))
			if tc.userID != "" {
				req.Header.Set("X-User-ID", tc.userID)
			}
			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestGetCommand(t *testing.T) {
	t.Parallel()

	svc := &completionmock.Service{Responses: []*completion.Response{
		{Text: `{"type":"search","action":"web_search","target":"web","parameters":{}}`},
		{Text: "Searching."},
	}}
	a, _ := newTestApp(t, svc)

	rec := postCommand(t, a.Handler(), "user-1", "search for go generics")
	var created command.Command
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created command: %v", err)
	}

	req := httptest.NewRequest("GET", "/v1/commands/"+created.ID, nil)
	req.Header.Set("X-User-ID", "user-1")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got command.Command
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("ID = %q, want %q", got.ID, created.ID)
	}
}

func TestGetCommandNotFound(t *testing.T) {
	t.Parallel()

	svc := &completionmock.Service{Response: &completion.Response{Text: "ok"}}
	a, _ := newTestApp(t, svc)

	req := httptest.NewRequest("GET", "/v1/commands/no-such-id", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetCommandOtherUserHidden(t *testing.T) {
	t.Parallel()

	svc := &completionmock.Service{Response: &completion.Response{Text: "ok"}}
	a, _ := newTestApp(t, svc)

	rec := postCommand(t, a.Handler(), "user-1", "remind me later")
	var created command.Command
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created command: %v", err)
	}

	// Another user asking for the same ID sees a 404, not a 403.
	req := httptest.NewRequest("GET", "/v1/commands/"+created.ID, nil)
	req.Header.Set("X-User-ID", "user-2")
	rec2 := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec2, req)

	if rec2.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for another user's command", rec2.Code)
	}
}

func TestListCommands(t *testing.T) {
	t.Parallel()

	svc := &completionmock.Service{Response: &completion.Response{Text: "ok"}}
	a, _ := newTestApp(t, svc)

	for _, text := range []string{"first", "second", "third"} {
		postCommand(t, a.Handler(), "user-1", text)
	}
	postCommand(t, a.Handler(), "user-2", "not mine")

	req := httptest.NewRequest("GET", "/v1/commands?limit=2", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var cmds []*command.Command
	if err := json.Unmarshal(rec.Body.Bytes(), &cmds); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("got %d commands, want 2 (limited)", len(cmds))
	}
	for _, cmd := range cmds {
		if cmd.UserID != "user-1" {
			t.Errorf("listed command belongs to %q", cmd.UserID)
		}
	}
}

func TestListCommandsEmpty(t *testing.T) {
	t.Parallel()

	svc := &completionmock.Service{Response: &completion.Response{Text: "ok"}}
	a, _ := newTestApp(t, svc)

	req := httptest.NewRequest("GET", "/v1/commands", nil)
	req.Header.Set("X-User-ID", "nobody")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want an empty JSON array", got)
	}
}

func TestListCommandsBadLimit(t *testing.T) {
	t.Parallel()

	svc := &completionmock.Service{Response: &completion.Response{Text: "ok"}}
	a, _ := newTestApp(t, svc)

	req := httptest.NewRequest("GET", "/v1/commands?limit=zero", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	svc := &completionmock.Service{Response: &completion.Response{Text: "ok"}}
	a, _ := newTestApp(t, svc)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	svc := &completionmock.Service{Response: &completion.Response{Text: "ok"}}
	a, _ := newTestApp(t, svc)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", rec.Code)
	}
}

// controlFrame mirrors the speech socket's JSON control envelope.
type controlFrame struct {
	Type           string  `json:"type"`
	Transcript     string  `json:"transcript,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	IsFinal        bool    `json:"is_final,omitempty"`
	State          string  `json:"state,omitempty"`
	Language       string  `json:"language,omitempty"`
	InterimResults bool    `json:"interim_results,omitempty"`
}

func TestSpeechSessionOverWebsocket(t *testing.T) {
	t.Parallel()

	svc := &completionmock.Service{
		Responses: []*completion.Response{
			{Text: `{"type":"open_app","action":"open_and_type","target":"notepad","parameters":{"text":"meeting notes"}}`},
			{Text: "Opening Notepad and typing your meeting notes."},
		},
		Response: &completion.Response{Text: "ok"},
	}
	a, store := newTestApp(t, svc)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/speech"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"X-User-ID": []string{"user-1"}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })

	// Permission is unknown, so the server prompts first.
	frame := readFrame(t, ctx, conn)
	if frame.Type != "request_permission" {
		t.Fatalf("expected request_permission frame, got %q", frame.Type)
	}
	writeFrame(t, ctx, conn, controlFrame{Type: "permission", State: "granted"})

	frame = readFrame(t, ctx, conn)
	if frame.Type != "start" {
		t.Fatalf("expected start frame, got %q", frame.Type)
	}
	if frame.Language != "en-US" {
		t.Errorf("start frame language = %q, want en-US", frame.Language)
	}

	writeFrame(t, ctx, conn, controlFrame{
		Type:       "result",
		Transcript: "open notepad and type meeting notes",
		Confidence: 0.95,
		IsFinal:    true,
	})

	// The session re-arms after finalizing: a stop for the finished
	// recognizer, then a fresh start. The second start implies the pipeline
	// has already stored the command.
	sawStart := false
	for range 3 {
		frame = readFrame(t, ctx, conn)
		if frame.Type == "start" {
			sawStart = true
			break
		}
	}
	if !sawStart {
		t.Fatal("session did not re-arm after the finalized utterance")
	}

	cmds, err := store.List(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(cmds) != 1 {
		t.Fatalf("stored commands = %d, want 1", len(cmds))
	}
	if cmds[0].Intent.Target != "notepad" {
		t.Errorf("Intent.Target = %q, want notepad", cmds[0].Intent.Target)
	}
	if cmds[0].Status != command.StatusCompleted {
		t.Errorf("Status = %q, want completed", cmds[0].Status)
	}
}

func TestSpeechRequiresUserHeader(t *testing.T) {
	t.Parallel()

	svc := &completionmock.Service{Response: &completion.Response{Text: "ok"}}
	a, _ := newTestApp(t, svc)

	req := httptest.NewRequest("GET", "/v1/speech", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without identity", rec.Code)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) controlFrame {
	t.Helper()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("expected text frame, got %v", typ)
	}
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, frame controlFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}
