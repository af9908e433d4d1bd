package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ash-1hat/Pre-Screening-Tool/internal/interview"
)

func dialSession(t *testing.T, ts *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/interview/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent skips events until one of the wanted type arrives or the deadline
// passes.
func readEvent(t *testing.T, conn *websocket.Conn, want string) wsEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q event: %v", want, err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var ev wsEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad event %s: %v", data, err)
		}
		if ev.Type == want {
			return ev
		}
	}
	t.Fatalf("never received %q event", want)
	return wsEvent{}
}

func TestWebSocketStreamsQuestionAndCommit(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	id := startSession(t, s)
	waitStatus(t, s, id, interview.StateAwaitingAnswer)
	conn := dialSession(t, ts, id)

	cmd, _ := json.Marshal(wsCommand{Type: "answer", Text: "chest pain since morning"})
	if err := conn.WriteMessage(websocket.TextMessage, cmd); err != nil {
		t.Fatalf("send answer: %v", err)
	}

	ev := readEvent(t, conn, "committed")
	if ev.Text != "chest pain since morning" {
		t.Fatalf("committed text %q", ev.Text)
	}
	if ev.Source != string(interview.SourceTyped) {
		t.Fatalf("committed source %q", ev.Source)
	}
	q := readEvent(t, conn, "question")
	if q.Turn != 1 {
		t.Fatalf("next question turn = %d, want 1", q.Turn)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/interview/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial to unknown session succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %+v", resp)
	}
}

func TestWebSocketMicDeniedDegradesVoice(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	id := startSession(t, s)
	waitStatus(t, s, id, interview.StateAwaitingAnswer)
	conn := dialSession(t, ts, id)

	cmd, _ := json.Marshal(wsCommand{Type: "mic_denied"})
	if err := conn.WriteMessage(websocket.TextMessage, cmd); err != nil {
		t.Fatalf("send mic_denied: %v", err)
	}

	ev := readEvent(t, conn, "voice")
	if ev.Available == nil || *ev.Available {
		t.Fatalf("voice event %+v, want available=false", ev)
	}
}

func TestWebSocketReconnectReplacesSocket(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	id := startSession(t, s)
	waitStatus(t, s, id, interview.StateAwaitingAnswer)

	first := dialSession(t, ts, id)
	second := dialSession(t, ts, id)

	deadline := time.Now().Add(2 * time.Second)
	_ = first.SetReadDeadline(deadline)
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
		if !time.Now().Before(deadline) {
			t.Fatal("first socket still open after reconnect")
		}
	}

	cmd, _ := json.Marshal(wsCommand{Type: "answer", Text: "mild cough"})
	if err := second.WriteMessage(websocket.TextMessage, cmd); err != nil {
		t.Fatalf("send on second socket: %v", err)
	}
	readEvent(t, second, "committed")
}
