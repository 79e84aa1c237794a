package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tavern-cli/internal/chat"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitConnected(t *testing.T, states <-chan bool, want bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for connected=%v", want)
		}
	}
}

func TestSessionSendFalseWithoutChannel(t *testing.T) {
	t.Parallel()

	// Nothing listens here; the dial loop keeps failing in the background.
	s := NewSession(SessionConfig{URL: "ws://127.0.0.1:1/ws"})
	defer s.Close()

	if s.Send(NewSendCall("default.jsonl", "hello")) {
		t.Fatalf("Send must return false while the channel is down")
	}
	if s.Connected() {
		t.Fatalf("Connected must be false while the channel is down")
	}
}

func TestSessionSendAndReceiveResult(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var call FunctionCall
			if err := conn.ReadJSON(&call); err != nil {
				return
			}
			reply := map[string]any{
				"type":     TypeFunctionResult,
				"id":       call.ID,
				"function": call.Function,
				"result": map[string]any{
					"success": true,
					"history": []map[string]string{
						{"role": "user", "content": call.Params.Message},
					},
				},
			}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	states := make(chan bool, 8)
	type received struct {
		key string
		res chat.Result
		err error
	}
	results := make(chan received, 8)

	s := NewSession(SessionConfig{
		URL: wsURL(srv),
		OnResult: func(key string, res chat.Result, err error) {
			results <- received{key: key, res: res, err: err}
		},
		OnStateChange: func(connected bool) { states <- connected },
	})
	defer s.Close()

	waitConnected(t, states, true)

	call := NewSendCall("default.jsonl", "hi")
	if !s.Send(call) {
		t.Fatalf("Send returned false on a live channel")
	}

	select {
	case got := <-results:
		if got.err != nil {
			t.Fatalf("result error: %v", got.err)
		}
		if got.key != call.ID {
			t.Fatalf("correlation key=%q want %q", got.key, call.ID)
		}
		ok, isSuccess := got.res.(chat.Success)
		if !isSuccess {
			t.Fatalf("expected Success, got %T", got.res)
		}
		if len(ok.History) != 1 || ok.History[0].Content != "hi" {
			t.Fatalf("unexpected history: %+v", ok.History)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for result")
	}
}

func TestSessionIgnoresUnknownEnvelopes(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Not an envelope at all, an unrelated type, then a real result.
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteJSON(map[string]any{"type": "heartbeat"})
		conn.WriteJSON(map[string]any{
			"type":     TypeFunctionResult,
			"function": FuncSendMessage,
			"result":   map[string]any{"success": false, "error": "rate limited"},
		})
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	results := make(chan chat.Result, 8)
	s := NewSession(SessionConfig{
		URL: wsURL(srv),
		OnResult: func(_ string, res chat.Result, err error) {
			if err == nil {
				results <- res
			}
		},
	})
	defer s.Close()

	select {
	case res := <-results:
		fail, isFailure := res.(chat.Failure)
		if !isFailure {
			t.Fatalf("expected Failure, got %T", res)
		}
		if fail.Error != "rate limited" {
			t.Fatalf("Failure.Error=%q", fail.Error)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for result")
	}

	select {
	case res := <-results:
		t.Fatalf("unexpected extra result: %#v", res)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSessionReconnects(t *testing.T) {
	t.Parallel()

	var upgrades atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := upgrades.Add(1)
		if n == 1 {
			// Drop the first connection immediately to force a reconnect.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	states := make(chan bool, 16)
	s := NewSession(SessionConfig{
		URL:           wsURL(srv),
		OnStateChange: func(connected bool) { states <- connected },
	})
	defer s.Close()

	waitConnected(t, states, true)
	waitConnected(t, states, false)
	waitConnected(t, states, true)

	if got := upgrades.Load(); got < 2 {
		t.Fatalf("upgrades=%d want at least 2", got)
	}
}

func TestNewSendCallEnvelopeShape(t *testing.T) {
	t.Parallel()

	call := NewSendCall("emma.jsonl", "hello")
	if call.Type != TypeFunctionCall || call.Function != FuncSendMessage {
		t.Fatalf("unexpected envelope: %+v", call)
	}
	if call.ID == "" {
		t.Fatalf("missing correlation key")
	}

	data, err := json.Marshal(call)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wire["type"] != "function_call" || wire["function"] != "tavern.send_message" {
		t.Fatalf("wire envelope: %v", wire)
	}
	params, _ := wire["params"].(map[string]any)
	if params["message"] != "hello" || params["conversation_file"] != "emma.jsonl" {
		t.Fatalf("wire params: %v", params)
	}
}
