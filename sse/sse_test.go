package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/subfusc/fawatch/config"
	"github.com/subfusc/fawatch/event_format"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(config.DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func TestToMessage(t *testing.T) {
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	data := map[string]any{"path": "/tmp/x"}
	ev := Event{Type: "access", When: when, Data: data}

	msg := ev.ToMessage()
	if !strings.HasPrefix(msg, "event: access\ndata: ") || !strings.HasSuffix(msg, "\n\n") {
		t.Fatalf("bad framing: %q", msg)
	}

	var got map[string]any
	payload := strings.TrimSuffix(strings.TrimPrefix(msg, "event: access\ndata: "), "\n\n")
	if err := json.Unmarshal([]byte(payload), &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"path": "/tmp/x", "when": "2024-01-02T03:04:05Z"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	if _, ok := data["when"]; ok {
		t.Error("ToMessage modified the event data")
	}
}

func TestToMessageNonMap(t *testing.T) {
	msg := Event{Type: "note", Data: "hello"}.ToMessage()
	if !strings.Contains(msg, `"message":"hello"`) {
		t.Errorf("ToMessage() = %q", msg)
	}
}

func TestPing(t *testing.T) {
	_, ts := testServer(t)
	resp, err := http.Get(ts.URL + "/ping")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("GET /ping = %d %q", resp.StatusCode, body)
	}
}

func TestMetrics(t *testing.T) {
	_, ts := testServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "fawatch_sse_listeners") {
		t.Errorf("/metrics does not export fawatch metrics")
	}
}

func TestListenReceivesEvents(t *testing.T) {
	s, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/listen")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.Listeners() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("listener never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ev := event_format.ResolvedEvent{
		Name:  "cat",
		Pid:   42,
		Codes: []event_format.EventCode{event_format.CodeOpen, event_format.CodeRead},
		Path:  "/tmp/a\nb",
		When:  time.Now(),
	}
	if err := s.Emit(ev); err != nil {
		t.Fatal(err)
	}

	r := bufio.NewReader(resp.Body)
	var data string
	for data == "" {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		}
	}

	var got struct {
		Name  string
		Pid   int32
		Codes string
		Path  string
	}
	if err := json.Unmarshal([]byte(data), &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "cat" || got.Pid != 42 || got.Codes != "OR" || got.Path != `/tmp/a\x0ab` {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestCloseEndsListeners(t *testing.T) {
	s, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/listen")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(5 * time.Second)
	for s.Listeners() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("listener never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Close()
	if _, err := io.ReadAll(resp.Body); err != nil {
		t.Fatalf("stream did not end cleanly: %v", err)
	}
	if n := s.Listeners(); n != 0 {
		t.Errorf("Listeners() = %d after Close", n)
	}
}
