package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type envelopeFrame struct {
	Type        string          `json:"type"`
	WorkspaceID string          `json:"workspaceId"`
	Data        json.RawMessage `json:"data"`
}

func (e *testEnvironment) dialStream(t *testing.T, workspace, token string) *websocket.Conn {
	t.Helper()

	streamURL := "ws" + strings.TrimPrefix(e.server.URL, "http") +
		"/workspaces/" + workspace + "/stream?access_token=" + token
	conn, response, err := websocket.DefaultDialer.Dial(streamURL, nil)
	if err != nil {
		t.Fatalf("failed to dial stream: %v", err)
	}
	if response != nil {
		response.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) envelopeFrame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var frame envelopeFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("failed to decode frame %q: %v", raw, err)
	}
	return frame
}

func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %q", raw)
	}
}

func TestStreamRejectsInvalidToken(t *testing.T) {
	environment := newTestEnvironment(t)

	streamURL := "ws" + strings.TrimPrefix(environment.server.URL, "http") +
		"/workspaces/w1/stream?access_token=garbage"
	conn, response, err := websocket.DefaultDialer.Dial(streamURL, nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected dial to fail without a valid token")
	}
	if response == nil || response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", response)
	}
}

func TestStreamDeliversSnapshotThenEvents(t *testing.T) {
	environment := newTestEnvironment(t)
	adaToken := environment.token(t, "ada@example.com")

	existing := environment.createNote(t, adaToken, "w1", "before join", 10, 20)

	conn := environment.dialStream(t, "w1", adaToken)

	frame := readFrame(t, conn)
	if frame.Type != snapshotEnvelopeType || frame.WorkspaceID != "w1" {
		t.Fatalf("expected snapshot first, got %+v", frame)
	}
	var snapshot snapshotPayload
	if err := json.Unmarshal(frame.Data, &snapshot); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if len(snapshot.Notes) != 1 || snapshot.Notes[0].NoteID != existing.NoteID {
		t.Fatalf("expected pre-join note in snapshot, got %+v", snapshot.Notes)
	}
	if len(snapshot.Presence) != 1 || snapshot.Presence[0].UserEmail != "ada@example.com" || !snapshot.Presence[0].Online {
		t.Fatalf("expected self in presence snapshot, got %+v", snapshot.Presence)
	}

	created := environment.createNote(t, adaToken, "w1", "after join", 30, 40)

	frame = readFrame(t, conn)
	if frame.Type != "note-created" {
		t.Fatalf("expected note-created event, got %+v", frame)
	}
	var notified notePayload
	if err := json.Unmarshal(frame.Data, &notified); err != nil {
		t.Fatalf("failed to decode event payload: %v", err)
	}
	if notified.NoteID != created.NoteID || notified.Version != 1 {
		t.Fatalf("unexpected event payload: %+v", notified)
	}
}

func TestCursorFanOutSkipsOriginator(t *testing.T) {
	environment := newTestEnvironment(t)
	adaToken := environment.token(t, "ada@example.com")
	bobToken := environment.token(t, "bob@example.com")

	adaConn := environment.dialStream(t, "w1", adaToken)
	if frame := readFrame(t, adaConn); frame.Type != snapshotEnvelopeType {
		t.Fatalf("expected ada snapshot, got %+v", frame)
	}

	bobConn := environment.dialStream(t, "w1", bobToken)
	if frame := readFrame(t, bobConn); frame.Type != snapshotEnvelopeType {
		t.Fatalf("expected bob snapshot, got %+v", frame)
	}

	// Ada hears about Bob joining; Bob's own join was suppressed for him.
	if frame := readFrame(t, adaConn); frame.Type != "presence-changed" {
		t.Fatalf("expected presence-changed for ada, got %+v", frame)
	}

	cursor := map[string]interface{}{"type": "cursor", "x": 5.0, "y": 6.0}
	if err := adaConn.WriteJSON(cursor); err != nil {
		t.Fatalf("failed to send cursor report: %v", err)
	}

	frame := readFrame(t, bobConn)
	if frame.Type != "cursor-moved" {
		t.Fatalf("expected cursor-moved for bob, got %+v", frame)
	}
	var moved struct {
		UserEmail string  `json:"userEmail"`
		X         float64 `json:"x"`
		Y         float64 `json:"y"`
	}
	if err := json.Unmarshal(frame.Data, &moved); err != nil {
		t.Fatalf("failed to decode cursor payload: %v", err)
	}
	if moved.UserEmail != "ada@example.com" || moved.X != 5 || moved.Y != 6 {
		t.Fatalf("unexpected cursor payload: %+v", moved)
	}

	// The originator already knows its own cursor.
	expectNoFrame(t, adaConn)
}

func TestStreamLeaveBroadcastsOffline(t *testing.T) {
	environment := newTestEnvironment(t)
	adaToken := environment.token(t, "ada@example.com")
	bobToken := environment.token(t, "bob@example.com")

	adaConn := environment.dialStream(t, "w1", adaToken)
	if frame := readFrame(t, adaConn); frame.Type != snapshotEnvelopeType {
		t.Fatalf("expected ada snapshot, got %+v", frame)
	}
	bobConn := environment.dialStream(t, "w1", bobToken)
	if frame := readFrame(t, bobConn); frame.Type != snapshotEnvelopeType {
		t.Fatalf("expected bob snapshot, got %+v", frame)
	}
	if frame := readFrame(t, adaConn); frame.Type != "presence-changed" {
		t.Fatalf("expected join notification, got %+v", frame)
	}

	bobConn.Close()

	frame := readFrame(t, adaConn)
	if frame.Type != "presence-changed" {
		t.Fatalf("expected leave notification, got %+v", frame)
	}
	var changed struct {
		UserEmail string `json:"userEmail"`
		Online    bool   `json:"online"`
	}
	if err := json.Unmarshal(frame.Data, &changed); err != nil {
		t.Fatalf("failed to decode presence payload: %v", err)
	}
	if changed.UserEmail != "bob@example.com" || changed.Online {
		t.Fatalf("unexpected presence payload: %+v", changed)
	}
}
