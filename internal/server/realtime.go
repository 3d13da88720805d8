package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/corkboardhq/corkboard/internal/canvas"
	"github.com/corkboardhq/corkboard/internal/hub"
	"github.com/corkboardhq/corkboard/internal/presence"
	"github.com/corkboardhq/corkboard/internal/reactions"
)

const (
	// writeWait bounds a single frame write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long the peer may stay silent before the read side
	// gives up. Pings go out at pingPeriod, which must be shorter.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames; clients only ever send small
	// cursor reports.
	maxMessageSize = 1024

	snapshotEnvelopeType = "workspace-snapshot"
	cursorMessageType    = "cursor"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS layer on the REST
	// surface; the stream admits any origin holding a valid token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamEnvelope is the server-to-client frame. Type mirrors the hub
// event kind; the snapshot frame uses its own type and is always first.
type streamEnvelope struct {
	Type        string      `json:"type"`
	WorkspaceID string      `json:"workspaceId"`
	Timestamp   time.Time   `json:"timestamp"`
	Data        interface{} `json:"data,omitempty"`
}

// clientMessage is the client-to-server frame. Cursor reports are the
// only inbound message kind.
type clientMessage struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type snapshotPayload struct {
	Notes     []notePayload                  `json:"notes"`
	Reactions map[string][]reactions.Summary `json:"reactions"`
	Presence  []presence.Record              `json:"presence"`
}

func toSnapshotPayload(snapshot hub.Snapshot) snapshotPayload {
	payloads := make([]notePayload, 0, len(snapshot.Notes))
	for _, note := range snapshot.Notes {
		payloads = append(payloads, toNotePayload(note))
	}
	return snapshotPayload{
		Notes:     payloads,
		Reactions: snapshot.Reactions,
		Presence:  snapshot.Presence,
	}
}

func (h *httpHandler) handleStream(c *gin.Context) {
	workspaceID, err := canvas.NewWorkspaceID(c.Param("workspace"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	subject, err := h.tokens.ValidateToken(c.Query("access_token"))
	if err != nil {
		h.abortUnauthorized(c)
		return
	}
	userEmail, err := canvas.NewUserEmail(subject)
	if err != nil {
		h.abortUnauthorized(c)
		return
	}

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("workspace_id", workspaceID.String()),
			zap.Error(err))
		return
	}

	subscriber, snapshot, err := h.hub.Join(c.Request.Context(), workspaceID, userEmail)
	if err != nil {
		h.logger.Error("workspace join failed",
			zap.String("workspace_id", workspaceID.String()),
			zap.Error(err))
		conn.Close()
		return
	}

	session := &streamSession{
		conn:       conn,
		subscriber: subscriber,
		hub:        h.hub,
		presence:   h.presence,
		workspace:  workspaceID,
		userEmail:  userEmail,
		logger:     h.logger,
	}
	go session.writePump(snapshot)
	session.readPump()
}

// streamSession owns one websocket connection. The read pump is the
// session's lifetime: when it returns, the subscriber leaves the hub
// and the write pump unwinds through the closed connection.
type streamSession struct {
	conn       *websocket.Conn
	subscriber *hub.Subscriber
	hub        *hub.Hub
	presence   *presence.Tracker
	workspace  canvas.WorkspaceID
	userEmail  canvas.UserEmail
	logger     *zap.Logger
}

func (s *streamSession) readPump() {
	defer func() {
		s.hub.Leave(s.subscriber)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended",
					zap.String("user_email", s.userEmail.String()),
					zap.Error(err))
			}
			return
		}

		var message clientMessage
		if err := json.Unmarshal(raw, &message); err != nil {
			continue
		}
		if message.Type != cursorMessageType {
			continue
		}

		position := canvas.Position{X: message.X, Y: message.Y}
		if err := s.presence.ReportCursor(s.userEmail, s.workspace, position); err != nil {
			// Out-of-bounds report; drop it rather than kill the stream.
			continue
		}
		s.hub.Publish(hub.Event{
			Kind:        hub.EventCursorMoved,
			WorkspaceID: s.workspace.String(),
			Origin:      s.subscriber.ID(),
			Payload: hub.CursorPayload{
				UserEmail: s.userEmail.String(),
				X:         message.X,
				Y:         message.Y,
			},
		})
	}
}

func (s *streamSession) writePump(snapshot hub.Snapshot) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	if err := s.writeEnvelope(streamEnvelope{
		Type:        snapshotEnvelopeType,
		WorkspaceID: s.workspace.String(),
		Timestamp:   time.Now().UTC(),
		Data:        toSnapshotPayload(snapshot),
	}); err != nil {
		return
	}

	for {
		select {
		case event := <-s.subscriber.Events():
			if err := s.writeEnvelope(streamEnvelope{
				Type:        event.Kind,
				WorkspaceID: event.WorkspaceID,
				Timestamp:   event.Timestamp,
				Data:        event.Payload,
			}); err != nil {
				return
			}
		case <-s.subscriber.Done():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *streamSession) writeEnvelope(envelope streamEnvelope) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(envelope)
}
