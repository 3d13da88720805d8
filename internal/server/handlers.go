package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/corkboardhq/corkboard/internal/canvas"
	"github.com/corkboardhq/corkboard/internal/hub"
	"github.com/corkboardhq/corkboard/internal/notes"
	"github.com/corkboardhq/corkboard/internal/reactions"
)

type notePayload struct {
	NoteID           string   `json:"noteId"`
	WorkspaceID      string   `json:"workspaceId"`
	AuthorEmail      string   `json:"authorEmail"`
	Content          string   `json:"content"`
	X                float64  `json:"x"`
	Y                float64  `json:"y"`
	Images           []string `json:"images,omitempty"`
	Version          int64    `json:"version"`
	CreatedAtSeconds int64    `json:"createdAtS"`
	UpdatedAtSeconds int64    `json:"updatedAtS"`
}

func toNotePayload(note notes.Note) notePayload {
	return notePayload{
		NoteID:           note.NoteID,
		WorkspaceID:      note.WorkspaceID,
		AuthorEmail:      note.AuthorEmail,
		Content:          note.Content,
		X:                note.PositionX,
		Y:                note.PositionY,
		Images:           note.Images(),
		Version:          note.Version,
		CreatedAtSeconds: note.CreatedAtSeconds,
		UpdatedAtSeconds: note.UpdatedAtSeconds,
	}
}

// movePayload is the minimal wire form for note-moved events; moves are
// high-frequency and never carry content.
type movePayload struct {
	NoteID  string  `json:"noteId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Version int64   `json:"version"`
}

type deletePayload struct {
	NoteID string `json:"noteId"`
}

// reactionEventPayload is broadcast after any reaction change. The
// summaries are recomputed without a requesting user, since the Reacted
// flag is viewer-specific and meaningless on a shared broadcast.
type reactionEventPayload struct {
	NoteID    string              `json:"noteId"`
	Summaries []reactions.Summary `json:"summaries"`
}

type reactionRecordPayload struct {
	ReactionID string `json:"reactionId"`
	NoteID     string `json:"noteId"`
	UserEmail  string `json:"userEmail"`
	Kind       string `json:"kind"`
}

type createNoteRequest struct {
	Content string   `json:"content"`
	X       float64  `json:"x"`
	Y       float64  `json:"y"`
	Images  []string `json:"images"`
}

type updateNoteRequest struct {
	Content         *string  `json:"content"`
	X               *float64 `json:"x"`
	Y               *float64 `json:"y"`
	Images          []string `json:"images"`
	ExpectedVersion int64    `json:"expectedVersion"`
}

type moveNoteRequest struct {
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	ExpectedVersion int64   `json:"expectedVersion"`
}

type addReactionRequest struct {
	Kind string `json:"kind"`
}

type cursorReportRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	workspaceID, err := canvas.NewWorkspaceID(c.Param("workspace"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	var request createNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": "malformed JSON body"})
		return
	}

	note, err := h.notes.Create(c.Request.Context(), notes.CreateRequest{
		WorkspaceID: workspaceID,
		AuthorEmail: requestUser(c),
		Content:     request.Content,
		Position:    canvas.Position{X: request.X, Y: request.Y},
		Images:      request.Images,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.hub.Publish(hub.Event{
		Kind:        hub.EventNoteCreated,
		WorkspaceID: note.WorkspaceID,
		Payload:     toNotePayload(note),
	})
	c.JSON(http.StatusCreated, toNotePayload(note))
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	workspaceID, err := canvas.NewWorkspaceID(c.Param("workspace"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	workspaceNotes, err := h.notes.ListByWorkspace(c.Request.Context(), workspaceID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	payloads := make([]notePayload, 0, len(workspaceNotes))
	for _, note := range workspaceNotes {
		payloads = append(payloads, toNotePayload(note))
	}
	c.JSON(http.StatusOK, gin.H{"notes": payloads})
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	noteID, err := notes.NewNoteID(c.Param("note"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	note, err := h.notes.Get(c.Request.Context(), noteID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toNotePayload(note))
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	noteID, err := notes.NewNoteID(c.Param("note"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	var request updateNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": "malformed JSON body"})
		return
	}
	if (request.X == nil) != (request.Y == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": "x and y must be supplied together"})
		return
	}

	patch := notes.Patch{Content: request.Content, Images: request.Images}
	if request.X != nil {
		patch.Position = &canvas.Position{X: *request.X, Y: *request.Y}
	}

	note, err := h.notes.Update(c.Request.Context(), noteID, patch, request.ExpectedVersion)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.hub.Publish(hub.Event{
		Kind:        hub.EventNoteUpdated,
		WorkspaceID: note.WorkspaceID,
		Payload:     toNotePayload(note),
	})
	c.JSON(http.StatusOK, toNotePayload(note))
}

func (h *httpHandler) handleMoveNote(c *gin.Context) {
	noteID, err := notes.NewNoteID(c.Param("note"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	var request moveNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": "malformed JSON body"})
		return
	}

	note, err := h.notes.Move(c.Request.Context(), noteID, canvas.Position{X: request.X, Y: request.Y}, request.ExpectedVersion)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.hub.Publish(hub.Event{
		Kind:        hub.EventNoteMoved,
		WorkspaceID: note.WorkspaceID,
		Payload: movePayload{
			NoteID:  note.NoteID,
			X:       note.PositionX,
			Y:       note.PositionY,
			Version: note.Version,
		},
	})
	c.JSON(http.StatusOK, toNotePayload(note))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	noteID, err := notes.NewNoteID(c.Param("note"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	// Load first: the broadcast needs the workspace id, which the delete
	// by itself does not return.
	note, err := h.notes.Get(c.Request.Context(), noteID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.notes.Delete(c.Request.Context(), noteID); err != nil {
		h.writeError(c, err)
		return
	}

	h.hub.Publish(hub.Event{
		Kind:        hub.EventNoteDeleted,
		WorkspaceID: note.WorkspaceID,
		Payload:     deletePayload{NoteID: note.NoteID},
	})
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListReactions(c *gin.Context) {
	noteID, err := notes.NewNoteID(c.Param("note"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if _, err := h.notes.Get(c.Request.Context(), noteID); err != nil {
		h.writeError(c, err)
		return
	}

	summaries, err := h.reactions.Summarize(c.Request.Context(), noteID.String(), requestUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summaries": summaries})
}

func (h *httpHandler) handleAddReaction(c *gin.Context) {
	noteID, err := notes.NewNoteID(c.Param("note"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	var request addReactionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": "malformed JSON body"})
		return
	}

	note, err := h.notes.Get(c.Request.Context(), noteID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	workspaceID, err := canvas.NewWorkspaceID(note.WorkspaceID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	userEmail := requestUser(c)
	reaction, err := h.reactions.AddOrUpdate(c.Request.Context(), note.NoteID, workspaceID, userEmail, request.Kind)
	if err != nil {
		h.writeError(c, err)
		return
	}

	summaries, err := h.reactions.Summarize(c.Request.Context(), note.NoteID, userEmail)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.publishReactionChanged(c, note.WorkspaceID, note.NoteID)
	c.JSON(http.StatusOK, gin.H{
		"reaction": reactionRecordPayload{
			ReactionID: reaction.ReactionID,
			NoteID:     reaction.NoteID,
			UserEmail:  reaction.UserEmail,
			Kind:       reaction.Kind,
		},
		"summaries": summaries,
	})
}

func (h *httpHandler) handleRemoveReactionByKind(c *gin.Context) {
	noteID, err := notes.NewNoteID(c.Param("note"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	kind := c.Query("kind")
	if kind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": "kind query parameter is required"})
		return
	}

	note, err := h.notes.Get(c.Request.Context(), noteID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	userEmail := requestUser(c)
	if err := h.reactions.RemoveByNoteAndUser(c.Request.Context(), note.NoteID, userEmail, kind); err != nil {
		h.writeError(c, err)
		return
	}

	summaries, err := h.reactions.Summarize(c.Request.Context(), note.NoteID, userEmail)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.publishReactionChanged(c, note.WorkspaceID, note.NoteID)
	c.JSON(http.StatusOK, gin.H{"summaries": summaries})
}

func (h *httpHandler) handleRemoveReaction(c *gin.Context) {
	reactionID := c.Param("reaction")
	userEmail := requestUser(c)

	removed, err := h.reactions.Remove(c.Request.Context(), reactionID, userEmail)
	if err != nil {
		h.writeError(c, err)
		return
	}

	workspaceID := removed.WorkspaceID
	if workspaceID == "" {
		// Rows written before the workspace column gained its backfill
		// migration; resolve through the parent note.
		if noteID, idErr := notes.NewNoteID(removed.NoteID); idErr == nil {
			if note, getErr := h.notes.Get(c.Request.Context(), noteID); getErr == nil {
				workspaceID = note.WorkspaceID
			}
		}
	}

	summaries, err := h.reactions.Summarize(c.Request.Context(), removed.NoteID, userEmail)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if workspaceID != "" {
		h.publishReactionChanged(c, workspaceID, removed.NoteID)
	}
	c.JSON(http.StatusOK, gin.H{"summaries": summaries})
}

func (h *httpHandler) handleWorkspacePresence(c *gin.Context) {
	workspaceID, err := canvas.NewWorkspaceID(c.Param("workspace"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": h.presence.Snapshot(workspaceID)})
}

// handleReportCursor is the REST fallback for clients without a live
// stream. Stream clients report cursors over the websocket instead,
// which carries the origin id for echo suppression.
func (h *httpHandler) handleReportCursor(c *gin.Context) {
	workspaceID, err := canvas.NewWorkspaceID(c.Param("workspace"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	var request cursorReportRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": "malformed JSON body"})
		return
	}

	userEmail := requestUser(c)
	if err := h.presence.ReportCursor(userEmail, workspaceID, canvas.Position{X: request.X, Y: request.Y}); err != nil {
		h.writeError(c, err)
		return
	}

	h.hub.Publish(hub.Event{
		Kind:        hub.EventCursorMoved,
		WorkspaceID: workspaceID.String(),
		Payload:     hub.CursorPayload{UserEmail: userEmail.String(), X: request.X, Y: request.Y},
	})
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) publishReactionChanged(c *gin.Context, workspaceID, noteID string) {
	broadcast, err := h.reactions.Summarize(c.Request.Context(), noteID, canvas.UserEmail(""))
	if err != nil {
		h.logger.Warn("reaction broadcast skipped",
			zap.String("note_id", noteID),
			zap.Error(err))
		return
	}
	h.hub.Publish(hub.Event{
		Kind:        hub.EventReactionChanged,
		WorkspaceID: workspaceID,
		Payload:     reactionEventPayload{NoteID: noteID, Summaries: broadcast},
	})
}
