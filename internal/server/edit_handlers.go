package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"composer/internal/timeline"
	"composer/pkg/models"
)

// EditOperation is one gesture of an edit request. Positions are in frames.
type EditOperation struct {
	Op      string    `json:"op"` // resize, move, split, delete, insert
	UUID    int64     `json:"uuid,omitempty"`
	Side    string    `json:"side,omitempty"`
	Delta   int       `json:"delta,omitempty"`
	Frame   int       `json:"frame,omitempty"`
	Source  SourceRef `json:"source"`
	Channel int       `json:"channel,omitempty"`
	Offset  int       `json:"offset,omitempty"`
	Length  int       `json:"length,omitempty"`
}

// SourceRef names the source of an inserted clip.
type SourceRef struct {
	Type models.ClipType `json:"type"`
	Path string          `json:"path"`
}

// EditRequest applies its operations to the current clip list and commits
// them together. A failing operation discards the whole edit.
type EditRequest struct {
	Mode       string          `json:"mode,omitempty"`
	Snap       *bool           `json:"snap,omitempty"`
	Operations []EditOperation `json:"operations"`
}

// handleEdit runs an edit session over the current snapshot.
func (cs *ComposerServer) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if !cs.decodeJSON(w, r, &req) {
		return
	}
	if verr := validateMode(req.Mode); verr != nil {
		cs.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	if len(req.Operations) == 0 {
		cs.respondWithValidationError(w, r, []ValidationError{{
			Field:   "operations",
			Message: "At least one operation is required",
			Code:    "MISSING_OPERATIONS",
		}})
		return
	}

	opts := timeline.Options{
		Mode:       timeline.Mode(cs.config.Editor.Mode),
		Snap:       cs.config.Editor.Snap,
		SnapFrames: cs.config.Editor.SnapFrames,
	}
	if req.Mode != "" {
		opts.Mode = timeline.Mode(req.Mode)
	}
	if req.Snap != nil {
		opts.Snap = *req.Snap
	}

	editor := cs.project.NewEditor(opts)
	var created []string
	for i, op := range req.Operations {
		uuid, err := cs.applyOperation(editor, op)
		if err != nil {
			editor.Cancel()
			cs.respondWithEditError(w, r, i, err)
			return
		}
		if uuid != 0 {
			created = append(created, strconv.FormatInt(uuid, 10))
		}
	}

	if err := cs.project.CommitEdit(r.Context(), editor); err != nil {
		cs.respondWithClipError(w, r, err)
		return
	}

	cs.logger.WithField("operations", len(req.Operations)).Info("Committed edit")
	if len(created) > 0 {
		w.Header().Set("X-Created-Clips", strings.Join(created, ","))
	}
	cs.handleGetClips(w, r)
}

// applyOperation performs one gesture. It returns the uuid of a clip the
// gesture created, if any.
func (cs *ComposerServer) applyOperation(editor *timeline.Editor, op EditOperation) (int64, error) {
	uuids := cs.project.UUIDs()
	switch op.Op {
	case "resize":
		if verr := validateSide(op.Side); verr != nil {
			return 0, fmt.Errorf("%w: %s", errInvalidOperation, verr.Message)
		}
		return 0, editor.Resize(op.UUID, timeline.Side(op.Side), op.Delta)
	case "move":
		return 0, editor.Move(op.UUID, op.Delta)
	case "split":
		clip, err := editor.Split(op.UUID, op.Frame, uuids)
		return clip.UUID, err
	case "delete":
		return 0, editor.Delete(op.UUID)
	case "insert":
		source, ok := cs.library.Find(op.Source.Type, op.Source.Path)
		if !ok {
			return 0, fmt.Errorf("%w: %s %s", errUnknownSource, op.Source.Type, op.Source.Path)
		}
		clip, err := editor.Insert(source, op.Channel, op.Offset, op.Length, uuids)
		return clip.UUID, err
	}
	return 0, fmt.Errorf("%w: unknown op %q", errInvalidOperation, op.Op)
}

var (
	errInvalidOperation = errors.New("invalid edit operation")
	errUnknownSource    = errors.New("unknown source")
)

func (cs *ComposerServer) respondWithEditError(w http.ResponseWriter, r *http.Request, index int, err error) {
	message := fmt.Sprintf("Operation %d failed", index)
	switch {
	case errors.Is(err, timeline.ErrClipNotFound), errors.Is(err, errUnknownSource):
		cs.respondWithError(w, r, http.StatusNotFound, message, err)
	case errors.Is(err, timeline.ErrLocked):
		cs.respondWithError(w, r, http.StatusConflict, message, err)
	default:
		cs.respondWithError(w, r, http.StatusBadRequest, message, err)
	}
}
