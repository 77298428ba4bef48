package answer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/store"
)

const maxCommentChars = 300

// Ack confirms recorded feedback with a localized message.
type Ack struct {
	Message string `json:"message"`
}

// NotFoundError reports an unknown or expired interaction, with a message
// already localized for display.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// HandleFeedback records a thumbs up or down on an interaction. Feedback
// extends the interaction's retention so flagged exchanges stay reviewable.
func (h *Handler) HandleFeedback(ctx context.Context, interactionID, feedback, comment string) (*Ack, error) {
	switch feedback {
	case store.FeedbackThumbsUp, store.FeedbackThumbsDown:
	default:
		return nil, &ValidationError{Message: h.tr.T("feedback_invalid")}
	}
	if len([]rune(comment)) > maxCommentChars {
		return nil, &ValidationError{Message: h.tr.T("comment_too_long")}
	}

	id, err := uuid.Parse(interactionID)
	if err != nil {
		return nil, &NotFoundError{Message: h.tr.T("interaction_not_found")}
	}

	if err := h.storage.SetFeedback(ctx, id, feedback, comment); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Message: h.tr.T("interaction_not_found")}
		}
		return nil, fmt.Errorf("recording feedback: %w", err)
	}

	h.logger.Info("feedback recorded", "interaction_id", id, "feedback", feedback)
	return &Ack{Message: h.tr.T("feedback_thanks")}, nil
}
