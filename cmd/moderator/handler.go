package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whisper/moderation/internal/enforcement"
	"github.com/whisper/moderation/internal/messaging"
	"github.com/whisper/moderation/internal/moderation"
)

// checkTimeout bounds one moderation check, remote retries included.
const checkTimeout = 15 * time.Second

// moderator is the interface the NATS handlers need from the dispatcher.
type moderator interface {
	Moderate(ctx context.Context, req moderation.ModerationRequest) enforcement.Decision
	EndContext(ctx context.Context, contextID string)
}

type errorReply struct {
	Error string `json:"error"`
}

type handlers struct {
	ctx context.Context
	mod moderator
	log *logrus.Entry
}

// check handles one moderation.check payload and returns the subject to
// address and the reply body.
func (h *handlers) check(data []byte) (string, []byte) {
	var req moderation.ModerationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.log.WithError(err).Warn("failed to unmarshal request")
		return "", mustJSON(errorReply{Error: "invalid request"})
	}
	if err := req.Validate(); err != nil {
		h.log.WithError(err).WithField("subject", req.SubjectID).Warn("rejected request")
		return req.SubjectID, mustJSON(errorReply{Error: err.Error()})
	}

	ctx, cancel := context.WithTimeout(h.ctx, checkTimeout)
	defer cancel()

	dec := h.mod.Moderate(ctx, req)
	entry := h.log.WithFields(logrus.Fields{
		"subject":  req.SubjectID,
		"context":  req.ContextID,
		"decision": dec.Kind(),
	})
	if dec.Kind() == enforcement.KindAllow {
		entry.Debug("checked")
	} else {
		entry.Info("checked")
	}

	reply, err := enforcement.Marshal(dec)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal decision")
		return req.SubjectID, nil
	}
	return req.SubjectID, reply
}

// contextEnded handles moderation.context.ended.
func (h *handlers) contextEnded(data []byte) {
	var ev messaging.ContextEnded
	if err := json.Unmarshal(data, &ev); err != nil || ev.ContextID == "" {
		h.log.WithError(err).Warn("invalid context ended event")
		return
	}
	h.mod.EndContext(h.ctx, ev.ContextID)
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
