package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/moderation/internal/enforcement"
	"github.com/whisper/moderation/internal/escalation"
	"github.com/whisper/moderation/internal/moderation"
)

type fakeModerator struct {
	decision enforcement.Decision
	got      []moderation.ModerationRequest
	ended    []string
}

func (f *fakeModerator) Moderate(_ context.Context, req moderation.ModerationRequest) enforcement.Decision {
	f.got = append(f.got, req)
	return f.decision
}

func (f *fakeModerator) EndContext(_ context.Context, contextID string) {
	f.ended = append(f.ended, contextID)
}

func newTestHandlers(dec enforcement.Decision) (*handlers, *fakeModerator) {
	logger, _ := test.NewNullLogger()
	mod := &fakeModerator{decision: dec}
	return &handlers{ctx: context.Background(), mod: mod, log: logger.WithField("component", "test")}, mod
}

func TestCheck_RepliesWithEnvelope(t *testing.T) {
	h, mod := newTestHandlers(enforcement.Warn{Tier: escalation.Warned, Count: 1, Message: "Warning 1/3"})

	subject, reply := h.check([]byte(`{"text":"i will kill you","subject_id":"alice","context_id":"stream-1"}`))
	assert.Equal(t, "alice", subject)
	assert.JSONEq(t, `{"kind":"warn","tier":"warned","count":1,"message":"Warning 1/3"}`, string(reply))
	require.Len(t, mod.got, 1)
	assert.Equal(t, "stream-1", mod.got[0].ContextID)
}

func TestCheck_RejectsInvalidRequests(t *testing.T) {
	h, mod := newTestHandlers(enforcement.Allow{})

	_, reply := h.check([]byte(`not json`))
	assert.JSONEq(t, `{"error":"invalid request"}`, string(reply))

	_, reply = h.check([]byte(`{"text":"hi"}`))
	var er errorReply
	require.NoError(t, json.Unmarshal(reply, &er))
	assert.NotEmpty(t, er.Error)

	assert.Empty(t, mod.got, "invalid requests never reach the dispatcher")
}

func TestContextEnded(t *testing.T) {
	h, mod := newTestHandlers(enforcement.Allow{})

	h.contextEnded([]byte(`{"context_id":"stream-7"}`))
	h.contextEnded([]byte(`{}`))
	h.contextEnded([]byte(`garbage`))
	assert.Equal(t, []string{"stream-7"}, mod.ended)
}
