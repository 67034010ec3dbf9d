package faults

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := New(KindAssertion, "tools/call", "content array is empty")
	assert.Equal(t, "ASSERTION_FAILURE: tools/call: content array is empty", err.Error())

	wrapped := Wrap(KindTransport, "", "write failed", errors.New("broken pipe"))
	assert.Equal(t, "TRANSPORT_ERROR: write failed: broken pipe", wrapped.Error())
}

func TestKindOf_WrappedChain(t *testing.T) {
	base := Timeout("ping", 5*time.Second)
	wrapped := fmt.Errorf("batch: %w", base)

	assert.Equal(t, KindTimeout, KindOf(wrapped))
	assert.True(t, IsTimeout(wrapped))
	assert.False(t, IsStartupFailure(wrapped))
	assert.Contains(t, base.Error(), "no response within 5s")
}

func TestKindOf_UnclassifiedIsTransport(t *testing.T) {
	assert.Equal(t, KindTransport, KindOf(errors.New("EOF")))
	assert.False(t, Is(errors.New("EOF"), KindTransport))
}

func TestStartup(t *testing.T) {
	err := Startup("server failed to start", errors.New("exec: not found"))
	assert.True(t, IsStartupFailure(err))
	assert.Contains(t, Message(err), "server failed to start")
	assert.ErrorContains(t, err, "exec: not found")
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "", Message(nil))
	assert.Equal(t, "TRANSPORT_ERROR: boom", Message(errors.New("boom")))
	assert.Equal(t, "PROTOCOL_VIOLATION: initialize: missing result",
		Message(Protocolf("initialize", "missing %s", "result")))
}
