package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("connection refused")
	err := &Error{Op: "discover", Kind: KindNetwork, Status: 502, Detail: "bad gateway", Err: cause}

	msg := err.Error()
	assert.Contains(t, msg, "discover")
	assert.Contains(t, msg, "network")
	assert.Contains(t, msg, "502")
	assert.Contains(t, msg, "bad gateway")
	assert.Contains(t, msg, "connection refused")

	assert.ErrorIs(t, err, cause)
}

func TestIsKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("login failed: %w", &Error{Op: "authorize", Kind: KindCancelled})

	assert.True(t, IsKind(err, KindCancelled))
	assert.False(t, IsKind(err, KindNetwork))
	assert.False(t, IsKind(errors.New("plain"), KindCancelled))
	assert.False(t, IsKind(nil, KindCancelled))
}
