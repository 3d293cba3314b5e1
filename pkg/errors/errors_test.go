package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContext(t *testing.T) {
	root := New("root cause")
	wrapped := WithContext(WithContext(root, "inner"), "outer")
	assert.Equal(t, "outer: inner: root cause", wrapped.Error())
	assert.Equal(t, root, RootCause(wrapped))

	assert.Nil(t, WithContext(nil, "context"))
}

func TestGetPrintableMessage(t *testing.T) {
	friendly := NewFriendlyError("something went wrong with %q", "Arial.ttf")
	wrapped := WithContext(friendly, "sync")
	assert.Equal(t, friendly.Error(), GetPrintableMessage(wrapped))

	plain := WithContext(New("boom"), "scan")
	assert.Equal(t, "scan: boom", GetPrintableMessage(plain))
}
