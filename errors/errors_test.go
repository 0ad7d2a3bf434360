package errors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAddsLocation(t *testing.T) {
	err := New("tool %q failed", "read_doc_contents")

	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "[errors_test.go:"))
	assert.Contains(t, err.Error(), `tool "read_doc_contents" failed`)
}

func TestWrapf(t *testing.T) {
	t.Run("nil error stays nil", func(t *testing.T) {
		assert.NoError(t, Wrapf(nil, "context"))
	})

	t.Run("keeps sentinel in chain", func(t *testing.T) {
		err := Wrapf(ErrUnknownCommand, "/%s", "frobnicate")

		assert.True(t, Is(err, ErrUnknownCommand))
		assert.False(t, Is(err, ErrUnknownResource))
		assert.Contains(t, err.Error(), "/frobnicate: unknown command")
	})

	t.Run("double wrap", func(t *testing.T) {
		err := Wrapf(Wrapf(ErrResourceNotFound, "report.pdf"), "reading resource")

		assert.True(t, Is(err, ErrResourceNotFound))
	})
}
