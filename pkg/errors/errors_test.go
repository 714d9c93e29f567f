package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContext(t *testing.T) {
	assert.NoError(t, WithContext(nil, "ignored"))

	root := New("root cause")
	err := WithContext(WithContext(root, "inner"), "outer")
	assert.EqualError(t, err, "outer: inner: root cause")
	assert.Equal(t, root, GetRootCause(err))
	assert.True(t, Is(err, root))
}

func TestGetFriendlyError(t *testing.T) {
	friendly := NewFriendlyError("please set %s", "dataRoot")
	msg, ok := GetFriendlyError(WithContext(friendly, "resolve"))
	assert.True(t, ok)
	assert.Equal(t, "please set dataRoot", msg.FriendlyMessage())

	_, ok = GetFriendlyError(New("plain"))
	assert.False(t, ok)

	cfgErr := WithContext(ConfigurationError{Reason: "no root"}, "new dataset")
	msg, ok = GetFriendlyError(cfgErr)
	assert.True(t, ok)
	assert.Contains(t, msg.FriendlyMessage(), "no root")
}

func TestTransferError(t *testing.T) {
	err := error(&TransferError{
		Op:       "pull",
		Location: "store:/data/ds/",
		Output:   "rsync: link_stat failed\n",
	})
	assert.EqualError(t, err, "pull store:/data/ds/ failed: rsync: link_stat failed")

	var transferErr *TransferError
	assert.True(t, As(WithContext(err, "make local copy"), &transferErr))
	assert.Equal(t, "pull", transferErr.Op)
}
