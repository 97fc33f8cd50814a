package statestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireProcessLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	l1, err := AcquireProcessLock(path)
	require.NoError(t, err)

	_, err = AcquireProcessLock(path)
	assert.Error(t, err)

	require.NoError(t, l1.Release())

	l2, err := AcquireProcessLock(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}
