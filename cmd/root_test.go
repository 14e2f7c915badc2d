package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogWriterStreams(t *testing.T) {
	w, f, err := setupLogWriter("stderr")
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, w)
	assert.Nil(t, f)

	w, f, err = setupLogWriter("stdout")
	require.NoError(t, err)
	assert.Equal(t, os.Stdout, w)
	assert.Nil(t, f)

	w, f, err = setupLogWriter("")
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, w)
	assert.Nil(t, f)
}

func TestSetupLogWriterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weatherduck.log")

	w, f, err := setupLogWriter(path)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, f, w)

	_, err = w.Write([]byte("started\n"))
	require.NoError(t, err)
	// The caller owns the handle and closes it once logging is done.
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "started\n", string(data))
}

func TestSetupLogWriterBadPath(t *testing.T) {
	_, _, err := setupLogWriter(filepath.Join(t.TempDir(), "missing", "weatherduck.log"))
	assert.Error(t, err)
}
