package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileMD5MatchesBytesMD5(t *testing.T) {
	data := []byte("brain mri slice")
	path := filepath.Join(t.TempDir(), "scan.jpg")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	sum, err := FileMD5(path)
	require.NoError(t, err)
	assert.Equal(t, BytesMD5(data), sum)
	assert.Len(t, sum, 32)

	_, err = FileMD5(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestGenerateIDUnique(t *testing.T) {
	assert.NotEqual(t, GenerateID(), GenerateID())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger("release"))
	require.NotNil(t, Logger)
	Sync()
	require.NoError(t, InitLogger("debug"))
}

func TestLoggerFromContext(t *testing.T) {
	assert.Same(t, Logger, L(context.Background()))

	l := zap.NewExample()
	ctx := WithLogger(context.Background(), l)
	assert.Same(t, l, L(ctx))
}
