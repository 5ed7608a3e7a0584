package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	original := logger
	defer func() { logger = original }()

	t.Run("TextFormat", func(t *testing.T) {
		err := Init(Config{Level: "info", Format: "text", Output: "stdout"})
		require.NoError(t, err)
		assert.Equal(t, logrus.InfoLevel, GetLogger().Level)
		_, ok := GetLogger().Formatter.(*logrus.TextFormatter)
		assert.True(t, ok)
	})

	t.Run("JSONFormat", func(t *testing.T) {
		err := Init(Config{Level: "debug", Format: "json", Output: "stdout"})
		require.NoError(t, err)
		_, ok := GetLogger().Formatter.(*logrus.JSONFormatter)
		assert.True(t, ok)
		assert.Equal(t, logrus.DebugLevel, GetLogger().Level)
	})

	t.Run("InvalidLevelFallsBackToInfo", func(t *testing.T) {
		err := Init(Config{Level: "loud", Format: "text"})
		require.NoError(t, err)
		assert.Equal(t, logrus.InfoLevel, GetLogger().Level)
	})

	t.Run("FileOutput", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "svc.log")
		err := Init(Config{
			Level:      "error",
			Format:     "json",
			Output:     "file",
			Filename:   logFile,
			MaxSize:    10,
			MaxAge:     7,
			MaxBackups: 3,
		})
		require.NoError(t, err)

		Error("file output")

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})
}

func TestServiceHook(t *testing.T) {
	original := logger
	defer func() { logger = original }()

	require.NoError(t, Init(Config{Level: "info", Format: "json", Service: "catalog"}))

	var buf bytes.Buffer
	GetLogger().SetOutput(&buf)

	WithFields(logrus.Fields{"orderId": "o-1"}).Info("stock reserved")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "catalog", entry["service"])
	assert.Equal(t, "o-1", entry["orderId"])
	assert.Equal(t, "stock reserved", entry["msg"])
}

func TestSetLevel(t *testing.T) {
	original := logger
	defer func() { logger = original }()

	require.NoError(t, Init(Config{Level: "info", Format: "text"}))

	assert.True(t, SetLevel("warn"))
	assert.Equal(t, logrus.WarnLevel, GetLogger().Level)

	assert.False(t, SetLevel("nope"))
	assert.Equal(t, logrus.WarnLevel, GetLogger().Level)
}

func TestLevelFiltering(t *testing.T) {
	original := logger
	defer func() { logger = original }()

	require.NoError(t, Init(Config{Level: "warn", Format: "json"}))

	var buf bytes.Buffer
	GetLogger().SetOutput(&buf)

	Info("dropped")
	Debugf("dropped %d", 1)
	Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestGetLoggerWithoutInit(t *testing.T) {
	original := logger
	defer func() { logger = original }()

	logger = nil
	l := GetLogger()
	assert.NotNil(t, l)
	assert.Same(t, l, GetLogger())
}

func TestWithError(t *testing.T) {
	original := logger
	defer func() { logger = original }()

	require.NoError(t, Init(Config{Level: "info", Format: "json"}))

	var buf bytes.Buffer
	GetLogger().SetOutput(&buf)

	WithError(assert.AnError).Error("publish failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, assert.AnError.Error(), entry["error"])
}
