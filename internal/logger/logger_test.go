package logger

import (
	"os"
	"path/filepath"
	"testing"

	"upbit-trade-bot-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("InvalidLevel", func(t *testing.T) {
		_, err := NewLogger(config.Logger{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("WritesRotatedFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bot.log")
		log, err := NewLogger(config.Logger{Level: "info", Format: "json", File: path, MaxSizeMB: 1})
		require.NoError(t, err)

		log.Info("cycle complete")
		_ = log.Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "cycle complete")
	})
}
