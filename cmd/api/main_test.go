package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	bootLog := newBootLogger(&buf)
	bootLog.Error().Err(errors.New("bad config")).Msg("load config")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "boot", entry["stage"])
	assert.Equal(t, "bad config", entry["error"])
	assert.Equal(t, "load config", entry["message"])
}
