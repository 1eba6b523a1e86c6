package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevels(t *testing.T) {
	testCases := []struct {
		level     string
		debugSeen bool
		infoSeen  bool
	}{
		{level: "debug", debugSeen: true, infoSeen: true},
		{level: "info", infoSeen: true},
		{level: "warn"},
		{level: "bogus", infoSeen: true},
		{level: "", infoSeen: true},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := newLogger(&buf, tc.level)

			log.Debug().Msg("d")
			assert.Equal(t, tc.debugSeen, buf.Len() > 0)
			buf.Reset()

			log.Info().Str("module", "test").Msg("i")
			assert.Equal(t, tc.infoSeen, buf.Len() > 0)
		})
	}
}

func TestOutputIsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "info")
	log.Info().Str("module", "store").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "store", line["module"])
	assert.Equal(t, "hello", line["message"])
	assert.Contains(t, line, "time")
}
