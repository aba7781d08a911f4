package common

import (
	"bytes"
	"log"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevels(t *testing.T) {
	levels, err := ParseLogLevels(" vacuum=debug, engine=ERROR,,")
	require.NoError(t, err)
	assert.Equal(t, map[string]logger.LogLevel{"vacuum": logger.DEBUG, "engine": logger.ERROR}, levels)

	levels, err = ParseLogLevels("")
	require.NoError(t, err)
	assert.Empty(t, levels)

	for _, bad := range []string{"vacuum", "nope=debug", "vacuum=loud", "=info"} {
		_, err := ParseLogLevels(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolveLevels(t *testing.T) {
	levels, err := resolveLevels("warn", "vacuum=debug")
	require.NoError(t, err)
	assert.Len(t, levels, len(loggerNames))
	assert.Equal(t, logger.DEBUG, levels["vacuum"])
	assert.Equal(t, logger.WARNING, levels["mvstore"])
	assert.Equal(t, logger.WARNING, levels["cli"])

	_, err = resolveLevels("loud", "")
	assert.Error(t, err)
	_, err = resolveLevels("info", "vacuum")
	assert.Error(t, err)
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := &mvkvLogger{name: "vacuum", logger: log.New(&buf, "", 0)}
	l.SetLevel(logger.WARNING)

	l.Infof("hidden %d", 1)
	l.Warningf("shown %d", 2)
	l.Errorf("shown %d", 3)
	assert.Equal(t, "WARN  | vacuum          | shown 2\nERROR | vacuum          | shown 3\n", buf.String())

	buf.Reset()
	l.SetLevel(logger.DEBUG)
	l.Debugf("now visible")
	assert.Contains(t, buf.String(), "DEBUG | vacuum          | now visible")
}
