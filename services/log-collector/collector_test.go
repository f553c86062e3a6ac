package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceFromTopic(t *testing.T) {
	name, err := ServiceFromTopic("logs/console-api")
	require.NoError(t, err)
	assert.Equal(t, "console-api", name)

	name, err = ServiceFromTopic("logs/data-persister/error")
	require.NoError(t, err)
	assert.Equal(t, "data-persister", name)

	for _, topic := range []string{"logs", "logs/", "logs/..", "data/s7/1/001", `logs/a\b`} {
		_, err := ServiceFromTopic(topic)
		assert.Error(t, err, topic)
	}
}

func TestAppendWritesOneLinePerMessage(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCollector(filepath.Join(dir, "logs"))
	require.NoError(t, err)

	require.NoError(t, c.Append("logs/console-api", []byte(`{"msg":"a"}`+"\n")))
	require.NoError(t, c.Append("logs/console-api", []byte(`{"msg":"b"}`)))
	require.NoError(t, c.Append("logs/data-persister", []byte(`{"msg":"c"}`)))
	assert.Error(t, c.Append("logs/..", []byte("x")))

	raw, err := os.ReadFile(filepath.Join(dir, "logs", "console-api.log"))
	require.NoError(t, err)
	assert.Equal(t, "{\"msg\":\"a\"}\n{\"msg\":\"b\"}\n", string(raw))

	raw, err = os.ReadFile(filepath.Join(dir, "logs", "data-persister.log"))
	require.NoError(t, err)
	assert.Equal(t, "{\"msg\":\"c\"}\n", string(raw))
}
