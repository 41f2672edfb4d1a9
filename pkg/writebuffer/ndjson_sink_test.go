package writebuffer_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ransomeye/rebuild-sub001/pkg/writebuffer"
	"github.com/stretchr/testify/require"
)

func TestNDJSONSink_AppendsOneLinePerItem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.ndjson")

	sink, err := writebuffer.NewNDJSONSink(path)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.WriteBatch([]json.RawMessage{
		json.RawMessage(`{"a":1}`),
		json.RawMessage(`{"a":2}`),
	}))
	require.NoError(t, sink.WriteBatch([]json.RawMessage{
		json.RawMessage(`{"a":3}`),
	}))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(contents), "\n"), "\n")
	require.Len(t, lines, 3)
}

func TestNDJSONSink_ReopensExistingFileInAppendMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.ndjson")

	sink1, err := writebuffer.NewNDJSONSink(path)
	require.NoError(t, err)
	require.NoError(t, sink1.WriteBatch([]json.RawMessage{json.RawMessage(`{"a":1}`)}))
	require.NoError(t, sink1.Close())

	sink2, err := writebuffer.NewNDJSONSink(path)
	require.NoError(t, err)
	defer sink2.Close()
	require.NoError(t, sink2.WriteBatch([]json.RawMessage{json.RawMessage(`{"a":2}`)}))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(contents), "\n"), "\n")
	require.Len(t, lines, 2)
}
