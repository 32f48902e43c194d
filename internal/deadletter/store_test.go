package deadletter

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "dl"))
	s.now = func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }

	require.NoError(t, s.Write(context.Background(), Record{Topic: "t", Offset: 1, Value: "{", Reason: "unexpected end of JSON input"}))
	require.NoError(t, s.Write(context.Background(), Record{Topic: "t", Offset: 2, Value: "x", Reason: "invalid character"}))

	f, err := os.Open(filepath.Join(dir, "dl", "deadletter_2024-06-01.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var got []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		got = append(got, r)
	}
	require.NoError(t, sc.Err())
	require.Len(t, got, 2)
	assert.EqualValues(t, 2, got[1].Offset)
	assert.Equal(t, "invalid character", got[1].Reason)
	assert.False(t, got[0].Timestamp.IsZero())
}
