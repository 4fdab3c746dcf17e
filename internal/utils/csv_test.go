package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(UTF8BOM)

	cs := NewCSVStreamer(&buf)
	require.NoError(t, cs.WriteHeader([]string{"Title", "Content"}))
	require.NoError(t, cs.WriteRow([]string{"a, b", `say "hi"`}))
	require.NoError(t, cs.WriteRow([]string{"multi", "line one\nline two"}))
	require.NoError(t, cs.WriteRow([]string{"indented", "  - item\n\n"}))
	require.NoError(t, cs.Close())
	assert.Equal(t, 3, cs.RowsWritten())

	rows, err := NewCSVReader(&buf, 0).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []map[string]string{
		{"title": "a, b", "content": `say "hi"`},
		{"title": "multi", "content": "line one\nline two"},
		{"title": "indented", "content": "  - item\n\n"},
	}, rows)
}

func TestCSVReaderShortRowsAndLimit(t *testing.T) {
	in := "title,content,tags\nonly title\n"
	rows, err := NewCSVReader(strings.NewReader(in), 0).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []map[string]string{{"title": "only title"}}, rows)

	_, err = NewCSVReader(strings.NewReader("title\na\nb\nc\n"), 2).ReadAll()
	assert.Error(t, err)

	_, err = NewCSVReader(strings.NewReader(""), 0).ReadAll()
	assert.ErrorIs(t, err, ErrEmptyCSV)
}

func TestCSVStreamerFlushesPeriodically(t *testing.T) {
	var buf bytes.Buffer
	cs := NewCSVStreamer(&buf)
	for i := 0; i < flushEvery; i++ {
		require.NoError(t, cs.WriteRow([]string{"x"}))
	}
	// 未调用 Close 之前数据已经写出
	assert.Equal(t, strings.Repeat("x\n", flushEvery), buf.String())
}
