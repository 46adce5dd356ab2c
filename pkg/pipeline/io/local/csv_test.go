package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/bookmark-enricher/pkg/pipeline/core"
	"github.com/shpitdev/bookmark-enricher/pkg/pipeline/io/local"
)

var (
	_ core.Source[string] = local.FileSource{}
	_ core.Sink[[]string] = (*local.CSVSink)(nil)
)

func TestReadColumnCSV(t *testing.T) {
	t.Run("reads url column", func(t *testing.T) {
		in := "title,url\nA,https://a.test\nB,https://b.test\n"
		got, err := local.ReadColumnCSV(strings.NewReader(in), "url")
		require.NoError(t, err)
		assert.Equal(t, []string{"https://a.test", "https://b.test"}, got)
	})

	t.Run("header is case-insensitive and BOM tolerant", func(t *testing.T) {
		in := "\ufeffURL\nhttps://a.test\n"
		got, err := local.ReadColumnCSV(strings.NewReader(in), "url")
		require.NoError(t, err)
		assert.Equal(t, []string{"https://a.test"}, got)
	})

	t.Run("blank values are skipped", func(t *testing.T) {
		in := "url,x\n  ,1\nhttps://a.test ,2\n"
		got, err := local.ReadColumnCSV(strings.NewReader(in), "url")
		require.NoError(t, err)
		assert.Equal(t, []string{"https://a.test"}, got)
	})

	t.Run("missing column errors", func(t *testing.T) {
		_, err := local.ReadColumnCSV(strings.NewReader("link\nx\n"), "url")
		assert.EqualError(t, err, `missing required column "url"`)
	})

	t.Run("short row errors", func(t *testing.T) {
		_, err := local.ReadColumnCSV(strings.NewReader("a,url\nonly\n"), "url")
		assert.ErrorContains(t, err, "line 2")
	})
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("url\nhttps://a.test\n"), 0o600))

	got, err := local.FileSource{Path: path, Column: "url"}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.test"}, got)

	_, err = local.FileSource{Path: filepath.Join(t.TempDir(), "nope.csv"), Column: "url"}.Load(context.Background())
	assert.Error(t, err)
}

func TestCSVSink(t *testing.T) {
	var buf bytes.Buffer
	s, err := local.NewCSVSink(&buf, []string{"url", "notify"})
	require.NoError(t, err)

	require.NoError(t, s.Write([]string{"https://a.test", "false"}))
	require.NoError(t, s.Write([]string{"https://b.test, with comma", "true"}))
	assert.EqualError(t, s.Write([]string{"short"}), "row has 1 fields, header has 2")
	require.NoError(t, s.Close())

	assert.Equal(t, "url,notify\nhttps://a.test,false\n\"https://b.test, with comma\",true\n", buf.String())
}

func TestCreateCSVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := local.CreateCSVSink(path, []string{"a"})
	require.NoError(t, err)
	require.NoError(t, s.Write([]string{"1"}))
	require.NoError(t, s.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\n1\n", string(b))
}
