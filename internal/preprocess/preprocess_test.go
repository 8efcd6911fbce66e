package preprocess

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func txtSource(text string) Source {
	return Source{Filename: "doc.txt", Data: []byte(text)}
}

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		name    string
		src     Source
		want    string
		wantErr bool
	}{
		{"by extension txt", Source{Filename: "a.txt"}, formatTXT, false},
		{"by extension pdf", Source{Filename: "a.PDF"}, formatPDF, false},
		{"by extension csv", Source{Filename: "a.csv"}, formatCSV, false},
		{"hint wins", Source{Filename: "a.bin", ContentType: "text/csv"}, formatCSV, false},
		{"hint with charset", Source{Filename: "a.bin", ContentType: "text/plain; charset=utf-8"}, formatTXT, false},
		{"unknown", Source{Filename: "a.docx"}, "", true},
		{"no hint at all", Source{Filename: "noext"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveFormat(tt.src)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChunkTextWindow(t *testing.T) {
	// 2000 chars, size 800, overlap 120 -> step 680 -> ceil(2000/680) = 3 chunks
	text := strings.Repeat("a", 2000)
	res, err := Process("doc", txtSource(text), Params{TXTSize: 800, TXTOverlap: 120})
	require.NoError(t, err)

	require.Len(t, res.Chunks, 3)
	assert.Equal(t, "doc::1", res.Chunks[0].RID)
	assert.Equal(t, "doc::2", res.Chunks[1].RID)
	assert.Equal(t, "doc::3", res.Chunks[2].RID)

	assert.Len(t, res.Chunks[0].Text, 800)
	assert.Len(t, res.Chunks[1].Text, 800)
	assert.Len(t, res.Chunks[2].Text, 2000-2*680)

	assert.Equal(t, 0, res.Chunks[0].Meta["offset"])
	assert.Equal(t, 680, res.Chunks[1].Meta["offset"])
	assert.Equal(t, 1360, res.Chunks[2].Meta["offset"])
}

func TestChunkTextOverlapContent(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "%04d", i)
	}
	res, err := Process("d", txtSource(sb.String()), Params{TXTSize: 100, TXTOverlap: 20})
	require.NoError(t, err)

	// Tail of chunk N equals head of chunk N+1.
	for i := 0; i+1 < len(res.Chunks); i++ {
		tail := res.Chunks[i].Text[len(res.Chunks[i].Text)-20:]
		head := res.Chunks[i+1].Text[:20]
		assert.Equal(t, tail, head, "chunk %d/%d overlap", i, i+1)
	}
}

func TestChunkTextDeterministic(t *testing.T) {
	text := strings.Repeat("patchvec ", 500)
	a, err := Process("doc", txtSource(text), Params{TXTSize: 800, TXTOverlap: 120})
	require.NoError(t, err)
	b, err := Process("doc", txtSource(text), Params{TXTSize: 800, TXTOverlap: 120})
	require.NoError(t, err)

	require.Equal(t, len(a.Chunks), len(b.Chunks))
	for i := range a.Chunks {
		assert.Equal(t, a.Chunks[i].RID, b.Chunks[i].RID)
		assert.Equal(t, a.Chunks[i].Text, b.Chunks[i].Text)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	res, err := Process("doc", txtSource(""), Params{TXTSize: 800, TXTOverlap: 120})
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
}

func TestDocMeta(t *testing.T) {
	res, err := Process("doc", Source{Filename: "notes.txt", Data: []byte("hello")}, Params{TXTSize: 800, TXTOverlap: 120})
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", res.DocMeta["filename"])
	assert.Equal(t, "text/plain", res.DocMeta["content_type"])
}

func csvSource(text string, opts CSVOptions) Source {
	return Source{Filename: "data.csv", Data: []byte(text), CSV: opts}
}

func TestChunkCSVWithHeader(t *testing.T) {
	data := "title,lang,body\nMoby Dick,en,a whale tale\nOs Lusiadas,pt,epic voyage\n"
	res, err := Process("d", csvSource(data, CSVOptions{HasHeader: "yes", MetaCols: []string{"lang"}}), Params{})
	require.NoError(t, err)

	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "d::1", res.Chunks[0].RID)
	assert.Equal(t, "Moby Dick; a whale tale", res.Chunks[0].Text)
	assert.Equal(t, "en", res.Chunks[0].Meta["lang"])
	assert.Equal(t, 1, res.Chunks[0].Meta["row"])
	assert.Equal(t, "pt", res.Chunks[1].Meta["lang"])
	assert.Equal(t, 2, res.Chunks[1].Meta["row"])
}

func TestChunkCSVAutoHeader(t *testing.T) {
	// All-text first row -> header in auto mode.
	withHeader := "name,city\nalice,lisbon\n"
	res, err := Process("d", csvSource(withHeader, CSVOptions{}), Params{})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "alice; lisbon", res.Chunks[0].Text)

	// Numeric cell in first row -> data in auto mode.
	noHeader := "1,alice\n2,bob\n"
	res, err = Process("d", csvSource(noHeader, CSVOptions{}), Params{})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "1; alice", res.Chunks[0].Text)
}

func TestChunkCSVIncludeCols(t *testing.T) {
	data := "title,lang\nA,en\nB,pt\nC,en\n"
	res, err := Process("d", csvSource(data, CSVOptions{HasHeader: "yes", IncludeCols: []string{"lang=en"}}), Params{})
	require.NoError(t, err)

	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "A; en", res.Chunks[0].Text)
	assert.Equal(t, "C; en", res.Chunks[1].Text)
	// Ordinals stay dense even when rows are filtered out.
	assert.Equal(t, "d::1", res.Chunks[0].RID)
	assert.Equal(t, "d::2", res.Chunks[1].RID)
}

func TestChunkCSVErrors(t *testing.T) {
	t.Run("meta cols without header", func(t *testing.T) {
		_, err := Process("d", csvSource("1,2\n3,4\n", CSVOptions{HasHeader: "no", MetaCols: []string{"lang"}}), Params{})
		assert.Error(t, err)
	})
	t.Run("unknown meta col", func(t *testing.T) {
		_, err := Process("d", csvSource("a,b\n1,2\n", CSVOptions{HasHeader: "yes", MetaCols: []string{"nope"}}), Params{})
		assert.Error(t, err)
	})
	t.Run("bad include pair", func(t *testing.T) {
		_, err := Process("d", csvSource("a,b\n1,2\n", CSVOptions{HasHeader: "yes", IncludeCols: []string{"a"}}), Params{})
		assert.Error(t, err)
	})
}

func TestUnsupportedMedia(t *testing.T) {
	_, err := Process("d", Source{Filename: "image.png", Data: []byte{0x89}}, Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}
