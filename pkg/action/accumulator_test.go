package action

import (
	"strings"
	"testing"

	"codesmith/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorMarkerSplitAcrossChunks(t *testing.T) {
	a := NewAccumulator()

	out, acts := a.Feed("Creating the file now. <ACT")
	assert.Equal(t, "Creating the file now. ", out)
	assert.Empty(t, acts)

	out, acts = a.Feed(`ION>{"id":"a1","action":"create_file","file_path":"x.js","content":"hi"}</ACT`)
	assert.Empty(t, out)
	assert.Empty(t, acts)

	out, acts = a.Feed("ION> Done.")
	assert.Equal(t, " Done.", out)
	require.Len(t, acts, 1)
	assert.Equal(t, "a1", acts[0].ID)
	assert.Equal(t, api.KindCreateFile, acts[0].Kind)
}

func TestAccumulatorDisplayIsMonotone(t *testing.T) {
	a := NewAccumulator()

	block, err := Encode(api.Action{ID: "a1", Kind: api.KindRunCommand, Command: "ls"})
	require.NoError(t, err)
	full := "alpha " + block + " beta " + block[:5]

	var display strings.Builder
	for _, r := range full {
		out, _ := a.Feed(string(r))
		display.WriteString(out)
	}

	// 一個字元一個字元餵進來，輸出累積起來仍是乾淨的文字
	assert.Equal(t, "alpha  beta ", display.String())
}

func TestAccumulatorYieldsEachBlockOnce(t *testing.T) {
	a := NewAccumulator()

	b1, err := Encode(api.Action{ID: "a1", Kind: api.KindCreateDirectory, Directory: "src"})
	require.NoError(t, err)
	b2, err := Encode(api.Action{ID: "a2", Kind: api.KindReadFile, FilePath: "src/a.js"})
	require.NoError(t, err)

	_, acts := a.Feed(b1)
	require.Len(t, acts, 1)
	assert.Equal(t, "a1", acts[0].ID)

	_, acts = a.Feed(" and then ")
	assert.Empty(t, acts, "completed blocks must not be re-yielded")

	_, acts = a.Feed(b2)
	require.Len(t, acts, 1)
	assert.Equal(t, "a2", acts[0].ID)
}

func TestAccumulatorMalformedBlockSkipped(t *testing.T) {
	a := NewAccumulator()

	good, err := Encode(api.Action{ID: "a2", Kind: api.KindListFiles, Directory: "."})
	require.NoError(t, err)

	_, acts := a.Feed(OpenMarker + "{oops" + CloseMarker + good)
	require.Len(t, acts, 1)
	assert.Equal(t, "a2", acts[0].ID)
}

func TestAccumulatorFlushReportsUnterminatedBlock(t *testing.T) {
	a := NewAccumulator()
	out, _ := a.Feed("text " + OpenMarker + `{"id":"a1"`)
	assert.Equal(t, "text ", out)

	assert.True(t, a.Flush())
	assert.Equal(t, "text ", a.Display(), "unterminated tail stays hidden")
}

func TestAccumulatorRawKeepsMarkers(t *testing.T) {
	a := NewAccumulator()
	a.Feed("x " + OpenMarker)
	a.Feed(`{"id":"a1","action":"read_file","file_path":"f"}` + CloseMarker)

	assert.Contains(t, a.Raw(), OpenMarker)
	assert.Contains(t, a.Raw(), CloseMarker)
}
