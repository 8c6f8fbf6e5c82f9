package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Empty(t *testing.T) {
	assert.Empty(t, Split("", 10))
	assert.Empty(t, Split("   \n\t ", 10))
	assert.NotNil(t, Split("", 10))
}

func TestSplit_Budget(t *testing.T) {
	// "aaa " is 4 and "bb " is 3, so both fit in 8.
	chunks := Split("aaa bb cc dddd", 8)
	assert.Equal(t, []string{"aaa bb", "cc dddd"}, chunks)
}

func TestSplit_OversizedWord(t *testing.T) {
	chunks := Split("a supercalifragilistic b", 5)
	assert.Equal(t, []string{"a", "supercalifragilistic", "b"}, chunks)
}

func TestSplit_Coverage(t *testing.T) {
	inputs := []string{
		"hello world",
		"the quick brown fox jumps over the lazy dog",
		strings.Repeat("lorem ipsum dolor sit amet ", 200),
		"  leading   and\ttrailing\nwhitespace  ",
	}
	for _, size := range []int{1, 5, 20, 500} {
		for _, in := range inputs {
			chunks := Split(in, size)
			var rejoined []string
			for _, c := range chunks {
				assert.NotEmpty(t, c)
				assert.Equal(t, strings.TrimSpace(c), c)
				rejoined = append(rejoined, strings.Fields(c)...)
			}
			assert.Equal(t, strings.Fields(in), rejoined, "size=%d", size)
		}
	}
}

func TestSplitOverlap_Empty(t *testing.T) {
	assert.Empty(t, SplitOverlap("", 400, 50))
}

func TestSplitOverlap_SingleWindow(t *testing.T) {
	assert.Equal(t, []string{"hello world"}, SplitOverlap("hello world", 400, 50))
}

func TestSplitOverlap_SharedBoundary(t *testing.T) {
	var words []string
	for i := 0; i < 1000; i++ {
		words = append(words, "w"+strings.Repeat("x", i%7))
	}
	text := strings.Join(words, " ")

	const size, overlap = 40, 7
	chunks := SplitOverlap(text, size, overlap)
	require.Greater(t, len(chunks), 1)

	for i := 0; i+1 < len(chunks); i++ {
		cur := strings.Fields(chunks[i])
		next := strings.Fields(chunks[i+1])
		assert.Len(t, cur, size)
		assert.Equal(t, cur[len(cur)-overlap:], next[:overlap], "chunk %d", i)
	}

	last := strings.Fields(chunks[len(chunks)-1])
	assert.Equal(t, words[len(words)-1], last[len(last)-1])
}

func TestSplitOverlap_ExactFit(t *testing.T) {
	chunks := SplitOverlap("a b c d e f", 4, 2)
	assert.Equal(t, []string{"a b c d", "c d e f"}, chunks)
}

func TestSplitOverlap_InvalidOverlap(t *testing.T) {
	assert.Equal(t, []string{"a b", "c d", "e"}, SplitOverlap("a b c d e", 2, 2))
}
