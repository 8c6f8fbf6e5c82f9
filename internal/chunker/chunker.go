// Package chunker splits plain text into bounded segments for embedding.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// Split packs whitespace-separated words into chunks whose accumulated
// length (each word plus one separating space) stays within size.
// A word longer than size forms a chunk on its own.
func Split(text string, size int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{}
	}

	chunks := make([]string, 0, 1)
	var current []string
	length := 0

	for _, word := range words {
		wordLen := utf8.RuneCountInString(word) + 1
		if length+wordLen > size && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			length = 0
		}
		current = append(current, word)
		length += wordLen
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

// SplitOverlap slides a window of size words over text, advancing by
// size-overlap words each step. Consecutive windows share exactly overlap
// words. The window that reaches the last word is the final chunk.
//
// An overlap outside [0, size) is treated as zero.
func SplitOverlap(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 || size <= 0 {
		return []string{}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	stride := size - overlap

	var chunks []string
	for start := 0; start < len(words); start += stride {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}

	return chunks
}
