package services

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learning-coach-platform/models"
)

func wordsText(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "w" + string(rune('a'+i%26))
	}
	return strings.Join(words, " ")
}

func defaultChunker() *Chunker {
	return NewChunker(models.ChunkingConfig{WindowWords: 150, OverlapWords: 20, MaxChars: 100000})
}

func TestChunker_FourHundredWordsYieldsThreeChunks(t *testing.T) {
	chunks := defaultChunker().Chunk(wordsText(400))

	require.Len(t, chunks, 3)
	assert.Equal(t, models.ChunkMetadata{StartWord: 0, EndWord: 150}, chunks[0].Metadata)
	assert.Equal(t, models.ChunkMetadata{StartWord: 130, EndWord: 280}, chunks[1].Metadata)
	assert.Equal(t, models.ChunkMetadata{StartWord: 260, EndWord: 400}, chunks[2].Metadata)
}

func TestChunker_IndicesContiguousAndOverlapExact(t *testing.T) {
	c := defaultChunker()
	for _, n := range []int{1, 19, 150, 151, 280, 281, 1000, 1337} {
		chunks := c.Chunk(wordsText(n))
		require.NotEmpty(t, chunks, "n=%d", n)

		for i, ch := range chunks {
			assert.Equal(t, i, ch.Index)
			if i > 0 {
				prev := chunks[i-1].Metadata
				assert.Equal(t, 20, prev.EndWord-ch.Metadata.StartWord, "n=%d chunk=%d", n, i)
			}
		}
		assert.Equal(t, n, chunks[len(chunks)-1].Metadata.EndWord, "n=%d", n)
	}
}

func TestChunker_Idempotent(t *testing.T) {
	text := wordsText(777)
	c := defaultChunker()
	assert.Equal(t, c.Chunk(text), c.Chunk(text))
}

func TestChunker_EmptyAndWhitespaceInput(t *testing.T) {
	c := defaultChunker()
	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk(" \n\t  "))
}

func TestChunker_TruncatesToMaxCharsOnRuneBoundary(t *testing.T) {
	c := NewChunker(models.ChunkingConfig{WindowWords: 150, OverlapWords: 20, MaxChars: 10})
	chunks := c.Chunk(strings.Repeat("héllo ", 50))

	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 10)
		assert.True(t, utf8.ValidString(ch.Text))
	}
}

func TestChunker_DegenerateOverlapStillProgresses(t *testing.T) {
	c := NewChunker(models.ChunkingConfig{WindowWords: 5, OverlapWords: 10, MaxChars: 500})
	assert.Equal(t, 1, c.Step())

	chunks := c.Chunk(wordsText(8))
	require.Len(t, chunks, 4)
	assert.Equal(t, 8, chunks[3].Metadata.EndWord)
}

func TestAssignPages(t *testing.T) {
	chunks := []models.Chunk{
		{Index: 0, Metadata: models.ChunkMetadata{StartWord: 0, EndWord: 150}},
		{Index: 1, Metadata: models.ChunkMetadata{StartWord: 130, EndWord: 280}},
		{Index: 2, Metadata: models.ChunkMetadata{StartWord: 260, EndWord: 400}},
	}

	AssignPages(chunks, []int{0, 200, 250})

	assert.Equal(t, 1, chunks[0].Metadata.Page)
	assert.Equal(t, 1, chunks[1].Metadata.Page)
	assert.Equal(t, 3, chunks[2].Metadata.Page)
	assert.Equal(t, "Page 3", chunks[2].Label())
}

func TestChunkLabel_FallsBackToSection(t *testing.T) {
	ch := models.Chunk{Index: 4}
	assert.Equal(t, "Section 5", ch.Label())
}
