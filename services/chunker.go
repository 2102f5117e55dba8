package services

import (
	"sort"
	"strings"

	"learning-coach-platform/models"
)

// Chunker splits text into overlapping fixed-size word windows.
type Chunker struct {
	windowWords  int
	overlapWords int
	maxChars     int
}

// NewChunker creates a chunker; zero values fall back to 150 words,
// 20 words of overlap and a 500 character cap.
func NewChunker(cfg models.ChunkingConfig) *Chunker {
	if cfg.WindowWords <= 0 {
		cfg.WindowWords = 150
	}
	if cfg.OverlapWords < 0 {
		cfg.OverlapWords = 0
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 500
	}
	return &Chunker{
		windowWords:  cfg.WindowWords,
		overlapWords: cfg.OverlapWords,
		maxChars:     cfg.MaxChars,
	}
}

// Step is how many words each window advances. Always at least 1.
func (c *Chunker) Step() int {
	step := c.windowWords - c.overlapWords
	if step < 1 {
		step = 1
	}
	return step
}

// Chunk splits text into ordered chunks. Chunks carry no ids; the same
// input always yields the same output.
func (c *Chunker) Chunk(text string) []models.Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := c.Step()
	var chunks []models.Chunk

	for start := 0; start < len(words); start += step {
		end := start + c.windowWords
		if end > len(words) {
			end = len(words)
		}

		chunkText := truncateRunes(strings.Join(words[start:end], " "), c.maxChars)
		if strings.TrimSpace(chunkText) != "" {
			chunks = append(chunks, models.Chunk{
				Index: len(chunks),
				Text:  chunkText,
				Metadata: models.ChunkMetadata{
					StartWord: start,
					EndWord:   end,
				},
			})
		}

		// The window that reaches the last word is the final one.
		if end >= len(words) {
			break
		}
	}

	return chunks
}

// AssignPages stamps a 1-based page number on each chunk from the word
// offsets at which pages start. Chunks are left untouched when no page
// boundaries are known.
func AssignPages(chunks []models.Chunk, pageStarts []int) {
	if len(pageStarts) == 0 {
		return
	}
	for i := range chunks {
		start := chunks[i].Metadata.StartWord
		// Index of the last page starting at or before the chunk start.
		p := sort.Search(len(pageStarts), func(j int) bool { return pageStarts[j] > start })
		if p > 0 {
			chunks[i].Metadata.Page = p
		}
	}
}

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
