package services

import (
	"context"
	"os"
	"regexp"
	"strings"

	"learning-coach-platform/models"
)

var (
	rtfParagraph   = regexp.MustCompile(`\\par[d]?`)
	rtfHexEscape   = regexp.MustCompile(`\\'[0-9a-fA-F]{2}`)
	rtfControlWord = regexp.MustCompile(`\\[a-zA-Z]+-?\d* ?`)
	rtfBraces      = regexp.MustCompile(`[{}]`)
	rtfWhitespace  = regexp.MustCompile(`\s{2,}`)
)

// StripRTF is a best-effort RTF cleaner. Paragraph marks become newlines,
// hex escapes and control words are dropped, and runs of whitespace
// collapse to a single space.
func StripRTF(raw string) string {
	s := rtfParagraph.ReplaceAllString(raw, "\n")
	s = rtfHexEscape.ReplaceAllString(s, "")
	s = rtfControlWord.ReplaceAllString(s, "")
	s = rtfBraces.ReplaceAllString(s, "")
	s = rtfWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func extractRTF(_ context.Context, path string) (*models.ExtractionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &models.ExtractionResult{Text: StripRTF(string(data)), Method: models.ExtractionMethodRTF}, nil
}
