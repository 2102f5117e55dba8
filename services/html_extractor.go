package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"learning-coach-platform/models"
)

const htmlBlockElements = "p, div, br, li, tr, h1, h2, h3, h4, h5, h6, section, article, blockquote, pre, table, ul, ol, hr"

// extractHTML converts markup to text without wrapping: scripts and styles
// are dropped, block elements end a line, and blank lines collapse.
func extractHTML(_ context.Context, path string) (*models.ExtractionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	utf8Reader, err := charset.NewReader(bytes.NewReader(data), "text/html")
	if err != nil {
		return nil, fmt.Errorf("failed to detect charset: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(utf8Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript, template, head").Remove()
	doc.Find(htmlBlockElements).Each(func(_ int, s *goquery.Selection) {
		s.AfterHtml("\n")
	})

	return &models.ExtractionResult{Text: collapseLines(doc.Text()), Method: models.ExtractionMethodHTML}, nil
}

// collapseLines trims every line, squeezes inner whitespace and drops
// empty lines.
func collapseLines(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
