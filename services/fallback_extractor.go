package services

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html/charset"

	"learning-coach-platform/internal/logger"
	"learning-coach-platform/models"
)

// minPrintableRun is the shortest run of printable characters kept when
// scraping text out of a binary file.
const minPrintableRun = 4

// FallbackExtractor handles anything without a dedicated route. Content
// sniffed as text is decoded to UTF-8; binaries yield their printable runs.
type FallbackExtractor struct{}

func (e *FallbackExtractor) Extract(_ context.Context, path string) (*models.ExtractionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	mt := mimetype.Detect(data)
	logger.Debug("Fallback extraction", "path", path, "detected_mime", mt.String())

	var text string
	if isTextual(mt) {
		text = decodeText(data, mt.String())
	} else {
		text = printableRuns(data, minPrintableRun)
	}
	return &models.ExtractionResult{Text: text, Method: models.ExtractionMethodFallback}, nil
}

func isTextual(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// decodeText returns data as UTF-8. Valid UTF-8 is passed through verbatim;
// anything else is decoded using the charset named in contentType or
// sniffed from the bytes.
func decodeText(data []byte, contentType string) string {
	if utf8.Valid(data) {
		return string(data)
	}
	r, err := charset.NewReader(bytes.NewReader(data), contentType)
	if err != nil {
		return strings.ToValidUTF8(string(data), "")
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return strings.ToValidUTF8(string(data), "")
	}
	return string(decoded)
}

// printableRuns collects runs of at least minLen printable characters, one
// run per line, like strings(1).
func printableRuns(data []byte, minLen int) string {
	var out []string
	var run []rune
	flush := func() {
		if s := strings.TrimSpace(string(run)); len(run) >= minLen && s != "" {
			out = append(out, s)
		}
		run = run[:0]
	}

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		data = data[size:]
		if r != utf8.RuneError && (unicode.IsPrint(r) || r == '\t') {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()
	return strings.Join(out, "\n")
}
