package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"learning-coach-platform/internal/logger"
	"learning-coach-platform/models"
)

// FormatKind is the extraction route chosen for a file.
type FormatKind int

const (
	FormatFallback FormatKind = iota
	FormatPDF
	FormatDOCX
	FormatLegacyOffice
	FormatSpreadsheet
	FormatPlainText
	FormatHTML
	FormatRTF
	FormatImage
)

func (k FormatKind) String() string {
	switch k {
	case FormatPDF:
		return "pdf"
	case FormatDOCX:
		return "docx"
	case FormatLegacyOffice:
		return "legacy-office"
	case FormatSpreadsheet:
		return "spreadsheet"
	case FormatPlainText:
		return "plain-text"
	case FormatHTML:
		return "html"
	case FormatRTF:
		return "rtf"
	case FormatImage:
		return "image"
	default:
		return "fallback"
	}
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
	".tiff": true, ".tif": true, ".webp": true,
}

// ClassifyFormat picks the extraction route from the declared MIME type and
// the file extension. The first matching rule wins.
func ClassifyFormat(mimeType, path string) FormatKind {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	ext := strings.ToLower(filepath.Ext(path))

	switch {
	case strings.Contains(mt, "pdf") || ext == ".pdf":
		return FormatPDF
	// .doc also reports a "word" MIME type but is not a zip container
	case ext == ".doc" || ext == ".ppt" || ext == ".pptx" ||
		mt == "application/msword" || strings.Contains(mt, "powerpoint") || strings.Contains(mt, "presentationml"):
		return FormatLegacyOffice
	case strings.Contains(mt, "word") || ext == ".docx":
		return FormatDOCX
	case ext == ".xlsx" || ext == ".xls" || strings.Contains(mt, "spreadsheetml") || mt == "application/vnd.ms-excel":
		return FormatSpreadsheet
	case ext == ".md" || ext == ".markdown" || ext == ".txt" || ext == ".csv" ||
		mt == "text/plain" || mt == "text/markdown" || mt == "text/csv":
		return FormatPlainText
	case ext == ".html" || ext == ".htm" || mt == "text/html":
		return FormatHTML
	case ext == ".rtf" || mt == "application/rtf" || mt == "text/rtf":
		return FormatRTF
	case strings.HasPrefix(mt, "image/") || imageExtensions[ext]:
		return FormatImage
	default:
		return FormatFallback
	}
}

// formatExtractor pulls text out of one family of formats.
type formatExtractor interface {
	Extract(ctx context.Context, path string) (*models.ExtractionResult, error)
}

type extractorFunc func(ctx context.Context, path string) (*models.ExtractionResult, error)

func (f extractorFunc) Extract(ctx context.Context, path string) (*models.ExtractionResult, error) {
	return f(ctx, path)
}

// ExtractorOptions tunes the text extractor.
type ExtractorOptions struct {
	// MinTextLength is the trimmed character count below which a PDF text
	// layer is treated as missing and the pages are OCRed.
	MinTextLength int
	// PDFReader overrides the PDF text-layer reader.
	PDFReader PDFTextReader
}

// TextExtractor turns a stored file into plain text, routing by format.
type TextExtractor struct {
	routes   map[FormatKind]formatExtractor
	fallback formatExtractor
}

// NewTextExtractor wires every format route. ocr may be nil, in which case
// images and scanned PDFs fail extraction.
func NewTextExtractor(ocr *OCRService, opts ExtractorOptions) *TextExtractor {
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = 50
	}
	if opts.PDFReader == nil {
		opts.PDFReader = NewPDFTextReader()
	}

	fallback := &FallbackExtractor{}
	return &TextExtractor{
		routes: map[FormatKind]formatExtractor{
			FormatPDF:          NewPDFExtractor(opts.PDFReader, ocr, opts.MinTextLength),
			FormatDOCX:         extractorFunc(extractDOCX),
			FormatLegacyOffice: &LegacyOfficeExtractor{fallback: fallback},
			FormatSpreadsheet:  &SpreadsheetExtractor{fallback: fallback},
			FormatPlainText:    extractorFunc(extractPlainText),
			FormatHTML:         extractorFunc(extractHTML),
			FormatRTF:          extractorFunc(extractRTF),
			FormatImage:        extractorFunc(func(ctx context.Context, path string) (*models.ExtractionResult, error) { return extractImage(ctx, ocr, path) }),
		},
		fallback: fallback,
	}
}

// Extract returns the file's text. Empty or whitespace-only output, a
// missing file, and panics inside format libraries all surface as
// *models.ExtractionError.
func (e *TextExtractor) Extract(ctx context.Context, path, mimeType string) (result *models.ExtractionResult, err error) {
	if _, statErr := os.Stat(path); statErr != nil {
		return nil, &models.ExtractionError{Path: path, Reason: "file is not readable", Err: statErr}
	}

	kind := ClassifyFormat(mimeType, path)
	route, ok := e.routes[kind]
	if !ok {
		route = e.fallback
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &models.ExtractionError{Path: path, Reason: kind.String() + " parser panicked", Err: fmt.Errorf("%v", r)}
		}
	}()

	start := time.Now()
	result, err = route.Extract(ctx, path)
	if err != nil {
		var extractionErr *models.ExtractionError
		if errors.As(err, &extractionErr) {
			return nil, err
		}
		return nil, &models.ExtractionError{Path: path, Reason: kind.String() + " extraction failed", Err: err}
	}
	if result == nil || strings.TrimSpace(result.Text) == "" {
		return nil, &models.ExtractionError{Path: path, Reason: "no text could be extracted"}
	}

	logger.Debug("Text extracted",
		"path", path,
		"format", kind.String(),
		"method", result.Method,
		"chars", len(result.Text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func extractPlainText(_ context.Context, path string) (*models.ExtractionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &models.ExtractionResult{Text: decodeText(data, ""), Method: models.ExtractionMethodPlainText}, nil
}

func extractImage(ctx context.Context, ocr *OCRService, path string) (*models.ExtractionResult, error) {
	if ocr == nil {
		return nil, fmt.Errorf("OCR is not configured")
	}
	text, err := ocr.RecognizeImage(ctx, path)
	if err != nil {
		return nil, err
	}
	return &models.ExtractionResult{Text: text, Method: models.ExtractionMethodOCR}, nil
}

// pageStarts returns the word offset of each page in strings.Join(pages, sep).
func pageStarts(pages []string) []int {
	starts := make([]int, len(pages))
	words := 0
	for i, p := range pages {
		starts[i] = words
		words += len(strings.Fields(p))
	}
	return starts
}
