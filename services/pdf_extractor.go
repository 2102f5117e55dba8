package services

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"learning-coach-platform/internal/logger"
	"learning-coach-platform/models"
)

// PDFTextReader reads the embedded text layer of a PDF, one string per page.
type PDFTextReader interface {
	ReadPages(ctx context.Context, path string) (pages []string, method string, err error)
}

// layeredPDFReader tries the pure-Go reader first and pdftotext second,
// keeping whichever yields more text.
type layeredPDFReader struct {
	popplerTimeout time.Duration
}

// NewPDFTextReader returns the default text-layer reader.
func NewPDFTextReader() PDFTextReader {
	return &layeredPDFReader{popplerTimeout: 30 * time.Second}
}

func (r *layeredPDFReader) ReadPages(ctx context.Context, path string) ([]string, string, error) {
	pages, goErr := readWithGoPDF(path)
	if goErr == nil && len(strings.TrimSpace(strings.Join(pages, ""))) > 0 {
		return pages, models.ExtractionMethodGoPDF, nil
	}
	if goErr != nil {
		logger.Debug("go-pdf extraction failed", "path", path, "error", goErr)
	}

	if !hasBinary("pdftotext") {
		if goErr != nil {
			return nil, "", goErr
		}
		return pages, models.ExtractionMethodGoPDF, nil
	}

	popplerPages, err := r.readWithPoppler(ctx, path)
	if err != nil {
		logger.Debug("pdftotext extraction failed", "path", path, "error", err)
		if goErr != nil {
			return nil, "", fmt.Errorf("go-pdf: %v; pdftotext: %w", goErr, err)
		}
		return pages, models.ExtractionMethodGoPDF, nil
	}
	return popplerPages, models.ExtractionMethodPoppler, nil
}

func readWithGoPDF(path string) (pages []string, err error) {
	// ledongthuc/pdf panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("pdf reader panicked: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	n := reader.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			logger.Debug("Failed to extract PDF page", "page", i, "error", err)
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// readWithPoppler runs pdftotext; pages come back separated by form feeds.
func (r *layeredPDFReader) readWithPoppler(ctx context.Context, path string) ([]string, error) {
	extractCtx, cancel := context.WithTimeout(ctx, r.popplerTimeout)
	defer cancel()

	cmd := exec.CommandContext(extractCtx, "pdftotext", "-layout", path, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftotext failed: %v, stderr: %s", err, stderr.String())
	}

	pages := strings.Split(stdout.String(), "\f")
	// pdftotext terminates the last page with a form feed too
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages, nil
}

// PDFExtractor reads a PDF's text layer and falls back to OCR when the
// layer is too thin to be useful, as with scanned documents.
type PDFExtractor struct {
	reader        PDFTextReader
	ocr           *OCRService
	minTextLength int
}

func NewPDFExtractor(reader PDFTextReader, ocr *OCRService, minTextLength int) *PDFExtractor {
	return &PDFExtractor{reader: reader, ocr: ocr, minTextLength: minTextLength}
}

func (e *PDFExtractor) Extract(ctx context.Context, path string) (*models.ExtractionResult, error) {
	pages, method, err := e.reader.ReadPages(ctx, path)
	if err != nil {
		logger.Warn("PDF text layer unreadable, trying OCR", "path", path, "error", err)
	}

	text := strings.Join(pages, "\n\n")
	if err == nil && len([]rune(strings.TrimSpace(text))) >= e.minTextLength {
		return &models.ExtractionResult{Text: text, Method: method, PageStarts: pageStarts(pages)}, nil
	}

	if e.ocr == nil {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("PDF has only %d characters of text and OCR is not configured", len(strings.TrimSpace(text)))
	}

	logger.Info("PDF text layer below threshold, running OCR",
		"path", path,
		"chars", len(strings.TrimSpace(text)),
		"pages", len(pages),
	)
	ocrPages, ocrErr := e.ocr.RecognizePDF(ctx, path, len(pages))
	if ocrErr != nil {
		return nil, ocrErr
	}
	return &models.ExtractionResult{
		Text:       strings.Join(ocrPages, "\n\n"),
		Method:     models.ExtractionMethodOCR,
		PageStarts: pageStarts(ocrPages),
	}, nil
}

// hasBinary checks if a binary executable exists in PATH
func hasBinary(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
