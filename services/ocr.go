package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"learning-coach-platform/internal/config"
	"learning-coach-platform/internal/logger"
	"learning-coach-platform/models"
)

// OCREngine recognizes the text in one image file.
type OCREngine interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// healthChecker is implemented by engines that can report readiness
// before a multi-page batch.
type healthChecker interface {
	IsHealthy(ctx context.Context) (bool, error)
}

// PageRasterizer renders the first pages of a PDF to image files inside
// outDir and returns them in page order.
type PageRasterizer interface {
	Rasterize(ctx context.Context, pdfPath, outDir string, pages, dpi int) ([]string, error)
}

// OCRService runs an OCR engine over images and rasterized PDF pages.
type OCRService struct {
	engine     OCREngine
	rasterizer PageRasterizer
	maxPages   int
	dpi        int
}

func NewOCRService(engine OCREngine, rasterizer PageRasterizer, maxPages, dpi int) *OCRService {
	if maxPages <= 0 {
		maxPages = 5
	}
	if dpi <= 0 {
		dpi = 150
	}
	return &OCRService{engine: engine, rasterizer: rasterizer, maxPages: maxPages, dpi: dpi}
}

// NewOCRServiceFromConfig selects the engine named by OCR_ENGINE.
func NewOCRServiceFromConfig(cfg *config.Config) *OCRService {
	var engine OCREngine
	switch cfg.OCREngine {
	case "service":
		engine = NewServiceEngine(cfg.OCRServiceURL, cfg.OCRTimeout)
	default:
		engine = &TesseractEngine{Lang: cfg.OCRLang}
	}
	return NewOCRService(engine, &PopplerRasterizer{}, cfg.OCRMaxPages, cfg.OCRDPI)
}

func (s *OCRService) RecognizeImage(ctx context.Context, path string) (string, error) {
	text, err := s.engine.Recognize(ctx, path)
	if err != nil {
		return "", fmt.Errorf("OCR failed for %s: %w", filepath.Base(path), err)
	}
	return text, nil
}

// RecognizePDF OCRs at most min(pageCount, maxPages) pages, or maxPages
// when the page count is unknown. The scratch directory is always removed.
func (s *OCRService) RecognizePDF(ctx context.Context, path string, pageCount int) ([]string, error) {
	if s.rasterizer == nil {
		return nil, fmt.Errorf("no PDF rasterizer configured")
	}

	if hc, ok := s.engine.(healthChecker); ok {
		healthy, err := hc.IsHealthy(ctx)
		if err != nil {
			return nil, fmt.Errorf("OCR service health check failed: %w", err)
		}
		if !healthy {
			return nil, fmt.Errorf("OCR service is not healthy")
		}
	}

	pages := s.maxPages
	if pageCount > 0 && pageCount < pages {
		pages = pageCount
	}

	dir, err := os.MkdirTemp("", "lc-ocr-")
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("Failed to remove OCR scratch dir", "dir", dir, "error", err)
		}
	}()

	images, err := s.rasterizer.Rasterize(ctx, path, dir, pages, s.dpi)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize PDF: %w", err)
	}

	texts := make([]string, 0, len(images))
	for i, img := range images {
		text, err := s.engine.Recognize(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("OCR failed on page %d: %w", i+1, err)
		}
		texts = append(texts, strings.TrimSpace(text))
	}

	logger.Info("PDF OCR completed", "path", path, "pages", len(texts))
	return texts, nil
}

// TesseractEngine shells out to the tesseract CLI.
type TesseractEngine struct {
	Lang string
}

func (t *TesseractEngine) Recognize(ctx context.Context, imagePath string) (string, error) {
	if !hasBinary("tesseract") {
		return "", fmt.Errorf("tesseract not available")
	}
	lang := t.Lang
	if lang == "" {
		lang = "eng"
	}

	cmd := exec.CommandContext(ctx, "tesseract", imagePath, "stdout", "-l", lang)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %v, stderr: %s", err, stderr.String())
	}
	return stdout.String(), nil
}

// PopplerRasterizer renders pages with pdftoppm.
type PopplerRasterizer struct{}

func (PopplerRasterizer) Rasterize(ctx context.Context, pdfPath, outDir string, pages, dpi int) ([]string, error) {
	if !hasBinary("pdftoppm") {
		return nil, fmt.Errorf("pdftoppm not available")
	}

	prefix := filepath.Join(outDir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", "1",
		"-l", strconv.Itoa(pages),
		pdfPath, prefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %v, stderr: %s", err, stderr.String())
	}

	// pdftoppm zero-pads page numbers to equal width, so names sort in page order
	images, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	sort.Strings(images)
	if len(images) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no pages")
	}
	return images, nil
}

// ServiceEngine posts images to an external OCR service.
type ServiceEngine struct {
	httpClient *http.Client
	baseURL    string
}

// ocrServiceResponse is the reply of POST /ocr/extract.
type ocrServiceResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Pages   int    `json:"pages"`
	Method  string `json:"method"`
	Error   string `json:"error,omitempty"`
}

type ocrHealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

func NewServiceEngine(baseURL string, timeout time.Duration) *ServiceEngine {
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute // OCR can take time
	}
	return &ServiceEngine{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// IsHealthy checks if the OCR service is healthy
func (c *ServiceEngine) IsHealthy(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("OCR service unhealthy: status %d", resp.StatusCode)
	}

	var health ocrHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, fmt.Errorf("failed to decode health response: %w", err)
	}
	return health.Status == "healthy" && health.ModelLoaded, nil
}

// Recognize posts one image. Service failures surface through the status
// code; callers that send a batch check IsHealthy once beforehand.
func (c *ServiceEngine) Recognize(ctx context.Context, imagePath string) (string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to copy file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr/extract", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &models.UpstreamError{Service: "ocr", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out ocrServiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode OCR response: %w", err)
	}
	if !out.Success {
		return "", fmt.Errorf("OCR processing failed: %s", out.Error)
	}
	return out.Text, nil
}
