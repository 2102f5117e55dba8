package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"learning-coach-platform/internal/logger"
	"learning-coach-platform/models"
)

func extractDOCX(_ context.Context, path string) (*models.ExtractionResult, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("not a valid docx archive: %w", err)
	}
	defer reader.Close()

	content, err := readZipEntry(&reader.Reader, "word/document.xml")
	if err != nil {
		return nil, err
	}

	text, err := wordParagraphText(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document.xml: %w", err)
	}
	return &models.ExtractionResult{Text: text, Method: models.ExtractionMethodDOCX}, nil
}

// wordParagraphText walks document.xml and emits one line per w:p, wherever
// the paragraph sits (tables, hyperlinks, content controls, text boxes).
// Tabs and breaks inside a run become whitespace.
func wordParagraphText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var lines []string
	var line strings.Builder
	inRun, inText := false, false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "r":
				inRun = true
			case "t":
				inText = true
			case "tab":
				// w:tab under w:pPr is a tab stop, not a character
				if inRun {
					line.WriteString("\t")
				}
			case "br", "cr":
				if inRun {
					line.WriteString("\n")
				}
			}
		case xml.CharData:
			if inText {
				line.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				inRun = false
			case "t":
				inText = false
			case "p":
				lines = append(lines, strings.TrimRight(line.String(), " \t"))
				line.Reset()
			}
		}
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

func readZipEntry(r *zip.Reader, name string) ([]byte, error) {
	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

// LegacyOfficeExtractor handles .doc, .ppt and .pptx. PPTX slides are read
// from the archive directly; the binary formats go through antiword or
// catppt when installed and otherwise through the generic fallback.
type LegacyOfficeExtractor struct {
	fallback formatExtractor
}

func (e *LegacyOfficeExtractor) Extract(ctx context.Context, path string) (*models.ExtractionResult, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pptx":
		result, err := extractPPTX(path)
		if err == nil {
			return result, nil
		}
		logger.Debug("pptx extraction failed, using fallback", "path", path, "error", err)
	case ".doc":
		if text, err := runTextTool(ctx, "antiword", path); err == nil {
			return &models.ExtractionResult{Text: text, Method: models.ExtractionMethodLegacy}, nil
		}
	case ".ppt":
		if text, err := runTextTool(ctx, "catppt", path); err == nil {
			return &models.ExtractionResult{Text: text, Method: models.ExtractionMethodLegacy}, nil
		}
	}
	return e.fallback.Extract(ctx, path)
}

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractPPTX concatenates the a:t runs of every slide in slide order.
func extractPPTX(path string) (*models.ExtractionResult, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("not a valid pptx archive: %w", err)
	}
	defer reader.Close()

	type slide struct {
		n    int
		file *zip.File
	}
	var slides []slide
	for _, f := range reader.File {
		if m := slideName.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n: n, file: f})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	parts := make([]string, 0, len(slides))
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, err
		}
		text, err := xmlRunText(rc, "t")
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", s.n, err)
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return &models.ExtractionResult{Text: strings.Join(parts, "\n\n"), Method: models.ExtractionMethodLegacy}, nil
}

// xmlRunText joins the character data of every element named local,
// one element per line.
func xmlRunText(r io.Reader, local string) (string, error) {
	dec := xml.NewDecoder(r)
	var lines []string
	inside := false
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == local {
				inside = true
				sb.Reset()
			}
		case xml.CharData:
			if inside {
				sb.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == local && inside {
				inside = false
				if s := strings.TrimSpace(sb.String()); s != "" {
					lines = append(lines, s)
				}
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

func runTextTool(ctx context.Context, tool, path string) (string, error) {
	if !hasBinary(tool) {
		return "", fmt.Errorf("%s not available", tool)
	}
	cmd := exec.CommandContext(ctx, tool, path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %v, stderr: %s", tool, err, stderr.String())
	}
	return stdout.String(), nil
}
