package devserver

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/yuin/goldmark"

	"github.com/nmalhotra/docwatch/pkg/models"
)

const modelName = "ibm-granite/granite-docling-258M"

// convert produces the full result document for an uploaded file. Text-like
// inputs pass through as markdown; binary inputs get a synthesized document
// skeleton. The HTML rendition always comes from the markdown via goldmark.
func convert(job *Job, data []byte, started time.Time) (*models.ResultDocument, error) {
	ext := strings.ToLower(filepath.Ext(job.Filename))
	mtype := mimetype.Detect(data)

	pages := 1
	if ext == ".pdf" {
		if n, err := pdfapi.PageCount(bytes.NewReader(data), nil); err == nil {
			pages = n
		}
	}

	markdown := toMarkdown(job.Filename, ext, data)

	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &htmlBuf); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}

	elements := countElements(markdown)

	structured := map[string]any{
		"document": map[string]any{
			"filename": job.Filename,
			"pages":    pages,
			"elements": elements,
		},
		"content_type": mtype.String(),
	}

	return &models.ResultDocument{
		JobID:            job.ID,
		OriginalFilename: job.Filename,
		Content: models.ProcessedContent{
			Markdown: markdown,
			HTML:     htmlBuf.String(),
			JSON:     structured,
		},
		Metadata: models.DocumentMetadata{
			Pages:            pages,
			ProcessingTime:   time.Since(started).Seconds(),
			ElementsDetected: elements,
			ModelUsed:        modelName,
			FileSize:         job.FileSize,
			FileType:         ext,
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

func toMarkdown(filename, ext string, data []byte) string {
	base := strings.TrimSuffix(filepath.Base(filename), ext)

	if ext == ".html" && utf8.Valid(data) {
		return fmt.Sprintf("# %s\n\n%s\n", base, stripTags(string(data)))
	}

	// Binary formats get a deterministic skeleton so downstream tooling has
	// stable content to work with.
	return fmt.Sprintf("# %s\n\nConverted from %s (%d bytes).\n", base, ext, len(data))
}

// stripTags removes HTML tags, leaving the text content.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// countElements approximates the number of structural elements in the
// markdown rendition: one per non-empty line.
func countElements(markdown string) int {
	n := 0
	for _, line := range strings.Split(markdown, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
