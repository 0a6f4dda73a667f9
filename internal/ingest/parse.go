// Package ingest implements the document processing pipeline: parse the
// uploaded object, split it into overlapping chunks, embed the chunks, and
// upsert them into the tenant's vector namespace.
//
// Purpose:
//   The worker consumes document.uploaded events and drives each document
//   through the status DAG (uploaded -> processing -> completed|failed),
//   emitting the terminal event when done.
//
// Dependencies:
//   - github.com/ledongthuc/pdf: PDF text extraction
//   - archive/zip + encoding/xml: DOCX extraction (OOXML is a zip of XML)
//   - github.com/segmentio/kafka-go: event consumption
//
// Key Responsibilities:
//   - Format-specific text extraction with typed failure codes
//   - Recursive chunk splitting with configurable size and overlap
//   - Bounded-concurrency worker pool with graceful drain
//
// Error Handling:
//   - Parse failures are terminal: the document is marked failed with the
//     specific error code and a document.failed event is emitted. The event
//     offset is still committed; redelivery would fail identically.
package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/faqforge/faqforge/internal/apierr"
)

// minTextLength is the smallest extracted text considered ingestable.
const minTextLength = 100

// Parse extracts plain text from a document by content type. The returned
// error is an *apierr.Error carrying the terminal failure code.
func Parse(contentType string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch contentType {
	case "application/pdf":
		text, err = parsePDF(data)
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		text, err = parseDOCX(data)
	case "text/plain", "text/markdown":
		text, err = parsePlain(data)
	default:
		return "", apierr.ErrInvalidFileType.WithDetails(map[string]any{"content_type": contentType})
	}
	if err != nil {
		return "", err
	}

	text = normalizeWhitespace(text)
	if len(text) < minTextLength {
		return "", apierr.ErrInsufficientText.WithDetails(map[string]any{
			"extracted_length": len(text),
			"minimum_length":   minTextLength,
		})
	}
	return text, nil
}

func parsePDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "encrypted") {
			return "", apierr.ErrPDFEncrypted
		}
		return "", apierr.ErrParse.WithMessage(fmt.Sprintf("read PDF: %v", err))
	}
	if reader.Trailer().Key("Encrypt").Kind() != pdf.Null {
		return "", apierr.ErrPDFEncrypted
	}

	var sb strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// One unreadable page does not doom the document.
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// docxDocument mirrors the subset of OOXML we extract: paragraphs of runs
// of text nodes.
type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []struct {
		Text []string `xml:"t"`
	} `xml:"r"`
}

func parseDOCX(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", apierr.ErrParse.WithMessage(fmt.Sprintf("open DOCX archive: %v", err))
	}

	var docXML []byte
	for _, file := range archive.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", apierr.ErrParse.WithMessage(fmt.Sprintf("open document.xml: %v", err))
		}
		docXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", apierr.ErrParse.WithMessage(fmt.Sprintf("read document.xml: %v", err))
		}
		break
	}
	if docXML == nil {
		return "", apierr.ErrParse.WithMessage("DOCX has no word/document.xml")
	}

	var doc docxDocument
	if err := xml.Unmarshal(docXML, &doc); err != nil {
		return "", apierr.ErrParse.WithMessage(fmt.Sprintf("parse document.xml: %v", err))
	}

	var sb strings.Builder
	for _, para := range doc.Body.Paragraphs {
		for _, run := range para.Runs {
			for _, t := range run.Text {
				sb.WriteString(t)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func parsePlain(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", apierr.ErrParse.WithMessage("text file is not valid UTF-8")
	}
	return string(data), nil
}

// normalizeWhitespace collapses runs of blank lines and trims the result,
// keeping paragraph boundaries intact for the chunker.
func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

// IsTerminalParseError reports whether err carries a terminal ingestion
// failure code rather than a transient infrastructure problem.
func IsTerminalParseError(err error) bool {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case apierr.ErrPDFEncrypted.Code,
		apierr.ErrInsufficientText.Code,
		apierr.ErrParse.Code,
		apierr.ErrInvalidFileType.Code,
		apierr.ErrDimensionMismatch.Code:
		return true
	}
	return false
}
