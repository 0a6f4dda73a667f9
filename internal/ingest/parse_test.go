package ingest

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/faqforge/faqforge/internal/apierr"
)

func TestParsePlainText(t *testing.T) {
	text := strings.Repeat("Employees accrue vacation monthly. ", 10)
	got, err := Parse("text/plain", []byte(text))
	require.NoError(t, err)
	require.Contains(t, got, "vacation")
}

func TestParseMarkdown(t *testing.T) {
	text := "# Handbook\n\n" + strings.Repeat("Remote work policy applies to all staff. ", 5)
	got, err := Parse("text/markdown", []byte(text))
	require.NoError(t, err)
	require.Contains(t, got, "Remote work")
}

func TestParseRejectsShortText(t *testing.T) {
	_, err := Parse("text/plain", []byte("too short"))
	require.True(t, apierr.Is(err, apierr.ErrInsufficientText.Code))
	require.True(t, IsTerminalParseError(err))
}

func TestParseRejectsInvalidUTF8(t *testing.T) {
	_, err := Parse("text/plain", []byte{0xff, 0xfe, 0xfd})
	require.True(t, apierr.Is(err, apierr.ErrParse.Code))
}

func TestParseRejectsUnsupportedType(t *testing.T) {
	_, err := Parse("image/png", []byte("data"))
	require.True(t, apierr.Is(err, apierr.ErrInvalidFileType.Code))
}

func TestParseDOCX(t *testing.T) {
	paragraphs := []string{
		strings.Repeat("The support team answers tickets within one business day. ", 3),
		"Escalations go to the on-call engineer.",
	}
	data := buildDOCX(t, paragraphs)

	got, err := Parse("application/vnd.openxmlformats-officedocument.wordprocessingml.document", data)
	require.NoError(t, err)
	require.Contains(t, got, "one business day")
	require.Contains(t, got, "on-call engineer")
}

func TestParseDOCXWithoutDocumentXML(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/other.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte("<x/>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Parse("application/vnd.openxmlformats-officedocument.wordprocessingml.document", buf.Bytes())
	require.True(t, apierr.Is(err, apierr.ErrParse.Code))
}

func TestParseCorruptPDF(t *testing.T) {
	_, err := Parse("application/pdf", []byte("definitely not a pdf"))
	require.Error(t, err)
	require.True(t, IsTerminalParseError(err))
}

func buildDOCX(t *testing.T, paragraphs []string) []byte {
	t.Helper()
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		sb.WriteString(`<w:p><w:r><w:t>`)
		sb.WriteString(p)
		sb.WriteString(`</w:t></w:r></w:p>`)
	}
	sb.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(sb.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
