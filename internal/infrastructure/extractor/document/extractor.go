// Package document extracts plain text from uploaded literature files.
package document

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
)

const (
	TypePDF      = "pdf"
	TypeDOCX     = "docx"
	TypeXLSX     = "xlsx"
	TypeMarkdown = "md"
	TypeMD       = "markdown"
	TypeText     = "txt"
)

var supported = map[string]bool{
	TypePDF:      true,
	TypeDOCX:     true,
	TypeXLSX:     true,
	TypeMarkdown: true,
	TypeMD:       true,
	TypeText:     true,
}

func FileType(filename string) string {
	return domain.FileTypeOf(filename)
}

func IsSupported(filename string) bool {
	return supported[FileType(filename)]
}

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the trimmed text of raw. Unsupported types, unreadable
// files and files without any text fail with domain.ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, filename string, raw []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fileType := FileType(filename)
	var (
		text string
		err  error
	)
	switch fileType {
	case TypePDF:
		text, err = extractPDF(raw)
	case TypeDOCX:
		text, err = extractDOCX(raw)
	case TypeXLSX:
		text, err = extractXLSX(raw)
	case TypeMarkdown, TypeMD, TypeText:
		text, err = extractText(raw)
	default:
		err = fmt.Errorf("unsupported file type %q", fileType)
	}
	if err != nil {
		return "", domain.WrapError(domain.ErrExtraction, "extract "+filepath.Base(filename), err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.WrapError(domain.ErrExtraction, "extract "+filepath.Base(filename), errors.New("no text content"))
	}
	return text, nil
}

func extractText(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(raw) {
		return "", errors.New("text file is not valid utf-8")
	}
	return string(raw), nil
}

func extractPDF(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if v := recover(); v != nil {
			text, err = "", fmt.Errorf("parse pdf: %v", v)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("copy pdf text: %w", err)
	}
	return buf.String(), nil
}

func extractDOCX(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty docx data")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", errors.New("word/document.xml not found")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	return docxText(rc)
}

// docxText keeps the text runs and turns paragraphs, breaks and tabs into
// whitespace.
func docxText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

func extractXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n", sheet)
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if strings.TrimSpace(line) == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}
