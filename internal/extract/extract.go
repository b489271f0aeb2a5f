// Package extract turns uploaded documents into plain text for summarization.
package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
)

// Text returns best-effort plain text for content. It tries, in order: PDF
// text extraction, UTF-8, and ISO-8859-1. It never fails; an empty string
// means nothing could be derived.
func Text(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	if text := pdfText(content); strings.TrimSpace(text) != "" {
		return text
	}
	if utf8.Valid(content) {
		return string(content)
	}
	return latin1(content)
}

// pdfText joins page texts with newlines. Malformed input yields "".
func pdfText(content []byte) (text string) {
	// The parser panics on some corrupt xref tables.
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return ""
	}
	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			pageText = ""
		}
		pages = append(pages, pageText)
	}
	return strings.Join(pages, "\n")
}

func latin1(content []byte) string {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(content)
	if err != nil {
		// Drop whatever does not decode rather than failing.
		return strings.ToValidUTF8(string(content), "")
	}
	return string(out)
}
