// Package export renders a submission conversation as a PDF.
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/unicode/norm"
)

const (
	noLecturerSummary = "No lecturer summary available."
	noStudentSummary  = "No student summary available."
	noContent         = "(No content)"
	unavailable       = "(Content unavailable)"
	timestampLayout   = "02 Jan 2006 15:04"
)

// Entry is one transcript line.
type Entry struct {
	Role      string // "student", "assistant" or "lecturer"
	Content   string
	Timestamp time.Time
}

// Transcript is everything a conversation export shows.
type Transcript struct {
	AssignmentTitle string
	LecturerSummary string
	LecturerModel   string
	StudentSummary  string
	StudentModel    string
	Messages        []Entry
}

// Exporter builds PDF documents.
type Exporter struct {
	Compress bool
}

func NewExporter(compress bool) *Exporter {
	return &Exporter{Compress: compress}
}

// Build renders t: a title heading, both summary sections and the
// conversation, in that order.
func (e *Exporter) Build(t Transcript) ([]byte, error) {
	title := "DiaLoque Session · " + t.AssignmentTitle

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(e.Compress)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetTitle(Sanitize(title), true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	w := &writer{pdf: pdf, tr: tr}
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, w.text(title), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	w.heading("Lecturer Summary")
	w.paragraph(summaryText(t.LecturerSummary, t.LecturerModel, noLecturerSummary))
	w.heading("Student Summary")
	w.paragraph(summaryText(t.StudentSummary, t.StudentModel, noStudentSummary))

	w.heading("Conversation")
	for _, m := range t.Messages {
		w.entry(m)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type writer struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (w *writer) text(s string) string {
	return w.tr(Sanitize(s))
}

func (w *writer) heading(s string) {
	w.pdf.SetFont("Helvetica", "B", 13)
	w.pdf.CellFormat(0, 9, w.text(s), "", 1, "L", false, 0, "")
	w.pdf.Ln(1)
}

func (w *writer) paragraph(s string) {
	w.pdf.SetFont("Helvetica", "", 11)
	w.pdf.MultiCell(0, 6, w.text(s), "", "L", false)
	w.pdf.Ln(2)
}

func (w *writer) entry(m Entry) {
	speaker := Speaker(m.Role)
	header := speaker
	if !m.Timestamp.IsZero() {
		header += " · " + m.Timestamp.Format(timestampLayout)
	}
	if strings.TrimSpace(Sanitize(header)) == "" {
		header = speaker
	}
	w.pdf.SetFont("Helvetica", "B", 11)
	w.pdf.MultiCell(0, 6, w.text(header), "", "L", false)

	content := strings.TrimSpace(m.Content)
	if content == "" {
		content = noContent
	}
	if strings.TrimSpace(Sanitize(content)) == "" {
		content = unavailable
	}
	w.pdf.SetFont("Helvetica", "", 11)
	w.pdf.MultiCell(0, 6, w.text(content), "", "L", false)
	w.pdf.Ln(2)
}

// Speaker is the label a role is printed under.
func Speaker(role string) string {
	switch role {
	case "assistant":
		return "DiaLoque"
	case "lecturer":
		return "Lecturer"
	default:
		return "Student"
	}
}

func summaryText(summary, model, placeholder string) string {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return placeholder
	}
	if model != "" {
		summary += "\n\n(Model: " + model + ")"
	}
	return summary
}

// Sanitize decomposes s (NFKD) and drops every rune the PDF core fonts
// cannot show: anything outside Latin-1 and control characters other than
// newline and tab.
func Sanitize(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if r > unicode.MaxLatin1 {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
