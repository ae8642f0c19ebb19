package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// LetterSignatory is one signature block entry on a summon letter.
type LetterSignatory struct {
	Role    string
	Name    string
	IDLabel string
}

// LetterDocument carries the rendered content of one summon letter. All
// fields are display-ready strings; the caller owns formatting.
type LetterDocument struct {
	SchoolName   string
	LetterNumber string
	LetterLevel  int
	City         string
	LetterDate   string
	StudentName  string
	StudentNIS   string
	ClassName    string
	Trigger      string
	Sanction     string
	MeetingDate  string
	MeetingTime  string
	Purpose      string
	Signatories  []LetterSignatory
}

// LetterExporter renders summon letters as PDF documents.
type LetterExporter struct{}

// NewLetterExporter constructs a summon letter exporter.
func NewLetterExporter() *LetterExporter {
	return &LetterExporter{}
}

// Render produces the PDF bytes for one summon letter.
func (e *LetterExporter) Render(doc LetterDocument) ([]byte, error) {
	if doc.LetterNumber == "" {
		return nil, fmt.Errorf("letter requires a letter number")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 8, doc.SchoolName, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, fmt.Sprintf("SURAT PANGGILAN ORANG TUA/WALI KE-%d", doc.LetterLevel), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Nomor: %s", doc.LetterNumber), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 11)
	pdf.MultiCell(0, 6, "Dengan hormat, sehubungan dengan pelanggaran tata tertib sekolah yang dilakukan oleh:", "", "L", false)
	pdf.Ln(2)

	identity := [][2]string{
		{"Nama", doc.StudentName},
		{"NIS", doc.StudentNIS},
		{"Kelas", doc.ClassName},
		{"Pelanggaran", doc.Trigger},
		{"Sanksi", doc.Sanction},
	}
	for _, row := range identity {
		pdf.CellFormat(40, 6, row[0], "", 0, "", false, 0, "")
		pdf.CellFormat(5, 6, ":", "", 0, "", false, 0, "")
		pdf.MultiCell(0, 6, row[1], "", "L", false)
	}
	pdf.Ln(2)

	pdf.MultiCell(0, 6, "kami mengundang Bapak/Ibu orang tua/wali untuk hadir pada:", "", "L", false)
	pdf.Ln(2)
	meeting := [][2]string{
		{"Hari/Tanggal", doc.MeetingDate},
		{"Pukul", doc.MeetingTime},
		{"Keperluan", doc.Purpose},
	}
	for _, row := range meeting {
		pdf.CellFormat(40, 6, row[0], "", 0, "", false, 0, "")
		pdf.CellFormat(5, 6, ":", "", 0, "", false, 0, "")
		pdf.MultiCell(0, 6, row[1], "", "L", false)
	}
	pdf.Ln(4)

	pdf.MultiCell(0, 6, "Demikian surat panggilan ini kami sampaikan. Atas perhatian dan kehadiran Bapak/Ibu kami ucapkan terima kasih.", "", "L", false)
	pdf.Ln(8)

	pdf.CellFormat(0, 6, fmt.Sprintf("%s, %s", doc.City, doc.LetterDate), "", 1, "R", false, 0, "")
	pdf.Ln(10)

	for _, sig := range doc.Signatories {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 5, sig.Role, "", 1, "L", false, 0, "")
		pdf.Ln(16)
		pdf.SetFont("Arial", "BU", 10)
		pdf.CellFormat(0, 5, sig.Name, "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 5, sig.IDLabel, "", 1, "L", false, 0, "")
		pdf.Ln(4)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render letter pdf: %w", err)
	}
	return buf.Bytes(), nil
}
