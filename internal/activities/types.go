package activities

import "researchmcp/internal/models"

type ResolvePDFInput struct {
	S2PaperID string `json:"s2_paper_id,omitempty"`
	Title     string `json:"title,omitempty"`
	PDFURL    string `json:"pdf_url,omitempty"`
}

type ResolvePDFOutput struct {
	PDFURL string `json:"pdf_url"`
	Title  string `json:"title"`
	Found  bool   `json:"found"`
}

type CreatePaperInput struct {
	UserID int64  `json:"user_id"`
	Title  string `json:"title"`
	PDFURL string `json:"pdf_url"`
}

type CreatePaperOutput struct {
	Paper models.Paper `json:"paper"`
}

// ExtractPartsInput names the document by URL or carries its bytes.
type ExtractPartsInput struct {
	PDFURL   string `json:"pdf_url,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type ExtractPartsOutput struct {
	Parts []models.Part `json:"parts"`
}

type IndexPartsInput struct {
	UserID  int64         `json:"user_id"`
	PaperID int64         `json:"paper_id"`
	Title   string        `json:"title"`
	Parts   []models.Part `json:"parts"`
}

type IndexPartsOutput struct {
	NumParts   int `json:"num_parts"`
	NumVectors int `json:"num_vectors"`
}

type UpdatePaperStatusInput struct {
	UserID     int64  `json:"user_id"`
	PaperID    int64  `json:"paper_id"`
	Status     string `json:"status"`
	FailReason string `json:"fail_reason,omitempty"`
}
