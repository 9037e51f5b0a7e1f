package models

import "time"

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Namespace    string    `json:"namespace"`
	CreatedAt    time.Time `json:"created_at"`
}

type Paper struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	PDFURL    string    `json:"pdf_url"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	PaperStatusIngested = "ingested"
	PaperStatusFailed   = "failed"
)

// Part is one normalized fragment of an extracted document. Text is already cleaned
// and never empty.
type Part struct {
	Text    string         `json:"text"`
	Page    int            `json:"page"`
	Type    string         `json:"type"`
	Caption string         `json:"caption,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Chunk is the persisted row for one ingested Part.
type Chunk struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	PaperID   int64     `json:"paper_id"`
	Page      int       `json:"page"`
	Type      string    `json:"type"`
	Caption   string    `json:"caption,omitempty"`
	Text      string    `json:"text"`
	Grounding int       `json:"grounding"`
	CreatedAt time.Time `json:"created_at"`
}

type SourceType string

const (
	SourcePaper     SourceType = "paper"
	SourceWeb       SourceType = "web"
	SourceKnowledge SourceType = "knowledge"
	SourceSystem    SourceType = "system"
)

type ChatTurn struct {
	ID         int64      `json:"id,omitempty"`
	UserID     int64      `json:"user_id"`
	PaperID    int64      `json:"paper_id,omitempty"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	D2Code     string     `json:"d2_code,omitempty"`
	SVGPath    string     `json:"svg_path,omitempty"`
	SourceType SourceType `json:"source_type"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ScholarPaper is a candidate returned by the paper-metadata search.
type ScholarPaper struct {
	PaperID        string         `json:"paperId"`
	Title          string         `json:"title"`
	Year           int            `json:"year,omitempty"`
	Venue          string         `json:"venue,omitempty"`
	URL            string         `json:"url,omitempty"`
	Authors        []Author       `json:"authors,omitempty"`
	ExternalIDs    map[string]any `json:"externalIds,omitempty"`
	IsOpenAccess   bool           `json:"isOpenAccess"`
	OpenAccessPDF  *OpenAccessPDF `json:"openAccessPdf,omitempty"`
	PaperLinks     []PaperLink    `json:"paperLinks,omitempty"`
	CitationCount  int            `json:"citationCount,omitempty"`
	ReferenceCount int            `json:"referenceCount,omitempty"`
}

type Author struct {
	AuthorID string `json:"authorId,omitempty"`
	Name     string `json:"name"`
}

type OpenAccessPDF struct {
	URL    string `json:"url"`
	Status string `json:"status,omitempty"`
}

type PaperLink struct {
	URL string `json:"url"`
}

type WebResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}
