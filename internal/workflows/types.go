package workflows

type PaperIngestInput struct {
	UserID    int64  `json:"user_id"`
	Title     string `json:"title,omitempty"`
	PDFURL    string `json:"pdf_url,omitempty"`
	S2PaperID string `json:"s2_paper_id,omitempty"`
}

// PaperIngestStatus is both the query result and the workflow result.
type PaperIngestStatus struct {
	PaperID     int64             `json:"paper_id,omitempty"`
	Title       string            `json:"title,omitempty"`
	PDFURL      string            `json:"pdf_url,omitempty"`
	CurrentStep string            `json:"current_step"`
	Status      string            `json:"status"`
	FailReason  string            `json:"fail_reason,omitempty"`
	NumVectors  int               `json:"num_vectors"`
	Steps       map[string]string `json:"steps"`
}
