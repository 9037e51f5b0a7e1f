package workflows

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"researchmcp/internal/activities"
	"researchmcp/internal/models"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetIngestStatus = "GetIngestStatus"

const (
	StatusProcessing = "processing"
	StatusUnresolved = "unresolved"
	StatusFailed     = models.PaperStatusFailed
	StatusIngested   = models.PaperStatusIngested
)

// PaperIngestWorkflow resolves a PDF, records the paper, extracts its parts and
// writes them to the hybrid index. A paper without an open-access PDF or without
// extractable text completes with a non-ingested status instead of failing.
func PaperIngestWorkflow(ctx workflow.Context, input PaperIngestInput) (PaperIngestStatus, error) {
	status := PaperIngestStatus{
		Title:       input.Title,
		PDFURL:      input.PDFURL,
		CurrentStep: "init",
		Status:      StatusProcessing,
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetIngestStatus, func() (PaperIngestStatus, error) {
		return status, nil
	}); err != nil {
		return status, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	begin := func(step string) {
		status.CurrentStep = step
		status.Steps[step] = "processing"
	}
	done := func() { status.Steps[status.CurrentStep] = "done" }

	begin("resolve_pdf")
	var resolved activities.ResolvePDFOutput
	if err := workflow.ExecuteActivity(ctx, "ResolvePDFActivity", activities.ResolvePDFInput{
		S2PaperID: input.S2PaperID,
		Title:     input.Title,
		PDFURL:    input.PDFURL,
	}).Get(ctx, &resolved); err != nil {
		return status, err
	}
	if !resolved.Found {
		status.Status = StatusUnresolved
		status.FailReason = activities.ErrNoOpenAccessPDF.Error()
		status.Steps[status.CurrentStep] = "failed"
		return status, nil
	}
	status.Title, status.PDFURL = resolved.Title, resolved.PDFURL
	done()

	begin("create_paper")
	var created activities.CreatePaperOutput
	if err := workflow.ExecuteActivity(ctx, "CreatePaperActivity", activities.CreatePaperInput{
		UserID: input.UserID,
		Title:  resolved.Title,
		PDFURL: resolved.PDFURL,
	}).Get(ctx, &created); err != nil {
		return status, err
	}
	status.PaperID = created.Paper.ID
	status.Title = created.Paper.Title
	done()

	begin("extract_parts")
	var extracted activities.ExtractPartsOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractPartsActivity", activities.ExtractPartsInput{PDFURL: resolved.PDFURL}).Get(ctx, &extracted); err != nil {
		if isNoTextError(err) {
			return markFailed(ctx, status, input.UserID, "no extractable text found (document may be scanned)"), nil
		}
		return status, err
	}
	done()

	begin("index_parts")
	var indexed activities.IndexPartsOutput
	if err := workflow.ExecuteActivity(ctx, "IndexPartsActivity", activities.IndexPartsInput{
		UserID:  input.UserID,
		PaperID: created.Paper.ID,
		Title:   created.Paper.Title,
		Parts:   extracted.Parts,
	}).Get(ctx, &indexed); err != nil {
		_ = workflow.ExecuteActivity(ctx, "UpdatePaperStatusActivity", activities.UpdatePaperStatusInput{
			UserID:     input.UserID,
			PaperID:    created.Paper.ID,
			Status:     StatusFailed,
			FailReason: err.Error(),
		}).Get(ctx, nil)
		return status, err
	}
	status.NumVectors = indexed.NumVectors
	done()

	status.CurrentStep = "done"
	status.Status = StatusIngested
	return status, nil
}

func markFailed(ctx workflow.Context, status PaperIngestStatus, userID int64, reason string) PaperIngestStatus {
	status.Status = StatusFailed
	status.FailReason = reason
	status.Steps[status.CurrentStep] = "failed"
	_ = workflow.ExecuteActivity(ctx, "UpdatePaperStatusActivity", activities.UpdatePaperStatusInput{
		UserID:     userID,
		PaperID:    status.PaperID,
		Status:     StatusFailed,
		FailReason: reason,
	}).Get(ctx, nil)
	return status
}

func isNoTextError(err error) bool {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() == "NoExtractableText" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no extractable text")
}

// WorkflowID is derived from the user and the paper source.
func WorkflowID(input PaperIngestInput) string {
	source := input.S2PaperID
	if source == "" {
		source = input.PDFURL
	}
	return "ingest-" + sanitizeID(strings.TrimSpace(source)) + "-u" + strconv.FormatInt(input.UserID, 10)
}

func sanitizeID(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 120 {
		out = out[len(out)-120:]
	}
	return out
}
