package workflows

import (
	"context"
	"testing"

	"researchmcp/internal/activities"
	"researchmcp/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(PaperIngestWorkflow)
	registerActivityName(env, "ResolvePDFActivity", func(context.Context, activities.ResolvePDFInput) (activities.ResolvePDFOutput, error) {
		return activities.ResolvePDFOutput{}, nil
	})
	registerActivityName(env, "CreatePaperActivity", func(context.Context, activities.CreatePaperInput) (activities.CreatePaperOutput, error) {
		return activities.CreatePaperOutput{}, nil
	})
	registerActivityName(env, "ExtractPartsActivity", func(context.Context, activities.ExtractPartsInput) (activities.ExtractPartsOutput, error) {
		return activities.ExtractPartsOutput{}, nil
	})
	registerActivityName(env, "IndexPartsActivity", func(context.Context, activities.IndexPartsInput) (activities.IndexPartsOutput, error) {
		return activities.IndexPartsOutput{}, nil
	})
	registerActivityName(env, "UpdatePaperStatusActivity", func(context.Context, activities.UpdatePaperStatusInput) error { return nil })
	return env
}

var parts = []models.Part{
	{Text: "Transformers use attention.", Page: 1, Type: "text"},
	{Text: "Table 2: BLEU scores.", Page: 8, Type: "table"},
}

func TestPaperIngestWorkflowSuccess(t *testing.T) {
	env := newEnv(t)
	env.OnActivity("ResolvePDFActivity", mock.Anything, activities.ResolvePDFInput{S2PaperID: "s2-1"}).
		Return(activities.ResolvePDFOutput{PDFURL: "https://arxiv.org/pdf/1706.03762.pdf", Title: "Attention", Found: true}, nil)
	env.OnActivity("CreatePaperActivity", mock.Anything, activities.CreatePaperInput{UserID: 1, Title: "Attention", PDFURL: "https://arxiv.org/pdf/1706.03762.pdf"}).
		Return(activities.CreatePaperOutput{Paper: models.Paper{ID: 4, UserID: 1, Title: "Attention"}}, nil)
	env.OnActivity("ExtractPartsActivity", mock.Anything, activities.ExtractPartsInput{PDFURL: "https://arxiv.org/pdf/1706.03762.pdf"}).
		Return(activities.ExtractPartsOutput{Parts: parts}, nil)
	env.OnActivity("IndexPartsActivity", mock.Anything, activities.IndexPartsInput{UserID: 1, PaperID: 4, Title: "Attention", Parts: parts}).
		Return(activities.IndexPartsOutput{NumParts: 2, NumVectors: 2}, nil)

	env.ExecuteWorkflow(PaperIngestWorkflow, PaperIngestInput{UserID: 1, S2PaperID: "s2-1"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out PaperIngestStatus
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, StatusIngested, out.Status)
	require.Equal(t, int64(4), out.PaperID)
	require.Equal(t, 2, out.NumVectors)
	require.Equal(t, "done", out.Steps["index_parts"])
}

func TestPaperIngestWorkflowUnresolved(t *testing.T) {
	env := newEnv(t)
	env.OnActivity("ResolvePDFActivity", mock.Anything, mock.Anything).
		Return(activities.ResolvePDFOutput{Title: "Closed Paper"}, nil)

	env.ExecuteWorkflow(PaperIngestWorkflow, PaperIngestInput{UserID: 1, S2PaperID: "s2-2"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out PaperIngestStatus
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, StatusUnresolved, out.Status)
	require.Zero(t, out.PaperID)
}

func TestPaperIngestWorkflowNoTextFailsGracefully(t *testing.T) {
	env := newEnv(t)
	env.OnActivity("ResolvePDFActivity", mock.Anything, mock.Anything).
		Return(activities.ResolvePDFOutput{PDFURL: "https://example.org/scan.pdf", Title: "Scan", Found: true}, nil)
	env.OnActivity("CreatePaperActivity", mock.Anything, mock.Anything).
		Return(activities.CreatePaperOutput{Paper: models.Paper{ID: 9, UserID: 1, Title: "Scan"}}, nil)
	env.OnActivity("ExtractPartsActivity", mock.Anything, mock.Anything).
		Return(activities.ExtractPartsOutput{}, temporal.NewNonRetryableApplicationError("ade returned 0 usable items: no extractable text", "NoExtractableText", nil))
	env.OnActivity("UpdatePaperStatusActivity", mock.Anything, activities.UpdatePaperStatusInput{
		UserID:     1,
		PaperID:    9,
		Status:     StatusFailed,
		FailReason: "no extractable text found (document may be scanned)",
	}).Return(nil).Once()

	env.ExecuteWorkflow(PaperIngestWorkflow, PaperIngestInput{UserID: 1, PDFURL: "https://example.org/scan.pdf", Title: "Scan"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out PaperIngestStatus
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, StatusFailed, out.Status)
	require.Equal(t, "failed", out.Steps["extract_parts"])
	env.AssertExpectations(t)
}

func TestWorkflowID(t *testing.T) {
	require.Equal(t, "ingest-abc123-u7", WorkflowID(PaperIngestInput{UserID: 7, S2PaperID: "ABC123"}))
	require.Equal(t, "ingest-https---arxiv-org-pdf-1706-03762-pdf-u2", WorkflowID(PaperIngestInput{UserID: 2, PDFURL: "https://arxiv.org/pdf/1706.03762.pdf"}))
}
