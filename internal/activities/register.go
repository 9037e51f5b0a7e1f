package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ResolvePDFActivity)
	w.RegisterActivity(a.CreatePaperActivity)
	w.RegisterActivity(a.ExtractPartsActivity)
	w.RegisterActivity(a.IndexPartsActivity)
	w.RegisterActivity(a.UpdatePaperStatusActivity)
}
