package jobs

import (
	"context"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
)

// ProgressFunc receives per-image progress of a running job.
type ProgressFunc func(p Payload, info analysis.ProgressInfo)

// AnalyzeWith adapts the analysis service to an AnalyzeFunc. The session is
// checked again before running since it may have changed while queued.
func AnalyzeWith(svc *analysis.Service, onProgress ProgressFunc) AnalyzeFunc {
	return func(ctx context.Context, p Payload) error {
		prepared, err := svc.Prepare(ctx, p.SessionID, p.UserID)
		if err != nil {
			return err
		}

		req := analysis.Request{
			SessionID: p.SessionID,
			UserID:    p.UserID,
			Images:    prepared.Images,
			Force:     p.Force,
		}
		if onProgress != nil {
			req.OnProgress = func(info analysis.ProgressInfo) {
				onProgress(p, info)
			}
		}
		_, err = svc.Analyze(ctx, req)
		return err
	}
}
