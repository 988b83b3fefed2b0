package analysis

import (
	"context"
	"fmt"
	"sync"

	"github.com/kozaktomas/variance-tracker/internal/database"
	"github.com/kozaktomas/variance-tracker/internal/preprocess"
	"github.com/kozaktomas/variance-tracker/internal/quality"
)

// ProgressInfo is reported once per image as it is picked up.
type ProgressInfo struct {
	Phase   string `json:"phase"` // "processing"
	Current int    `json:"current"`
	Total   int    `json:"total"`
	ImageID string `json:"image_id"`
	Angle   string `json:"angle"`
}

type imageOutcome struct {
	index     int
	image     database.Image
	angle     string
	quality   quality.ImageQuality
	embedding []float32
	err       error
}

// processImages runs download, preprocessing, quality scoring and extraction
// for every image, up to ImageWorkers at a time. Outcomes keep input order.
// Cancellation is checked between steps; an extraction in flight completes.
func (s *Service) processImages(ctx context.Context, images []database.Image, onProgress func(ProgressInfo)) ([]imageOutcome, error) {
	resultsChan := make(chan imageOutcome, len(images))
	semaphore := make(chan struct{}, s.cfg.ImageWorkers)
	var wg sync.WaitGroup
	var progressMu sync.Mutex
	started := 0

	for i, img := range images {
		wg.Add(1)
		go func(idx int, img database.Image) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if onProgress != nil {
				progressMu.Lock()
				started++
				onProgress(ProgressInfo{
					Phase:   "processing",
					Current: started,
					Total:   len(images),
					ImageID: img.ID,
					Angle:   NormalizeAngle(img.AngleType),
				})
				progressMu.Unlock()
			}

			resultsChan <- s.processImage(ctx, idx, img)
		}(i, img)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	outcomes := make([]imageOutcome, len(images))
	for r := range resultsChan {
		outcomes[r.index] = r
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (s *Service) processImage(ctx context.Context, idx int, img database.Image) imageOutcome {
	out := imageOutcome{index: idx, image: img, angle: NormalizeAngle(img.AngleType)}
	if out.angle == "" {
		out.err = fmt.Errorf("%w: image %s", ErrMissingAngle, img.ID)
		return out
	}

	if err := ctx.Err(); err != nil {
		out.err = err
		return out
	}
	data, err := s.images.Download(ctx, img.StoragePath)
	if err != nil {
		out.err = fmt.Errorf("failed to download image %s: %w", img.ID, err)
		return out
	}

	if err := ctx.Err(); err != nil {
		out.err = err
		return out
	}
	res, err := s.pipeline.Process(preprocess.Input{Data: data, Orientation: img.Orientation})
	if err != nil {
		out.err = fmt.Errorf("failed to preprocess image %s: %w", img.ID, err)
		return out
	}
	out.quality = quality.ComputeImageQuality(res.Image)

	if err := ctx.Err(); err != nil {
		out.err = err
		return out
	}
	emb, err := s.extractor.Extract(ctx, res.Image)
	if err != nil {
		out.err = fmt.Errorf("failed to extract embedding of image %s: %w", img.ID, err)
		return out
	}
	out.embedding = emb
	return out
}
