package services

import (
	"context"

	"synchro/backend/pkg/models"
)

// FrameExtractor pulls still frames out of a video file on disk. The
// returned cleanup removes the temporary frame directory and must be called
// once the frames are no longer needed.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, videoPath string, maxFrames int) ([]string, func(), error)
	ProbeDuration(ctx context.Context, videoPath string) (float64, error)
}

// VisionClient infers workflow steps from an ordered frame sequence using
// an external vision-capable model.
type VisionClient interface {
	InferSteps(ctx context.Context, framePaths []string) ([]models.InferredStep, error)
}

// MediaStore is the object storage boundary: source video download and
// screenshot upload.
type MediaStore interface {
	// DownloadVideo fetches the object to a local temp file and returns its
	// path plus a cleanup removing the file.
	DownloadVideo(ctx context.Context, objectPath string) (string, func(), error)
	// ArchiveFrames uploads frames under the workflow's screenshot
	// namespace and returns public URLs aligned index-for-index with the
	// input; a failed upload yields "" at that index.
	ArchiveFrames(ctx context.Context, framePaths []string, workflowID string) []string
}
