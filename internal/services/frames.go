package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"synchro/backend/internal/logging"
)

// sceneChangeThreshold is the perceptual difference above which ffmpeg's
// scene filter keeps a frame.
const sceneChangeThreshold = 0.3

// defaultMaxFrames caps the frame sequence sent to the vision model.
const defaultMaxFrames = 8

// FrameExtractionError carries ffmpeg's diagnostic output when a decode
// fails.
type FrameExtractionError struct {
	Output string
	Err    error
}

func (e *FrameExtractionError) Error() string {
	return fmt.Sprintf("frame extraction failed: %v", e.Err)
}

func (e *FrameExtractionError) Unwrap() error {
	return e.Err
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// FFmpegExtractor extracts frames by shelling out to ffmpeg.
type FFmpegExtractor struct {
	logger *logging.Logger
	run    commandRunner
}

// NewFFmpegExtractor creates a new FFmpegExtractor.
func NewFFmpegExtractor(logger *logging.Logger) *FFmpegExtractor {
	return &FFmpegExtractor{
		logger: logger,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// ExtractFrames selects frames at scene transitions, falling back to
// uniform 1 fps sampling when the scene pass finds nothing (static or
// undetectable content). The result is truncated to maxFrames in temporal
// order. The returned cleanup removes the frame directory; on error the
// directory is already removed and cleanup is nil.
func (e *FFmpegExtractor) ExtractFrames(ctx context.Context, videoPath string, maxFrames int) ([]string, func(), error) {
	if maxFrames <= 0 {
		maxFrames = defaultMaxFrames
	}

	frameDir, err := os.MkdirTemp("", "synchro-frames-")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { os.RemoveAll(frameDir) }

	pattern := filepath.Join(frameDir, "frame_%04d.jpg")

	sceneFilter := fmt.Sprintf("select='gt(scene,%g)'", sceneChangeThreshold)
	out, err := e.run(ctx, "ffmpeg",
		"-i", videoPath,
		"-vf", sceneFilter,
		"-vsync", "vfr",
		"-y",
		pattern,
	)
	if err != nil {
		cleanup()
		return nil, nil, &FrameExtractionError{Output: string(out), Err: err}
	}

	frames, err := filepath.Glob(filepath.Join(frameDir, "*.jpg"))
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	if len(frames) == 0 {
		e.logger.Debug("scene detection found no frames, sampling uniformly", "video", videoPath)
		out, err = e.run(ctx, "ffmpeg",
			"-i", videoPath,
			"-vf", "fps=1",
			"-y",
			pattern,
		)
		if err != nil {
			cleanup()
			return nil, nil, &FrameExtractionError{Output: string(out), Err: err}
		}
		frames, err = filepath.Glob(filepath.Join(frameDir, "*.jpg"))
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	// Glob order is not guaranteed; the %04d pattern makes lexical order
	// temporal order.
	sort.Strings(frames)
	if len(frames) > maxFrames {
		frames = frames[:maxFrames]
	}

	return frames, cleanup, nil
}

// ProbeDuration reads the container duration in seconds via ffprobe.
func (e *FFmpegExtractor) ProbeDuration(ctx context.Context, videoPath string) (float64, error) {
	out, err := e.run(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	if err != nil {
		return 0, &FrameExtractionError{Output: string(out), Err: err}
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	return duration, nil
}
