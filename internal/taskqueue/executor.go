package taskqueue

import (
	"context"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"time"

	"terra-imagery/internal/common"
	"terra-imagery/internal/imagery"
	"terra-imagery/internal/utils/naming"
	"terra-imagery/internal/video"
)

// AnimationExecutor turns queued tasks into video files: one composed
// frame per date, then one encode pass
type AnimationExecutor struct {
	builder   *imagery.FrameBuilder
	outputDir string
	fontPath  string
}

// NewAnimationExecutor creates an executor writing videos under outputDir.
// fontPath may be empty; date overlays are skipped without it.
func NewAnimationExecutor(builder *imagery.FrameBuilder, outputDir, fontPath string) *AnimationExecutor {
	return &AnimationExecutor{
		builder:   builder,
		outputDir: outputDir,
		fontPath:  fontPath,
	}
}

// ExecuteAnimationTask builds every frame in the task's date range and
// encodes them. Dates whose imagery cannot be composed are skipped; the
// task fails only when no frame at all could be built.
func (e *AnimationExecutor) ExecuteAnimationTask(ctx context.Context, task *AnimationTask, progressChan chan<- TaskProgress) error {
	dates, err := common.EnumerateDates(task.StartDate, task.EndDate)
	if err != nil {
		return err
	}

	frames := make([]video.Frame, 0, len(dates))
	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			return err
		}

		progressChan <- TaskProgress{
			CurrentPhase: "fetching",
			CurrentFrame: i + 1,
			TotalFrames:  len(dates),
			Percent:      (i * 100) / len(dates),
		}

		img, err := e.builder.BuildFrame(ctx, imagery.FrameSpec{
			Layer:      task.Layer,
			Resolution: task.Resolution,
			Date:       date,
			Zoom:       task.Zoom,
			BBox:       task.BBox,
		})
		if err != nil {
			// Satellite gaps leave some dates without imagery
			log.Printf("[Animation] Skipping %s: %v", date, err)
			continue
		}

		parsedDate, err := common.ParseISO8601(date)
		if err != nil {
			return err
		}

		frames = append(frames, video.Frame{
			Image: toRGBA(img),
			Date:  parsedDate,
		})
	}

	if len(frames) == 0 {
		return fmt.Errorf("no frames could be built for %s %s..%s",
			task.Layer, task.StartDate, task.EndDate)
	}

	progressChan <- TaskProgress{
		CurrentPhase: "encoding",
		CurrentFrame: len(dates),
		TotalFrames:  len(dates),
		Percent:      95,
	}

	opts := e.exportOptions(task)
	exporter, err := video.NewExporter(opts)
	if err != nil {
		return fmt.Errorf("failed to create video exporter: %w", err)
	}
	defer exporter.Close()

	filename := naming.AnimationFilename(
		task.Layer, task.StartDate, task.EndDate,
		task.BBox.South, task.BBox.West, task.BBox.North, task.BBox.East,
		task.Zoom, task.Video.OutputFormat)
	outputPath := filepath.Join(e.outputDir, filename)

	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	start := time.Now()
	if err := exporter.ExportVideo(frames, outputPath); err != nil {
		return fmt.Errorf("failed to export video: %w", err)
	}

	log.Printf("[Animation] Exported %d frames to %s in %s",
		len(frames), outputPath, time.Since(start).Round(time.Millisecond))

	task.OutputPath = outputPath
	return nil
}

func (e *AnimationExecutor) exportOptions(task *AnimationTask) *video.ExportOptions {
	opts := video.DefaultExportOptions()
	if task.Video.Width > 0 {
		opts.Width = task.Video.Width
	}
	if task.Video.Height > 0 {
		opts.Height = task.Video.Height
	}
	if task.Video.FrameDelay > 0 {
		opts.FrameDelay = task.Video.FrameDelay
	}
	if task.Video.Quality > 0 {
		opts.Quality = task.Video.Quality
	}
	if task.Video.DatePosition != "" {
		opts.DatePosition = task.Video.DatePosition
	}
	if task.Video.DateFontSize > 0 {
		opts.DateFontSize = task.Video.DateFontSize
	}
	opts.OutputFormat = task.Video.OutputFormat
	opts.ShowDateOverlay = task.Video.ShowDateOverlay && e.fontPath != ""
	opts.DateFontPath = e.fontPath
	return opts
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}
	return rgba
}
