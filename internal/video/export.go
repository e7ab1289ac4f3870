package video

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/icza/mjpeg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// ExportOptions controls how a frame sequence becomes a video
type ExportOptions struct {
	Width  int
	Height int

	// Date overlay
	ShowDateOverlay bool
	DateFontSize    float64
	DatePosition    string // "top-left", "top-right", "bottom-left", "bottom-right", "center"
	DateColor       color.RGBA
	DateShadow      bool
	DateFormat      string
	DateFontPath    string

	FrameRate    int     // encoder FPS for H.264 output
	FrameDelay   float64 // seconds each frame is shown
	OutputFormat string  // "mp4", "avi", "gif"
	Quality      int     // 0-100
	UseH264      bool    // use FFmpeg for MP4 when available
}

// DefaultExportOptions returns the defaults used for animation jobs
func DefaultExportOptions() *ExportOptions {
	return &ExportOptions{
		Width:           1024,
		Height:          1024,
		ShowDateOverlay: true,
		DateFontSize:    36,
		DatePosition:    "bottom-right",
		DateColor:       color.RGBA{255, 255, 255, 255},
		DateShadow:      true,
		DateFormat:      "Jan 02, 2006",
		FrameRate:       30,
		FrameDelay:      0.5,
		OutputFormat:    "mp4",
		Quality:         90,
		UseH264:         true,
	}
}

// Frame is one timelapse frame with its imagery date
type Frame struct {
	Image *image.RGBA
	Date  time.Time
}

// Exporter encodes processed frames into a video file
type Exporter struct {
	options    *ExportOptions
	font       font.Face
	ffmpegPath string
}

// CheckFFmpeg looks for an ffmpeg binary on PATH or in common locations
func CheckFFmpeg() (string, bool) {
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		return path, true
	}

	for _, path := range []string{"/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg", "/opt/homebrew/bin/ffmpeg"} {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}

	return "", false
}

// NewExporter creates a video exporter for the given options
func NewExporter(opts *ExportOptions) (*Exporter, error) {
	if opts == nil {
		opts = DefaultExportOptions()
	}

	e := &Exporter{options: opts}

	if opts.UseH264 {
		if path, found := CheckFFmpeg(); found {
			e.ffmpegPath = path
			log.Printf("[VideoExport] FFmpeg found at: %s", path)
		} else {
			log.Printf("[VideoExport] FFmpeg not found, MP4 requests fall back to MJPEG AVI")
		}
	}

	if opts.ShowDateOverlay && opts.DateFontPath != "" {
		if err := e.loadFont(); err != nil {
			// Continue without the overlay rather than failing the export
			log.Printf("[VideoExport] Warning: failed to load font: %v", err)
		}
	}

	return e, nil
}

// HasFFmpeg reports whether H.264 encoding is available
func (e *Exporter) HasFFmpeg() bool {
	return e.ffmpegPath != ""
}

func (e *Exporter) loadFont() error {
	fontBytes, err := os.ReadFile(e.options.DateFontPath)
	if err != nil {
		return fmt.Errorf("failed to read font file: %w", err)
	}

	f, err := opentype.Parse(fontBytes)
	if err != nil {
		return fmt.Errorf("failed to parse font: %w", err)
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    e.options.DateFontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return fmt.Errorf("failed to create font face: %w", err)
	}

	e.font = face
	return nil
}

// ProcessFrame scales a source frame to the output dimensions and stamps
// the date overlay when enabled
func (e *Exporter) ProcessFrame(sourceImage image.Image, date time.Time) (*image.RGBA, error) {
	opts := e.options

	output := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	e.resizeAndDrawImage(output, sourceImage)

	if opts.ShowDateOverlay && e.font != nil {
		e.drawDateOverlay(output, date)
	}

	return output, nil
}

// resizeAndDrawImage scales source into dst with nearest-neighbor sampling
func (e *Exporter) resizeAndDrawImage(dst *image.RGBA, src image.Image) {
	bounds := src.Bounds()
	dstBounds := dst.Bounds()

	scaleX := float64(bounds.Dx()) / float64(dstBounds.Dx())
	scaleY := float64(bounds.Dy()) / float64(dstBounds.Dy())

	for dy := dstBounds.Min.Y; dy < dstBounds.Max.Y; dy++ {
		for dx := dstBounds.Min.X; dx < dstBounds.Max.X; dx++ {
			sx := bounds.Min.X + int(float64(dx-dstBounds.Min.X)*scaleX)
			sy := bounds.Min.Y + int(float64(dy-dstBounds.Min.Y)*scaleY)

			if sx >= bounds.Min.X && sx < bounds.Max.X && sy >= bounds.Min.Y && sy < bounds.Max.Y {
				dst.Set(dx, dy, src.At(sx, sy))
			}
		}
	}
}

func (e *Exporter) drawDateOverlay(dst *image.RGBA, date time.Time) {
	dateStr := date.Format(e.options.DateFormat)

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(e.options.DateColor),
		Face: e.font,
	}

	bounds, _ := drawer.BoundString(dateStr)
	textWidth := (bounds.Max.X - bounds.Min.X).Ceil()
	textHeight := (bounds.Max.Y - bounds.Min.Y).Ceil()

	var x, y int
	padding := 20

	switch e.options.DatePosition {
	case "top-left":
		x = padding
		y = padding + textHeight
	case "top-right":
		x = e.options.Width - textWidth - padding
		y = padding + textHeight
	case "bottom-left":
		x = padding
		y = e.options.Height - padding
	case "center":
		x = (e.options.Width - textWidth) / 2
		y = (e.options.Height + textHeight) / 2
	default: // bottom-right
		x = e.options.Width - textWidth - padding
		y = e.options.Height - padding
	}

	if e.options.DateShadow {
		shadowDrawer := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(color.RGBA{0, 0, 0, 180}),
			Face: e.font,
			Dot:  fixed.P(x+2, y+2),
		}
		shadowDrawer.DrawString(dateStr)
	}

	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(dateStr)
}

// ExportVideo encodes the frames into the requested container. MP4 needs
// FFmpeg; without it the export falls back to MJPEG AVI.
func (e *Exporter) ExportVideo(frames []Frame, outputPath string) error {
	switch e.options.OutputFormat {
	case "mp4":
		if e.ffmpegPath != "" && e.options.UseH264 {
			return e.exportH264(frames, outputPath)
		}
		aviPath := strings.TrimSuffix(outputPath, ".mp4") + ".avi"
		log.Printf("[VideoExport] FFmpeg not available, falling back to MJPEG AVI: %s", aviPath)
		return e.exportMotionJPEG(frames, aviPath)
	case "avi":
		return e.exportMotionJPEG(frames, outputPath)
	case "gif":
		return e.exportGIF(frames, outputPath)
	default:
		return fmt.Errorf("unsupported output format: %s (supported: mp4, avi, gif)", e.options.OutputFormat)
	}
}

// exportH264 renders frames to PNG files and shells out to FFmpeg
func (e *Exporter) exportH264(frames []Frame, outputPath string) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to export")
	}

	log.Printf("[VideoExport] Exporting H.264 video with %d frames at %dx%d",
		len(frames), e.options.Width, e.options.Height)

	tempDir, err := os.MkdirTemp("", "timelapse_frames_*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	// Duplicate frames so each one is shown for FrameDelay seconds
	duplicateCount := int(e.options.FrameDelay * float64(e.options.FrameRate))
	if duplicateCount < 1 {
		duplicateCount = 1
	}

	frameIndex := 0
	for i, frame := range frames {
		processedFrame, err := e.ProcessFrame(frame.Image, frame.Date)
		if err != nil {
			return fmt.Errorf("failed to process frame %d: %w", i, err)
		}

		for d := 0; d < duplicateCount; d++ {
			framePath := filepath.Join(tempDir, fmt.Sprintf("frame_%05d.png", frameIndex))
			f, err := os.Create(framePath)
			if err != nil {
				return fmt.Errorf("failed to create frame file: %w", err)
			}
			if err := png.Encode(f, processedFrame); err != nil {
				f.Close()
				return fmt.Errorf("failed to encode frame %d: %w", i, err)
			}
			f.Close()
			frameIndex++
		}
	}

	// Map quality 0-100 onto CRF 51-0
	crf := 51 - (e.options.Quality * 51 / 100)
	if crf < 0 {
		crf = 0
	}

	args := []string{
		"-y",
		"-framerate", fmt.Sprintf("%d", e.options.FrameRate),
		"-i", filepath.Join(tempDir, "frame_%05d.png"),
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", fmt.Sprintf("%d", crf),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outputPath,
	}

	cmd := exec.Command(e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("FFmpeg encoding failed: %w\nStderr: %s", err, stderr.String())
		}
	case <-time.After(5 * time.Minute):
		cmd.Process.Kill()
		return fmt.Errorf("FFmpeg encoding timed out after 5 minutes")
	}

	if info, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("output file not created: %w", err)
	} else if info.Size() == 0 {
		return fmt.Errorf("output file is empty")
	}

	log.Printf("[VideoExport] H.264 video exported: %s", outputPath)
	return nil
}

// exportMotionJPEG writes an MJPEG AVI, which plays without extra codecs
func (e *Exporter) exportMotionJPEG(frames []Frame, outputPath string) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to export")
	}

	if !strings.HasSuffix(strings.ToLower(outputPath), ".avi") {
		outputPath = strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".avi"
	}

	// Each frame shows for FrameDelay seconds, so FPS = 1/FrameDelay
	effectiveFPS := int(1.0 / e.options.FrameDelay)
	if effectiveFPS < 1 {
		effectiveFPS = 1
	}
	if effectiveFPS > 30 {
		effectiveFPS = 30
	}

	writer, err := mjpeg.New(outputPath, int32(e.options.Width), int32(e.options.Height), int32(effectiveFPS))
	if err != nil {
		return fmt.Errorf("failed to create video writer: %w", err)
	}
	defer writer.Close()

	for i, frame := range frames {
		processedFrame, err := e.ProcessFrame(frame.Image, frame.Date)
		if err != nil {
			return fmt.Errorf("failed to process frame %d: %w", i, err)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, processedFrame, &jpeg.Options{Quality: e.options.Quality}); err != nil {
			return fmt.Errorf("failed to encode frame %d as JPEG: %w", i, err)
		}

		if err := writer.AddFrame(buf.Bytes()); err != nil {
			return fmt.Errorf("failed to add frame %d: %w", i, err)
		}
	}

	log.Printf("[VideoExport] MJPEG video exported: %s", outputPath)
	return nil
}

// exportGIF writes an animated GIF with Floyd-Steinberg dithering
func (e *Exporter) exportGIF(frames []Frame, outputPath string) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to export")
	}

	palettedImages := make([]*image.Paletted, 0, len(frames))
	delays := make([]int, 0, len(frames))

	// GIF delays are hundredths of a second
	delay := int(e.options.FrameDelay * 100)
	if delay < 1 {
		delay = 1
	}

	for i, frame := range frames {
		processedFrame, err := e.ProcessFrame(frame.Image, frame.Date)
		if err != nil {
			return fmt.Errorf("failed to process frame %d: %w", i, err)
		}

		bounds := processedFrame.Bounds()
		palettedImg := image.NewPaletted(bounds, palette.Plan9)
		draw.FloydSteinberg.Draw(palettedImg, bounds, processedFrame, image.Point{})

		palettedImages = append(palettedImages, palettedImg)
		delays = append(delays, delay)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	return gif.EncodeAll(f, &gif.GIF{
		Image: palettedImages,
		Delay: delays,
		Config: image.Config{
			Width:  e.options.Width,
			Height: e.options.Height,
		},
	})
}

// Close releases the font face
func (e *Exporter) Close() error {
	if e.font != nil {
		return e.font.Close()
	}
	return nil
}
