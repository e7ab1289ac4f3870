package video

import (
	"image"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrames(count, size int) []Frame {
	frames := make([]Frame, 0, count)
	base := time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		img := image.NewRGBA(image.Rect(0, 0, size, size))
		shade := uint8(40 * (i + 1))
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				img.Set(x, y, color.RGBA{R: shade, G: 0, B: 0, A: 255})
			}
		}
		frames = append(frames, Frame{Image: img, Date: base.AddDate(0, 0, i)})
	}
	return frames
}

func testOptions(format string) *ExportOptions {
	opts := DefaultExportOptions()
	opts.Width = 128
	opts.Height = 128
	opts.OutputFormat = format
	opts.UseH264 = false
	opts.ShowDateOverlay = false
	return opts
}

func TestProcessFrameResizes(t *testing.T) {
	exporter, err := NewExporter(testOptions("avi"))
	require.NoError(t, err)
	defer exporter.Close()

	src := image.NewRGBA(image.Rect(0, 0, 512, 256))
	out, err := exporter.ProcessFrame(src, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 128, out.Bounds().Dx())
	assert.Equal(t, 128, out.Bounds().Dy())
}

func TestExportMotionJPEG(t *testing.T) {
	exporter, err := NewExporter(testOptions("avi"))
	require.NoError(t, err)
	defer exporter.Close()

	outputPath := filepath.Join(t.TempDir(), "timelapse.avi")
	require.NoError(t, exporter.ExportVideo(testFrames(3, 64), outputPath))

	info, err := os.Stat(outputPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestExportGIF(t *testing.T) {
	exporter, err := NewExporter(testOptions("gif"))
	require.NoError(t, err)
	defer exporter.Close()

	outputPath := filepath.Join(t.TempDir(), "timelapse.gif")
	require.NoError(t, exporter.ExportVideo(testFrames(4, 64), outputPath))

	f, err := os.Open(outputPath)
	require.NoError(t, err)
	defer f.Close()

	decoded, err := gif.DecodeAll(f)
	require.NoError(t, err)
	assert.Len(t, decoded.Image, 4)
	assert.Equal(t, 128, decoded.Config.Width)
	// FrameDelay 0.5s is 50 hundredths
	assert.Equal(t, 50, decoded.Delay[0])
}

func TestExportMP4FallsBackWithoutFFmpeg(t *testing.T) {
	opts := testOptions("mp4")
	exporter, err := NewExporter(opts)
	require.NoError(t, err)
	defer exporter.Close()

	dir := t.TempDir()
	outputPath := filepath.Join(dir, "timelapse.mp4")
	require.NoError(t, exporter.ExportVideo(testFrames(2, 64), outputPath))

	// UseH264 is off, so the MJPEG fallback writes an AVI instead
	_, err = os.Stat(filepath.Join(dir, "timelapse.avi"))
	assert.NoError(t, err)
}

func TestExportRejectsEmptyAndUnknownFormat(t *testing.T) {
	exporter, err := NewExporter(testOptions("avi"))
	require.NoError(t, err)
	defer exporter.Close()

	assert.Error(t, exporter.ExportVideo(nil, filepath.Join(t.TempDir(), "x.avi")))

	bad, err := NewExporter(testOptions("webm"))
	require.NoError(t, err)
	assert.Error(t, bad.ExportVideo(testFrames(1, 32), filepath.Join(t.TempDir(), "x.webm")))
}
