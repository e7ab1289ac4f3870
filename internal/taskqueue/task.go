package taskqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"terra-imagery/internal/common"
	"terra-imagery/internal/gibs"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// VideoOptions carries the per-task video settings
type VideoOptions struct {
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FrameDelay      float64 `json:"frameDelay"`
	OutputFormat    string  `json:"outputFormat"` // "mp4", "avi", "gif"
	Quality         int     `json:"quality"`
	ShowDateOverlay bool    `json:"showDateOverlay"`
	DatePosition    string  `json:"datePosition"`
	DateFontSize    float64 `json:"dateFontSize"`
}

// TaskProgress reports how far an animation job has come
type TaskProgress struct {
	CurrentPhase string `json:"currentPhase"` // "fetching", "encoding"
	TotalFrames  int    `json:"totalFrames"`
	CurrentFrame int    `json:"currentFrame"`
	Percent      int    `json:"percent"`
}

// AnimationTask is one queued animation export: a layer, a region, a date
// range, and the video settings to render with
type AnimationTask struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"` // higher runs first
	CreatedAt   string     `json:"createdAt"`
	StartedAt   string     `json:"startedAt,omitempty"`
	CompletedAt string     `json:"completedAt,omitempty"`

	Layer      string             `json:"layer"`
	Resolution string             `json:"resolution"`
	BBox       common.BoundingBox `json:"bbox"`
	Zoom       int                `json:"zoom"`
	StartDate  string             `json:"startDate"`
	EndDate    string             `json:"endDate"`

	Video VideoOptions `json:"video"`

	Progress TaskProgress `json:"progress"`

	Error      string `json:"error,omitempty"`
	OutputPath string `json:"outputPath,omitempty"`
}

// NewAnimationTask creates a pending task with a fresh ID
func NewAnimationTask(name, layer, resolution string, bbox common.BoundingBox, zoom int, startDate, endDate string, video VideoOptions) *AnimationTask {
	return &AnimationTask{
		ID:         uuid.NewString(),
		Name:       name,
		Status:     TaskStatusPending,
		CreatedAt:  time.Now().Format(time.RFC3339),
		Layer:      layer,
		Resolution: resolution,
		BBox:       bbox,
		Zoom:       zoom,
		StartDate:  startDate,
		EndDate:    endDate,
		Video:      video,
	}
}

// Validate rejects a malformed task before it is queued
func (t *AnimationTask) Validate() error {
	if _, err := gibs.LayerByID(t.Layer); err != nil {
		return err
	}
	if !gibs.ValidResolution(t.Resolution) {
		return fmt.Errorf("%w: resolution %q", common.ErrInvalidArgument, t.Resolution)
	}
	if _, err := common.EnumerateDates(t.StartDate, t.EndDate); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidArgument, err)
	}
	if err := common.ValidateCoordinates(t.BBox, t.Zoom); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidArgument, err)
	}
	switch t.Video.OutputFormat {
	case "mp4", "avi", "gif":
	default:
		return fmt.Errorf("%w: output format %q", common.ErrInvalidArgument, t.Video.OutputFormat)
	}
	return nil
}

// SaveToFile persists the task to a JSON file named after its ID
func (t *AnimationTask) SaveToFile(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create task directory: %w", err)
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	path := filepath.Join(dir, t.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}

	return nil
}

// LoadFromFile loads a task from its JSON file
func LoadFromFile(path string) (*AnimationTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	var task AnimationTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

// DeleteFile removes the task file from disk
func (t *AnimationTask) DeleteFile(dir string) error {
	return os.Remove(filepath.Join(dir, t.ID+".json"))
}

// MarkStarted marks the task as running
func (t *AnimationTask) MarkStarted() {
	t.StartedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusRunning
}

// MarkCompleted marks the task as completed with its output path
func (t *AnimationTask) MarkCompleted(outputPath string) {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusCompleted
	t.OutputPath = outputPath
	t.Progress.Percent = 100
}

// MarkFailed marks the task as failed with an error
func (t *AnimationTask) MarkFailed(err error) {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusFailed
	if err != nil {
		t.Error = err.Error()
	}
}

// MarkCancelled marks the task as cancelled
func (t *AnimationTask) MarkCancelled() {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusCancelled
}

// Finished reports whether the task reached a terminal status
func (t *AnimationTask) Finished() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}
