package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrTaskNotFound is returned when a task ID is not in the queue
var ErrTaskNotFound = errors.New("task not found")

// QueueState is the persisted queue ordering and run state
type QueueState struct {
	TaskOrder []string `json:"taskOrder"`
	IsRunning bool     `json:"isRunning"`
	IsPaused  bool     `json:"isPaused"`
}

// QueueStatus is a snapshot of the queue for status endpoints
type QueueStatus struct {
	IsRunning      bool   `json:"isRunning"`
	IsPaused       bool   `json:"isPaused"`
	CurrentTaskID  string `json:"currentTaskID"`
	TotalTasks     int    `json:"totalTasks"`
	CompletedTasks int    `json:"completedTasks"`
	PendingTasks   int    `json:"pendingTasks"`
}

// TaskExecutor runs one animation task to completion. The frame-building
// and encoding implementation lives in executor.go.
type TaskExecutor interface {
	ExecuteAnimationTask(ctx context.Context, task *AnimationTask, progressChan chan<- TaskProgress) error
}

// QueueManager owns the animation job queue. Tasks are persisted as JSON
// files so a restart picks up where the service left off.
type QueueManager struct {
	tasks       map[string]*AnimationTask
	taskOrder   []string
	mu          sync.RWMutex
	storagePath string

	isRunning    bool
	isPaused     bool
	workerActive bool
	currentTask  *AnimationTask

	stopWorker chan struct{}
	taskAdded  chan struct{}

	ctx        context.Context
	cancelFunc context.CancelFunc

	executor TaskExecutor

	onTaskComplete func(taskID string, success bool, err error)
}

// NewQueueManager creates a queue manager rooted at storagePath and loads
// any persisted tasks
func NewQueueManager(storagePath string) *QueueManager {
	ctx, cancel := context.WithCancel(context.Background())

	qm := &QueueManager{
		tasks:       make(map[string]*AnimationTask),
		taskOrder:   make([]string, 0),
		storagePath: storagePath,
		stopWorker:  make(chan struct{}),
		taskAdded:   make(chan struct{}, 1),
		ctx:         ctx,
		cancelFunc:  cancel,
	}

	if err := qm.loadState(); err != nil {
		log.Printf("[TaskQueue] Failed to load queue state: %v", err)
	}

	return qm
}

// SetExecutor sets the task executor
func (qm *QueueManager) SetExecutor(executor TaskExecutor) {
	qm.executor = executor
}

// SetOnTaskComplete sets the completion callback
func (qm *QueueManager) SetOnTaskComplete(callback func(taskID string, success bool, err error)) {
	qm.onTaskComplete = callback
}

func (qm *QueueManager) storagePaths() (queueFile, tasksDir string) {
	return filepath.Join(qm.storagePath, "queue.json"), filepath.Join(qm.storagePath, "tasks")
}

func (qm *QueueManager) loadState() error {
	queueFile, tasksDir := qm.storagePaths()

	if data, err := os.ReadFile(queueFile); err == nil {
		var state QueueState
		if err := json.Unmarshal(data, &state); err == nil {
			qm.taskOrder = state.TaskOrder
			qm.isPaused = state.IsPaused
			// isRunning is not restored; starting is an explicit call
		}
	}

	if entries, err := os.ReadDir(tasksDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
				continue
			}
			task, err := LoadFromFile(filepath.Join(tasksDir, entry.Name()))
			if err != nil {
				log.Printf("[TaskQueue] Failed to load task %s: %v", entry.Name(), err)
				continue
			}
			// A task that was mid-run when the service died restarts fresh
			if task.Status == TaskStatusRunning {
				task.Status = TaskStatusPending
			}
			qm.tasks[task.ID] = task
		}
	}

	validOrder := make([]string, 0, len(qm.taskOrder))
	for _, id := range qm.taskOrder {
		if _, exists := qm.tasks[id]; exists {
			validOrder = append(validOrder, id)
		}
	}
	qm.taskOrder = validOrder

	for id := range qm.tasks {
		found := false
		for _, orderedID := range qm.taskOrder {
			if orderedID == id {
				found = true
				break
			}
		}
		if !found {
			qm.taskOrder = append(qm.taskOrder, id)
		}
	}

	log.Printf("[TaskQueue] Loaded %d tasks from disk", len(qm.tasks))
	return nil
}

func (qm *QueueManager) saveState() error {
	queueFile, _ := qm.storagePaths()

	if err := os.MkdirAll(filepath.Dir(queueFile), 0755); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}

	state := QueueState{
		TaskOrder: qm.taskOrder,
		IsRunning: qm.isRunning,
		IsPaused:  qm.isPaused,
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}

	if err := os.WriteFile(queueFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write queue state: %w", err)
	}

	return nil
}

func (qm *QueueManager) saveTask(task *AnimationTask) error {
	_, tasksDir := qm.storagePaths()
	return task.SaveToFile(tasksDir)
}

// AddTask validates and enqueues a task
func (qm *QueueManager) AddTask(task *AnimationTask) error {
	if err := task.Validate(); err != nil {
		return err
	}

	qm.mu.Lock()
	defer qm.mu.Unlock()

	qm.tasks[task.ID] = task
	qm.taskOrder = append(qm.taskOrder, task.ID)

	if err := qm.saveTask(task); err != nil {
		return err
	}
	if err := qm.saveState(); err != nil {
		return err
	}

	select {
	case qm.taskAdded <- struct{}{}:
	default:
	}

	log.Printf("[TaskQueue] Added task: %s (%s)", task.Name, task.ID)
	return nil
}

// GetTask returns a task by ID
func (qm *QueueManager) GetTask(id string) (*AnimationTask, error) {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	task, exists := qm.tasks[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	return task, nil
}

// GetAllTasks returns every task in queue order
func (qm *QueueManager) GetAllTasks() []*AnimationTask {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	result := make([]*AnimationTask, 0, len(qm.taskOrder))
	for _, id := range qm.taskOrder {
		if task, exists := qm.tasks[id]; exists {
			result = append(result, task)
		}
	}

	return result
}

// DeleteTask removes a task that is not currently running
func (qm *QueueManager) DeleteTask(id string) error {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	task, exists := qm.tasks[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	if task.Status == TaskStatusRunning {
		return fmt.Errorf("cannot delete running task, cancel it first")
	}

	newOrder := make([]string, 0, len(qm.taskOrder)-1)
	for _, taskID := range qm.taskOrder {
		if taskID != id {
			newOrder = append(newOrder, taskID)
		}
	}
	qm.taskOrder = newOrder

	delete(qm.tasks, id)

	_, tasksDir := qm.storagePaths()
	task.DeleteFile(tasksDir)

	qm.saveState()

	log.Printf("[TaskQueue] Deleted task: %s", id)
	return nil
}

// CancelTask cancels a pending or running task
func (qm *QueueManager) CancelTask(id string) error {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	task, exists := qm.tasks[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	if task.Finished() {
		return fmt.Errorf("task already finished")
	}

	task.MarkCancelled()

	if qm.currentTask != nil && qm.currentTask.ID == id {
		qm.cancelFunc()
		qm.ctx, qm.cancelFunc = context.WithCancel(context.Background())
	}

	qm.saveTask(task)

	log.Printf("[TaskQueue] Cancelled task: %s", id)
	return nil
}

// StartQueue begins processing pending tasks
func (qm *QueueManager) StartQueue() error {
	qm.mu.Lock()

	if qm.isRunning && !qm.isPaused {
		qm.mu.Unlock()
		return fmt.Errorf("queue is already running")
	}

	qm.isRunning = true
	qm.isPaused = false
	// Resuming while the worker is still on its current task must not
	// spawn a second one; the existing worker picks the change up when
	// it loops.
	spawn := !qm.workerActive
	if spawn {
		qm.workerActive = true
	}
	qm.saveState()
	qm.mu.Unlock()

	if spawn {
		go qm.worker()
	}

	log.Printf("[TaskQueue] Queue started")
	return nil
}

// PauseQueue stops picking up new tasks after the current one finishes
func (qm *QueueManager) PauseQueue() error {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	if !qm.isRunning {
		return fmt.Errorf("queue is not running")
	}

	qm.isPaused = true
	qm.saveState()

	log.Printf("[TaskQueue] Queue paused (will stop after current task)")
	return nil
}

// StopQueue stops the queue and cancels the running task
func (qm *QueueManager) StopQueue() {
	qm.mu.Lock()
	qm.isRunning = false
	qm.isPaused = false
	qm.saveState()
	qm.mu.Unlock()

	qm.cancelFunc()
	qm.mu.Lock()
	qm.ctx, qm.cancelFunc = context.WithCancel(context.Background())
	qm.mu.Unlock()

	select {
	case qm.stopWorker <- struct{}{}:
	default:
	}

	log.Printf("[TaskQueue] Queue stopped")
}

// GetStatus returns a snapshot of the queue
func (qm *QueueManager) GetStatus() QueueStatus {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	completed := 0
	pending := 0
	for _, task := range qm.tasks {
		switch task.Status {
		case TaskStatusCompleted:
			completed++
		case TaskStatusPending:
			pending++
		}
	}

	currentTaskID := ""
	if qm.currentTask != nil {
		currentTaskID = qm.currentTask.ID
	}

	return QueueStatus{
		IsRunning:      qm.isRunning,
		IsPaused:       qm.isPaused,
		CurrentTaskID:  currentTaskID,
		TotalTasks:     len(qm.tasks),
		CompletedTasks: completed,
		PendingTasks:   pending,
	}
}

// worker drains the queue one task at a time, highest priority first
func (qm *QueueManager) worker() {
	log.Printf("[TaskQueue] Worker started")
	defer log.Printf("[TaskQueue] Worker stopped")

	for {
		select {
		case <-qm.stopWorker:
			qm.mu.Lock()
			qm.workerActive = false
			qm.mu.Unlock()
			return
		default:
		}

		qm.mu.Lock()
		if !qm.isRunning || qm.isPaused {
			qm.workerActive = false
			qm.mu.Unlock()
			return
		}

		var nextTask *AnimationTask
		for _, id := range qm.taskOrder {
			task := qm.tasks[id]
			if task.Status == TaskStatusPending {
				if nextTask == nil || task.Priority > nextTask.Priority {
					nextTask = task
				}
			}
		}

		if nextTask == nil {
			qm.isRunning = false
			qm.workerActive = false
			qm.saveState()
			qm.mu.Unlock()
			return
		}

		qm.currentTask = nextTask
		nextTask.MarkStarted()
		qm.saveTask(nextTask)
		taskCtx := qm.ctx
		qm.mu.Unlock()

		log.Printf("[TaskQueue] Executing task: %s (%s)", nextTask.Name, nextTask.ID)

		progressChan := make(chan TaskProgress, 10)
		progressDone := make(chan struct{})
		go func() {
			defer close(progressDone)
			for progress := range progressChan {
				qm.mu.Lock()
				nextTask.Progress = progress
				qm.saveTask(nextTask)
				qm.mu.Unlock()
			}
		}()

		var execErr error
		if qm.executor != nil {
			execErr = qm.executor.ExecuteAnimationTask(taskCtx, nextTask, progressChan)
		} else {
			execErr = fmt.Errorf("no executor configured")
		}
		close(progressChan)
		<-progressDone

		qm.mu.Lock()
		if execErr != nil {
			if taskCtx.Err() != nil {
				nextTask.MarkCancelled()
			} else {
				nextTask.MarkFailed(execErr)
				log.Printf("[TaskQueue] Task failed: %s - %v", nextTask.ID, execErr)
			}
		} else {
			nextTask.MarkCompleted(nextTask.OutputPath)
			log.Printf("[TaskQueue] Task completed: %s", nextTask.ID)
		}
		qm.saveTask(nextTask)
		qm.currentTask = nil

		// Fresh context for the next task
		qm.ctx, qm.cancelFunc = context.WithCancel(context.Background())
		qm.mu.Unlock()

		if qm.onTaskComplete != nil {
			qm.onTaskComplete(nextTask.ID, execErr == nil, execErr)
		}
	}
}

// SortByPriority reorders pending tasks by priority, highest first
func (qm *QueueManager) SortByPriority() {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	pendingTasks := make([]*AnimationTask, 0)
	nonPendingOrder := make([]string, 0)

	for _, id := range qm.taskOrder {
		task := qm.tasks[id]
		if task.Status == TaskStatusPending {
			pendingTasks = append(pendingTasks, task)
		} else {
			nonPendingOrder = append(nonPendingOrder, id)
		}
	}

	sort.Slice(pendingTasks, func(i, j int) bool {
		return pendingTasks[i].Priority > pendingTasks[j].Priority
	})

	newOrder := nonPendingOrder
	for _, task := range pendingTasks {
		newOrder = append(newOrder, task.ID)
	}
	qm.taskOrder = newOrder

	qm.saveState()
}

// ClearCompleted removes every finished task and its file
func (qm *QueueManager) ClearCompleted() {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	_, tasksDir := qm.storagePaths()

	newOrder := make([]string, 0)
	for _, id := range qm.taskOrder {
		task := qm.tasks[id]
		if task.Finished() {
			task.DeleteFile(tasksDir)
			delete(qm.tasks, id)
		} else {
			newOrder = append(newOrder, id)
		}
	}
	qm.taskOrder = newOrder

	qm.saveState()
	log.Printf("[TaskQueue] Cleared finished tasks")
}

// Close shuts down the queue manager
func (qm *QueueManager) Close() {
	qm.StopQueue()
}
