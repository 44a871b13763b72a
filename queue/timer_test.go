package queue

import (
	"fmt"
	"testing"
	"time"
)

func TestTimerQueuePushAndDue(t *testing.T) {
	tq := NewTimerQueue(10)
	now := time.Now()

	tasks := []*QueuedTask{
		{ID: "later", TriggerAt: now.Add(time.Hour)},
		{ID: "past", TriggerAt: now.Add(-time.Minute)},
		{ID: "way-past", TriggerAt: now.Add(-time.Hour)},
	}
	for _, task := range tasks {
		if err := tq.Push(task); err != nil {
			t.Fatalf("Push(%s) failed: %v", task.ID, err)
		}
	}
	if tq.Len() != 3 {
		t.Errorf("Unexpected length: got %d, want 3", tq.Len())
	}

	if peek := tq.Peek(); peek == nil || peek.ID != "way-past" {
		t.Errorf("Peek should return the earliest task, got %v", peek)
	}

	due := tq.DueTasks()
	if len(due) != 2 {
		t.Fatalf("Unexpected due count: got %d, want 2", len(due))
	}
	if due[0].ID != "way-past" || due[1].ID != "past" {
		t.Errorf("Due tasks out of trigger order: %v, %v", due[0].ID, due[1].ID)
	}
	if tq.Len() != 1 {
		t.Errorf("Due tasks should be removed, length %d", tq.Len())
	}

	// Nothing newly due: the second sweep is empty.
	if again := tq.DueTasks(); len(again) != 0 {
		t.Errorf("Second sweep should be empty, got %d tasks", len(again))
	}
}

func TestTimerQueueValidation(t *testing.T) {
	tq := NewTimerQueue(10)

	if err := tq.Push(nil); err != ErrInvalidTask {
		t.Errorf("Expected ErrInvalidTask for nil, got %v", err)
	}
	if err := tq.Push(&QueuedTask{TriggerAt: time.Now()}); err != ErrInvalidTask {
		t.Errorf("Expected ErrInvalidTask for empty id, got %v", err)
	}
	if err := tq.Push(&QueuedTask{ID: "x"}); err != ErrInvalidTask {
		t.Errorf("Expected ErrInvalidTask for zero trigger, got %v", err)
	}

	task := &QueuedTask{ID: "dup", TriggerAt: time.Now().Add(time.Minute)}
	if err := tq.Push(task); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := tq.Push(&QueuedTask{ID: "dup", TriggerAt: time.Now().Add(time.Minute)}); err != ErrTaskExists {
		t.Errorf("Expected ErrTaskExists, got %v", err)
	}
}

func TestTimerQueueCapacity(t *testing.T) {
	tq := NewTimerQueue(2)
	trigger := time.Now().Add(time.Minute)

	for i := 0; i < 2; i++ {
		if err := tq.Push(&QueuedTask{ID: fmt.Sprintf("t%d", i), TriggerAt: trigger}); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	if err := tq.Push(&QueuedTask{ID: "overflow", TriggerAt: trigger}); err != ErrQueueFull {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
}

func TestTimerQueueCancel(t *testing.T) {
	tq := NewTimerQueue(10)
	task := &QueuedTask{ID: "doomed", TriggerAt: time.Now().Add(-time.Second)}
	if err := tq.Push(task); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if !tq.Cancel("doomed") {
		t.Fatal("Cancel should succeed for a queued task")
	}
	if task.Status != TaskStatusCanceled {
		t.Errorf("Unexpected status: %v", task.Status)
	}
	if tq.Cancel("doomed") {
		t.Error("Cancel should fail for an already-removed task")
	}
	if due := tq.DueTasks(); len(due) != 0 {
		t.Errorf("Cancelled task must not come due, got %v", due)
	}
}

func TestTimerQueueNextDue(t *testing.T) {
	tq := NewTimerQueue(10)
	if tq.NextDue() != time.Duration(-1) {
		t.Error("Empty queue should report -1")
	}

	tq.Push(&QueuedTask{ID: "past", TriggerAt: time.Now().Add(-time.Second)})
	if tq.NextDue() != 0 {
		t.Error("Overdue task should report 0")
	}

	tq.Clear()
	tq.Push(&QueuedTask{ID: "future", TriggerAt: time.Now().Add(time.Hour)})
	if d := tq.NextDue(); d <= 0 || d > time.Hour {
		t.Errorf("Unexpected next due: %v", d)
	}
}
