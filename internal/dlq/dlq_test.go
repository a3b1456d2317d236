package dlq

import (
	"errors"
	"testing"
	"time"
)

func TestNewDeadLetterQueue(t *testing.T) {
	dir := t.TempDir()

	config := DLQConfig{
		Dir:     dir,
		MaxSize: 100,
		MaxAge:  1 * time.Hour,
	}

	dlq, err := NewDeadLetterQueue(config)
	if err != nil {
		t.Fatalf("NewDeadLetterQueue() error = %v", err)
	}
	defer dlq.Close()

	if dlq.Size() != 0 {
		t.Errorf("initial size = %d, want 0", dlq.Size())
	}
}

func TestDLQ_EnqueueDequeue(t *testing.T) {
	dir := t.TempDir()

	config := DLQConfig{
		Dir:     dir,
		MaxSize: 100,
	}

	dlq, err := NewDeadLetterQueue(config)
	if err != nil {
		t.Fatalf("NewDeadLetterQueue() error = %v", err)
	}
	defer dlq.Close()

	testErr := errors.New("test error")
	metadata := map[string]string{"key": "value"}

	if err := dlq.Enqueue("192.168.1.1 - - garbled", "app.log", "%{COMBINEDAPACHELOG}", testErr, metadata); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if dlq.Size() != 1 {
		t.Errorf("size = %d, want 1", dlq.Size())
	}

	entry, err := dlq.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}

	if entry.Line != "192.168.1.1 - - garbled" {
		t.Errorf("line = %s, want %s", entry.Line, "192.168.1.1 - - garbled")
	}

	if entry.Error != testErr.Error() {
		t.Errorf("error = %s, want %s", entry.Error, testErr.Error())
	}

	if dlq.Size() != 0 {
		t.Errorf("size after dequeue = %d, want 0", dlq.Size())
	}
}

func TestDLQ_MaxSize(t *testing.T) {
	dir := t.TempDir()

	config := DLQConfig{
		Dir:     dir,
		MaxSize: 5,
	}

	dlq, err := NewDeadLetterQueue(config)
	if err != nil {
		t.Fatalf("NewDeadLetterQueue() error = %v", err)
	}
	defer dlq.Close()

	for i := 0; i < 5; i++ {
		if err := dlq.Enqueue("line", "app.log", "%{WORD}", errors.New("error"), nil); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	err = dlq.Enqueue("line", "app.log", "%{WORD}", errors.New("error"), nil)
	if err != ErrDLQFull {
		t.Errorf("expected ErrDLQFull, got %v", err)
	}

	metrics := dlq.Metrics()
	if metrics.Dropped == 0 {
		t.Errorf("expected dropped count > 0")
	}
}

func TestDLQ_Peek(t *testing.T) {
	dir := t.TempDir()

	config := DLQConfig{
		Dir:     dir,
		MaxSize: 100,
	}

	dlq, err := NewDeadLetterQueue(config)
	if err != nil {
		t.Fatalf("NewDeadLetterQueue() error = %v", err)
	}
	defer dlq.Close()

	if err := dlq.Enqueue("test line", "app.log", "%{WORD}", errors.New("error"), nil); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	entry, err := dlq.Peek()
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}

	if entry.Line != "test line" {
		t.Errorf("line = %s, want %s", entry.Line, "test line")
	}

	if dlq.Size() != 1 {
		t.Errorf("size after peek = %d, want 1", dlq.Size())
	}
}

func TestDLQ_GetAll(t *testing.T) {
	dir := t.TempDir()

	config := DLQConfig{
		Dir:     dir,
		MaxSize: 100,
	}

	dlq, err := NewDeadLetterQueue(config)
	if err != nil {
		t.Fatalf("NewDeadLetterQueue() error = %v", err)
	}
	defer dlq.Close()

	for i := 0; i < 5; i++ {
		if err := dlq.Enqueue("line", "app.log", "%{WORD}", errors.New("error"), nil); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	entries, err := dlq.GetAll()
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}

	if len(entries) != 5 {
		t.Errorf("got %d entries, want 5", len(entries))
	}
}

func TestDLQ_Clear(t *testing.T) {
	dir := t.TempDir()

	config := DLQConfig{
		Dir:     dir,
		MaxSize: 100,
	}

	dlq, err := NewDeadLetterQueue(config)
	if err != nil {
		t.Fatalf("NewDeadLetterQueue() error = %v", err)
	}
	defer dlq.Close()

	for i := 0; i < 3; i++ {
		if err := dlq.Enqueue("line", "app.log", "%{WORD}", errors.New("error"), nil); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	if err := dlq.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	if dlq.Size() != 0 {
		t.Errorf("size after clear = %d, want 0", dlq.Size())
	}
}

func TestDLQ_Persistence(t *testing.T) {
	dir := t.TempDir()

	config := DLQConfig{
		Dir:           dir,
		MaxSize:       100,
		FlushInterval: 100 * time.Millisecond,
	}

	dlq1, err := NewDeadLetterQueue(config)
	if err != nil {
		t.Fatalf("NewDeadLetterQueue() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := dlq1.Enqueue("persistent line", "app.log", "%{WORD}", errors.New("error"), nil); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	if err := dlq1.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	dlq1.Close()

	dlq2, err := NewDeadLetterQueue(config)
	if err != nil {
		t.Fatalf("NewDeadLetterQueue() error = %v", err)
	}
	defer dlq2.Close()

	if dlq2.Size() != 3 {
		t.Errorf("size after reload = %d, want 3", dlq2.Size())
	}
}

func TestDLQ_Retry(t *testing.T) {
	dir := t.TempDir()

	config := DLQConfig{
		Dir:     dir,
		MaxSize: 100,
	}

	dlq, err := NewDeadLetterQueue(config)
	if err != nil {
		t.Fatalf("NewDeadLetterQueue() error = %v", err)
	}
	defer dlq.Close()

	if err := dlq.Enqueue("line", "app.log", "%{WORD}", errors.New("error"), nil); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	entry, _ := dlq.Dequeue()
	if entry.Retries != 0 {
		t.Errorf("initial retries = %d, want 0", entry.Retries)
	}

	if err := dlq.Retry(entry); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}

	retried, _ := dlq.Dequeue()
	if retried.Retries != 1 {
		t.Errorf("retries after retry = %d, want 1", retried.Retries)
	}
}

func TestDLQ_Metrics(t *testing.T) {
	dir := t.TempDir()

	config := DLQConfig{
		Dir:     dir,
		MaxSize: 100,
	}

	dlq, err := NewDeadLetterQueue(config)
	if err != nil {
		t.Fatalf("NewDeadLetterQueue() error = %v", err)
	}
	defer dlq.Close()

	for i := 0; i < 5; i++ {
		if err := dlq.Enqueue("line", "app.log", "%{WORD}", errors.New("error"), nil); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	metrics := dlq.Metrics()

	if metrics.Enqueued != 5 {
		t.Errorf("Enqueued = %d, want 5", metrics.Enqueued)
	}

	if metrics.CurrentSize != 5 {
		t.Errorf("CurrentSize = %d, want 5", metrics.CurrentSize)
	}

	utilization := metrics.Utilization()
	if utilization != 5.0 {
		t.Errorf("Utilization = %f, want 5.0", utilization)
	}

	for i := 0; i < 2; i++ {
		_, _ = dlq.Dequeue()
	}

	metrics = dlq.Metrics()

	if metrics.Dequeued != 2 {
		t.Errorf("Dequeued = %d, want 2", metrics.Dequeued)
	}

	if metrics.CurrentSize != 3 {
		t.Errorf("CurrentSize = %d, want 3", metrics.CurrentSize)
	}
}

func TestDLQ_Close(t *testing.T) {
	dir := t.TempDir()

	config := DLQConfig{
		Dir:     dir,
		MaxSize: 100,
	}

	dlq, err := NewDeadLetterQueue(config)
	if err != nil {
		t.Fatalf("NewDeadLetterQueue() error = %v", err)
	}

	if err := dlq.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	err = dlq.Enqueue("line", "app.log", "%{WORD}", errors.New("error"), nil)
	if err != ErrDLQClosed {
		t.Errorf("expected ErrDLQClosed, got %v", err)
	}

	err = dlq.Close()
	if err != ErrDLQClosed {
		t.Errorf("expected ErrDLQClosed on second close, got %v", err)
	}
}
