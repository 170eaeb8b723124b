// Package protocol is the control channel between a batch worker process and
// the coordinator: one JSON message per line, every frame tagged with the
// originating batch id. Worker to coordinator frames flow over the worker's
// stdout; the single coordinator to worker frame (shutdown) flows over its
// stdin.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/google/uuid"
)

type Type string

const (
	TypeStarted     Type = "started"
	TypeProgress    Type = "progress"
	TypeJobProgress Type = "job-progress"
	TypeDone        Type = "done"
	TypeError       Type = "error"
	TypeShutdown    Type = "shutdown"
)

// JobProgress carries the terminal outcome of one job.
type JobProgress struct {
	ItemID int64  `json:"itemId"`
	Status string `json:"status"`
	Source string `json:"source"`
	Error  string `json:"error,omitempty"`
}

type Message struct {
	Type    Type         `json:"type"`
	BatchID uuid.UUID    `json:"batchId"`
	Message string       `json:"message,omitempty"`
	Job     *JobProgress `json:"job,omitempty"`
}

func Started(batchID uuid.UUID) Message {
	return Message{Type: TypeStarted, BatchID: batchID}
}

func Progress(batchID uuid.UUID, msg string) Message {
	return Message{Type: TypeProgress, BatchID: batchID, Message: msg}
}

func JobResult(batchID uuid.UUID, itemID int64, status, source, errText string) Message {
	return Message{
		Type:    TypeJobProgress,
		BatchID: batchID,
		Job:     &JobProgress{ItemID: itemID, Status: status, Source: source, Error: errText},
	}
}

func Done(batchID uuid.UUID, msg string) Message {
	return Message{Type: TypeDone, BatchID: batchID, Message: msg}
}

func Error(batchID uuid.UUID, msg string) Message {
	return Message{Type: TypeError, BatchID: batchID, Message: msg}
}

func Shutdown(batchID uuid.UUID) Message {
	return Message{Type: TypeShutdown, BatchID: batchID}
}

// Writer serializes frames onto one stream. Safe for concurrent use: pool
// tasks emit job-progress from many goroutines at once.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

func (w *Writer) Send(m Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(m)
}

// Reader consumes frames from a stream. Lines that are not valid frames are
// counted and skipped rather than failing the stream: a stray print on the
// worker's stdout must not take the control channel down.
type Reader struct {
	sc      *bufio.Scanner
	skipped int
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{sc: sc}
}

// Next returns the next frame, or io.EOF when the stream ends.
func (r *Reader) Next() (Message, error) {
	for r.sc.Scan() {
		line := bytes.TrimSpace(r.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil || m.Type == "" {
			r.skipped++
			continue
		}
		return m, nil
	}
	if err := r.sc.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

// Skipped reports how many non-frame lines were discarded so far.
func (r *Reader) Skipped() int {
	return r.skipped
}
