package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes events to an io.Writer, one per line, as text or JSON.
//
// Text mode:
//
//	[node_end] sessionID=7f3c step=2 iteration=1 nodeID=VerifyHypotheses meta={"duration_ms":12}
//
// JSON mode:
//
//	{"sessionID":"7f3c","step":2,"iteration":1,"nodeID":"VerifyHypotheses","msg":"node_end","meta":{"duration_ms":12}}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer means os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		SessionID string                 `json:"sessionID"`
		Step      int                    `json:"step"`
		Iteration int                    `json:"iteration"`
		NodeID    string                 `json:"nodeID"`
		Msg       string                 `json:"msg"`
		Meta      map[string]interface{} `json:"meta"`
	}{
		SessionID: event.SessionID,
		Step:      event.Step,
		Iteration: event.Iteration,
		NodeID:    event.NodeID,
		Msg:       event.Msg,
		Meta:      event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}

	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] sessionID=%s step=%d iteration=%d nodeID=%s",
		event.Msg, event.SessionID, event.Step, event.Iteration, event.NodeID)

	if len(event.Meta) > 0 {
		metaJSON, err := json.Marshal(event.Meta)
		if err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}

	fmt.Fprint(l.writer, "\n")
}
