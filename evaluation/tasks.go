package evaluation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Task is one scripted interview.
type Task struct {
	ID            string
	InitialPrompt string

	// ContextPhase1 is what the interviewer knows while answering the
	// first round of verification questions.
	ContextPhase1 string

	// ContextPhase2 drives the follow-up challenge and the answers after it.
	ContextPhase2 string

	// IdealOutcome lists what a strong report covers.
	IdealOutcome string
}

var taskColumns = []string{"task_id", "initial_prompt", "context_phase_1", "context_phase_2", "ideal_outcome"}

// ReadTasks parses a task CSV. The header row names the columns, in any
// order; extra columns are ignored.
func ReadTasks(r io.Reader) ([]Task, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("task file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range taskColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("task file is missing column %q", name)
		}
	}

	var tasks []Task
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return tasks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read task: %w", err)
		}
		field := func(name string) string {
			if i := col[name]; i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		t := Task{
			ID:            field("task_id"),
			InitialPrompt: field("initial_prompt"),
			ContextPhase1: field("context_phase_1"),
			ContextPhase2: field("context_phase_2"),
			IdealOutcome:  field("ideal_outcome"),
		}
		if t.ID == "" {
			t.ID = strconv.Itoa(line - 1)
		}
		if t.InitialPrompt == "" {
			return nil, fmt.Errorf("task %s (line %d): initial_prompt is empty", t.ID, line)
		}
		tasks = append(tasks, t)
	}
}

// LoadTasks reads a task CSV file.
func LoadTasks(path string) ([]Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTasks(f)
}

// Result is the outcome of one task.
type Result struct {
	TaskID    string
	Score     int
	Reasoning string
	Report    string
}

// WriteResults writes results as CSV with the columns task_id, score,
// reasoning and final_report.
func WriteResults(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"task_id", "score", "reasoning", "final_report"}); err != nil {
		return err
	}
	for _, r := range results {
		if err := cw.Write([]string{r.TaskID, strconv.Itoa(r.Score), r.Reasoning, r.Report}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
