package tool

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMockTool_Responses(t *testing.T) {
	t.Run("returns responses in order then repeats the last", func(t *testing.T) {
		mock := &MockTool{
			ToolName: "calculate_metrics",
			Responses: []map[string]interface{}{
				{"output": "1"},
				{"output": "2"},
			},
		}

		for _, want := range []string{"1", "2", "2"} {
			out, err := mock.Call(context.Background(), map[string]interface{}{"script": "x"})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if out["output"] != want {
				t.Errorf("expected %q, got %v", want, out["output"])
			}
		}
	})

	t.Run("returns empty map when no responses configured", func(t *testing.T) {
		mock := &MockTool{ToolName: "noop"}
		out, err := mock.Call(context.Background(), nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(out) != 0 {
			t.Errorf("expected empty map, got %v", out)
		}
	})
}

func TestMockTool_ErrorInjection(t *testing.T) {
	boom := errors.New("tool unavailable")
	mock := &MockTool{ToolName: "broken", Err: boom}

	if _, err := mock.Call(context.Background(), map[string]interface{}{"a": 1}); !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("failed calls should be recorded, got %d", mock.CallCount())
	}
	if mock.Calls[0].Input["a"] != 1 {
		t.Errorf("unexpected recorded input %v", mock.Calls[0].Input)
	}
}

func TestMockTool_ResetAndCancellation(t *testing.T) {
	mock := &MockTool{ToolName: "t", Responses: []map[string]interface{}{{"n": 1}, {"n": 2}}}
	_, _ = mock.Call(context.Background(), nil)
	mock.Reset()

	if mock.CallCount() != 0 {
		t.Errorf("expected 0 calls after reset, got %d", mock.CallCount())
	}
	out, _ := mock.Call(context.Background(), nil)
	if out["n"] != 1 {
		t.Errorf("reset should rewind responses, got %v", out)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mock.Call(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("cancelled calls should not be recorded, got %d", mock.CallCount())
	}
}

func TestMockTool_Concurrency(t *testing.T) {
	mock := &MockTool{ToolName: "t", Responses: []map[string]interface{}{{"ok": true}}}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = mock.Call(context.Background(), nil)
		}()
	}
	wg.Wait()

	if mock.CallCount() != 50 {
		t.Errorf("expected 50 calls, got %d", mock.CallCount())
	}
}
