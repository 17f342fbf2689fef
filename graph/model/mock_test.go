package model

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMockChatModel_Responses(t *testing.T) {
	t.Run("returns configured responses in order", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "first"}, {Text: "second"}}}

		for _, want := range []string{"first", "second", "second"} {
			out, err := mock.Chat(context.Background(), []Message{User("hi")}, nil)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if out.Text != want {
				t.Errorf("expected %q, got %q", want, out.Text)
			}
		}
	})

	t.Run("returns empty response when no responses configured", func(t *testing.T) {
		mock := &MockChatModel{}
		out, err := mock.Chat(context.Background(), []Message{User("hi")}, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out.Text != "" || len(out.ToolCalls) != 0 {
			t.Errorf("expected empty response, got %+v", out)
		}
	})

	t.Run("Respond overrides the script", func(t *testing.T) {
		mock := &MockChatModel{
			Responses: []ChatOut{{Text: "scripted"}},
			Respond: func(messages []Message, _ []ToolSpec) (ChatOut, error) {
				return ChatOut{Text: "echo: " + messages[len(messages)-1].Content}, nil
			},
		}
		out, _ := mock.Chat(context.Background(), []Message{User("ping")}, nil)
		if out.Text != "echo: ping" {
			t.Errorf("unexpected text %q", out.Text)
		}
	})
}

func TestMockChatModel_Errors(t *testing.T) {
	t.Run("returns configured error and still records the call", func(t *testing.T) {
		boom := errors.New("model unavailable")
		mock := &MockChatModel{Err: boom}

		_, err := mock.Chat(context.Background(), []Message{User("hi")}, nil)
		if !errors.Is(err, boom) {
			t.Errorf("expected %v, got %v", boom, err)
		}
		if mock.CallCount() != 1 {
			t.Errorf("expected 1 recorded call, got %d", mock.CallCount())
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "unused"}}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := mock.Chat(ctx, []Message{User("hi")}, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if mock.CallCount() != 0 {
			t.Errorf("cancelled calls should not be recorded, got %d", mock.CallCount())
		}
	})
}

func TestMockChatModel_CallHistory(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}
	tools := []ToolSpec{{Name: "calculate_metrics"}}

	msgs := []Message{System("sys"), User("question")}
	_, _ = mock.Chat(context.Background(), msgs, tools)
	msgs[1].Content = "mutated"

	call, ok := mock.LastCall()
	if !ok {
		t.Fatal("expected a recorded call")
	}
	if call.Messages[1].Content != "question" {
		t.Errorf("recorded messages should be a copy, got %q", call.Messages[1].Content)
	}
	if len(call.Tools) != 1 || call.Tools[0].Name != "calculate_metrics" {
		t.Errorf("unexpected tools %+v", call.Tools)
	}

	mock.Reset()
	if mock.CallCount() != 0 {
		t.Errorf("expected 0 calls after reset, got %d", mock.CallCount())
	}
	if _, ok := mock.LastCall(); ok {
		t.Error("expected no last call after reset")
	}
}

func TestMockChatModel_Concurrent(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = mock.Chat(context.Background(), []Message{User("hi")}, nil)
		}()
	}
	wg.Wait()

	if mock.CallCount() != 20 {
		t.Errorf("expected 20 calls, got %d", mock.CallCount())
	}
}
