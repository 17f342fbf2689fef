package tool

import (
	"context"
	"fmt"

	"github.com/dshills/loopgraph/graph/model"
)

// DefaultMaxRounds bounds how many tool round trips RunLoop allows before
// it asks the model for a final answer without tools.
const DefaultMaxRounds = 6

// Transcript is the result of a tool loop.
type Transcript struct {
	// Final is the reply that ended the loop.
	Final model.ChatOut

	// Messages is the full conversation, including the final reply.
	Messages []model.Message

	// Rounds counts model turns that requested tools.
	Rounds int
}

// RunLoop alternates model turns with tool invocations until the model
// answers without requesting a tool. After maxRounds tool turns the model
// is called once more with no tools on offer, which forces a text answer.
// A maxRounds below 1 uses DefaultMaxRounds.
//
// The input messages are not modified.
func RunLoop(ctx context.Context, m model.ChatModel, messages []model.Message, box *Toolbox, maxRounds int) (Transcript, error) {
	if m == nil {
		return Transcript{}, fmt.Errorf("tool loop: nil model")
	}
	if maxRounds < 1 {
		maxRounds = DefaultMaxRounds
	}

	convo := append([]model.Message(nil), messages...)
	specs := box.Specs()

	var tr Transcript
	for {
		offered := specs
		if tr.Rounds >= maxRounds {
			offered = nil
		}

		out, err := m.Chat(ctx, convo, offered)
		if err != nil {
			return Transcript{Messages: convo, Rounds: tr.Rounds}, err
		}
		convo = append(convo, model.Assistant(out))

		if len(out.ToolCalls) == 0 || offered == nil {
			tr.Final = out
			tr.Messages = convo
			return tr, nil
		}

		tr.Rounds++
		for _, call := range out.ToolCalls {
			if err := ctx.Err(); err != nil {
				return Transcript{Messages: convo, Rounds: tr.Rounds}, err
			}
			convo = append(convo, model.ToolResult(call, box.Invoke(ctx, call)))
		}
	}
}
