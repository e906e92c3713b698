// ABOUTME: Scripted demo responder exercising the full tool-update pipeline
// ABOUTME: Emits tool_start, progress_update, and tool_result envelopes per message

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/weft/wire"
)

// DemoResponder answers messages by running canned tools, emitting realtime
// envelopes for each step, so the whole update pipeline can be watched live
// without a real agent behind it.
type DemoResponder struct {
	publisher        Publisher
	progressInterval time.Duration
	progressSteps    int
	logger           *slog.Logger
}

// NewDemoResponder creates a DemoResponder emitting through the given
// publisher. progressSteps controls how many progress_updates each slow
// tool emits; progressInterval is the pause between them.
func NewDemoResponder(publisher Publisher, progressInterval time.Duration, progressSteps int, logger *slog.Logger) *DemoResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &DemoResponder{
		publisher:        publisher,
		progressInterval: progressInterval,
		progressSteps:    progressSteps,
		logger:           logger.With("component", "responder"),
	}
}

// OnMessage inspects the message for tool keywords and runs the matching
// tools, emitting envelopes as it goes.
func (d *DemoResponder) OnMessage(ctx context.Context, conversationID, replyID, message string) (string, error) {
	// Thinking updates carry no invocation id; clients deliver them to
	// listeners but never fold them.
	d.publisher.Emit(ctx, wire.Envelope{
		Kind:           "thinking",
		ConversationID: conversationID,
		Message:        "Thinking about how to respond...",
	})

	lower := strings.ToLower(message)
	var parts []string

	if strings.Contains(lower, "search") {
		result, err := d.runTool(ctx, conversationID, replyID, "search",
			map[string]any{"query": message}, true)
		if err != nil {
			return "", err
		}
		parts = append(parts, "Search finished: "+result)
	}
	if strings.Contains(lower, "calculate") || strings.Contains(lower, "math") {
		result, err := d.runTool(ctx, conversationID, replyID, "calculator",
			map[string]any{"expression": "256 * 14 + 42"}, false)
		if err != nil {
			return "", err
		}
		parts = append(parts, "Calculated: "+result)
	}
	if strings.Contains(lower, "weather") {
		result, err := d.runTool(ctx, conversationID, replyID, "weather",
			map[string]any{"location": "San Francisco"}, true)
		if err != nil {
			return "", err
		}
		parts = append(parts, "Weather looked up: "+result)
	}

	if len(parts) == 0 {
		return "Try mentioning search, calculate, or weather to watch tools run.", nil
	}
	return strings.Join(parts, "\n"), nil
}

// runTool emits the start/progress/result envelope sequence for one canned
// tool and returns a short summary for the reply text.
func (d *DemoResponder) runTool(ctx context.Context, conversationID, replyID, tool string, args map[string]any, slow bool) (string, error) {
	invocationID := tool + "-" + uuid.New().String()

	d.publisher.Emit(ctx, wire.Envelope{
		InvocationID:   invocationID,
		Kind:           wire.KindToolStart,
		ConversationID: conversationID,
		Tool:           tool,
		Args:           args,
		CorrelationID:  replyID,
	})

	if slow {
		for i := 1; i <= d.progressSteps; i++ {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(d.progressInterval):
			}
			progress := float64(i) / float64(d.progressSteps)
			d.publisher.Emit(ctx, wire.Envelope{
				InvocationID:   invocationID,
				Kind:           wire.KindProgress,
				ConversationID: conversationID,
				Progress:       progress,
				Message:        fmt.Sprintf("%s... %d%% complete", tool, int(progress*100)),
				CorrelationID:  replyID,
			})
		}
	}

	result, err := json.Marshal(d.toolResult(tool, args))
	if err != nil {
		return "", fmt.Errorf("marshaling %s result: %w", tool, err)
	}

	d.publisher.Emit(ctx, wire.Envelope{
		InvocationID:   invocationID,
		Kind:           wire.KindToolResult,
		ConversationID: conversationID,
		Tool:           tool,
		Result:         result,
		CorrelationID:  replyID,
	})

	d.logger.Debug("tool finished", "tool", tool, "invocation_id", invocationID)
	return string(result), nil
}

// toolResult fabricates a deterministic result payload per tool.
func (d *DemoResponder) toolResult(tool string, args map[string]any) map[string]any {
	switch tool {
	case "search":
		query, _ := args["query"].(string)
		return map[string]any{
			"query": query,
			"results": []string{
				"Result 1 for " + query,
				"Result 2 for " + query,
				"Result 3 for " + query,
			},
		}
	case "calculator":
		expression, _ := args["expression"].(string)
		return map[string]any{"expression": expression, "result": 3626}
	case "weather":
		location, _ := args["location"].(string)
		return map[string]any{
			"location":    location,
			"temperature": 68,
			"conditions":  "Partly Cloudy",
		}
	}
	return map[string]any{"tool": tool}
}
