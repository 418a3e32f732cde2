// Package agents implements the six research stages on top of a chat model
// and a web searcher. Stages never touch storage or broadcasting; they only
// turn their input into a typed payload.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"ResearchPipeline/internal/ports"
	"ResearchPipeline/internal/stage"
)

// ErrNoJSON is returned when a model answer carries no JSON object.
var ErrNoJSON = errors.New("model answer contains no JSON object")

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// decodeAnswer pulls the outermost JSON object out of a free-text answer.
func decodeAnswer(answer string, v any) error {
	raw := jsonObject.FindString(answer)
	if raw == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	return nil
}

// ask runs a prompt, streaming through onChunk when it is set. The final
// chunk callback fires only after a successful stream.
func ask(ctx context.Context, model ports.ChatModel, req ports.ChatRequest, onChunk stage.ChunkFunc) (string, error) {
	if model == nil {
		return "", fmt.Errorf("chat model is not configured")
	}
	if onChunk == nil {
		return model.Complete(ctx, req)
	}
	answer, err := model.Stream(ctx, req, func(delta string) error {
		return onChunk(delta, false)
	})
	if err != nil {
		return answer, err
	}
	if err := onChunk("", true); err != nil {
		return answer, err
	}
	return answer, nil
}

func mustJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}
