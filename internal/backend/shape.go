package backend

import "github.com/nominalgeek/ai-router/internal/chatapi"

// PrimarySampling pins the local-reasoning backend's sampling parameters
// and strips the caller's max_tokens, matching the original service's
// stripped-max-tokens-either-way behavior in _handle_primary: the
// reasoning model manages its own budget better than a client guess.
func PrimarySampling(req *chatapi.ChatRequest) {
	temp := 1.0
	topP := 1.0
	req.Temperature = &temp
	req.TopP = &topP
	req.MaxTokens = nil
}

// EnforceXAIFloor raises req.MaxTokens to at least floor when the client
// requested less (or nothing), so cloud completions aren't truncated
// mid-thought by an unrelated client-side default.
func EnforceXAIFloor(req *chatapi.ChatRequest, floor int) {
	if req.MaxTokens == nil || *req.MaxTokens < floor {
		v := floor
		req.MaxTokens = &v
	}
}

// InjectSystemPrefix prepends text to the first system message, or
// inserts a new leading system message if none exists. Used for the
// primary-system-prompt and meta-system-prompt injections, which always
// apply to the very front of the conversation.
func InjectSystemPrefix(req *chatapi.ChatRequest, text string) {
	if text == "" {
		return
	}
	if i := req.FirstSystemIndex(); i >= 0 {
		req.Messages[i].Content = text + "\n\n" + req.Messages[i].Content
		return
	}
	req.Messages = append([]chatapi.Message{{Role: "system", Content: text}}, req.Messages...)
}

// InjectBeforeLastUser appends text to the first system message if one
// exists, otherwise inserts a new system message immediately before the
// last user message. This mirrors _handle_enrich's placement: enrichment
// context is framed as background the model already has, not as a
// leading instruction.
func InjectBeforeLastUser(req *chatapi.ChatRequest, text string) {
	if text == "" {
		return
	}
	if i := req.FirstSystemIndex(); i >= 0 {
		req.Messages[i].Content = req.Messages[i].Content + "\n\n" + text
		return
	}

	insertAt := len(req.Messages)
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			insertAt = i
			break
		}
	}
	msg := chatapi.Message{Role: "system", Content: text}
	req.Messages = append(req.Messages[:insertAt:insertAt],
		append([]chatapi.Message{msg}, req.Messages[insertAt:]...)...)
}
