package domain

// ChatRequest is a single system+user exchange with an OpenAI-compatible
// chat completion endpoint.
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
	// JSONObject forces response_format {"type":"json_object"}.
	JSONObject bool
}

// ChatChunk is one decoded server-sent delta. Either field may be empty.
type ChatChunk struct {
	Delta        string
	FinishReason string
}

type ChatChoice struct {
	Index        int    `json:"index"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletion is a decoded blocking response.
type ChatCompletion struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

func (c ChatCompletion) FirstMessageContent() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Content
}

func (c ChatCompletion) FirstFinishReason() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].FinishReason
}
