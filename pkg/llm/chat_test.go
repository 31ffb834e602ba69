package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/medbot/pkg/llm"
)

// fakeModel records the last request and replies with a fixed answer.
type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
	options  llms.CallOptions
	empty    bool
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, opt := range options {
		opt(&m.options)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.empty {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func textOf(t *testing.T, msg llms.MessageContent) string {
	t.Helper()
	require.Len(t, msg.Parts, 1)
	part, ok := msg.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return part.Text
}

func TestNewWithConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  llm.ChatConfig
		wantErr bool
	}{
		{"ollama", llm.ChatConfig{Provider: "ollama", Model: "mistral", Temperature: 0.5, BaseURL: "http://localhost:1234"}, false},
		{"openai", llm.ChatConfig{Provider: "openai", APIKey: "sk-test"}, false},
		{"openai without key", llm.ChatConfig{Provider: "openai"}, true},
		{"bad temperature", llm.ChatConfig{Provider: "ollama", Temperature: 5}, true},
		{"negative tokens", llm.ChatConfig{Provider: "ollama", MaxTokens: -1}, true},
		{"unknown provider", llm.ChatConfig{Provider: "bard"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := llm.NewWithConfig(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, engine)
		})
	}
}

func TestGenerate(t *testing.T) {
	model := &fakeModel{reply: "Fever is usually caused by infection."}
	engine, err := llm.NewWithModel(model, llm.ChatConfig{Temperature: 0.2, MaxTokens: 256})
	require.NoError(t, err)

	answer, err := engine.Generate(context.Background(), "", "Fever is a symptom of infection.", "What causes fever?")
	require.NoError(t, err)
	assert.Equal(t, "Fever is usually caused by infection.", answer)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	system := textOf(t, model.messages[0])
	assert.Contains(t, system, "medical assistant")
	assert.Contains(t, system, "Fever is a symptom of infection.")
	assert.NotContains(t, system, llm.ContextPlaceholder)

	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, "What causes fever?", textOf(t, model.messages[1]))

	assert.Equal(t, 256, model.options.MaxTokens)
	assert.Equal(t, 0.2, model.options.Temperature)
}

func TestGenerateErrors(t *testing.T) {
	engine, err := llm.NewWithModel(&fakeModel{err: errors.New("rate limited")}, llm.ChatConfig{})
	require.NoError(t, err)
	_, err = engine.Generate(context.Background(), "sys", "", "q")
	assert.ErrorContains(t, err, "rate limited")

	engine, err = llm.NewWithModel(&fakeModel{empty: true}, llm.ChatConfig{})
	require.NoError(t, err)
	_, err = engine.Generate(context.Background(), "sys", "", "q")
	assert.ErrorContains(t, err, "no response")

	_, err = llm.NewWithModel(nil, llm.ChatConfig{})
	assert.Error(t, err)
}

func TestBuildSystemPrompt(t *testing.T) {
	tests := []struct {
		name     string
		template string
		context  string
		want     string
	}{
		{"placeholder", "Answer using:\n{context}", "ctx", "Answer using:\nctx"},
		{"appended", "Be brief.", "ctx", "Be brief.\n\nctx"},
		{"empty context", "Be brief.", "", "Be brief."},
		{"empty placeholder", "Use: {context}", "", "Use: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.BuildSystemPrompt(tt.template, tt.context))
		})
	}

	assert.Contains(t, llm.BuildSystemPrompt("", "X"), "X")
	assert.Equal(t, "a\n\nb", llm.JoinContext([]string{"a", "b"}))
}
