package llm

import "strings"

// ContextPlaceholder marks where retrieved text goes in a system prompt.
const ContextPlaceholder = "{context}"

const DefaultSystemPrompt = "You are a medical assistant for question-answering tasks. " +
	"Use the following pieces of retrieved context to answer the question. " +
	"If you don't know the answer, say that you don't know. " +
	"Use three sentences maximum and keep the answer concise.\n\n" +
	ContextPlaceholder

// BuildSystemPrompt substitutes context into template. A template without
// the placeholder gets the context appended after a blank line.
func BuildSystemPrompt(template, context string) string {
	if template == "" {
		template = DefaultSystemPrompt
	}
	if strings.Contains(template, ContextPlaceholder) {
		return strings.ReplaceAll(template, ContextPlaceholder, context)
	}
	if context == "" {
		return template
	}
	return template + "\n\n" + context
}

// JoinContext concatenates retrieved contents the way a stuff-documents
// chain does.
func JoinContext(contents []string) string {
	return strings.Join(contents, "\n\n")
}
