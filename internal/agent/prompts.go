package agent

import (
	"fmt"
	"strings"
)

// planningPrompt builds the prompt for one planning turn. The reasoning log
// is replayed verbatim; the guard critique, when present, is prepended so
// the model sees it before anything else.
func planningPrompt(in promptInput) string {
	var b strings.Builder
	if in.Critique != "" {
		b.WriteString(in.Critique)
		b.WriteString("\n\n")
	}
	b.WriteString("You are a workspace assistant that answers questions using retrieval tools.\n")
	if in.AgentPrompt != "" {
		b.WriteString(in.AgentPrompt)
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with a single JSON object, nothing else. Either:\n")
	b.WriteString(`  {"tool": "<name>", "arguments": {...}} to call a tool, or` + "\n")
	b.WriteString(`  {"answer": "<final answer>"} when you can answer.` + "\n")
	b.WriteString("Cite evidence inline with [n] markers referring to the numbered evidence below.\n")

	b.WriteString("\nAvailable tools:\n")
	b.WriteString(in.ToolCatalog)

	if in.History != "" {
		b.WriteString("\nConversation so far:\n")
		b.WriteString(in.History)
	}
	if in.Reasoning != "" {
		b.WriteString("\nYour progress this request:\n")
		b.WriteString(in.Reasoning)
	}
	if in.Evidence != "" {
		b.WriteString("\nEvidence gathered so far:\n")
		b.WriteString(in.Evidence)
	} else {
		b.WriteString("\nNo evidence gathered yet.\n")
	}

	b.WriteString("\nUser question: ")
	b.WriteString(in.Message)
	b.WriteString("\n")
	return b.String()
}

type promptInput struct {
	Message     string
	AgentPrompt string
	ToolCatalog string
	History     string
	Reasoning   string
	Evidence    string
	Critique    string
}

// synthesisPrompt asks for a strict JSON sufficiency verdict.
func synthesisPrompt(query, evidence string) string {
	return fmt.Sprintf(`Judge whether the evidence below is sufficient to answer the question.
Respond with a single JSON object, nothing else:
  {"synthesisState": "Complete" | "Partial" | "NotFound", "answer": "<answer if Complete>"}

Question: %s

Evidence:
%s
`, query, evidence)
}

// titlePrompt generates a short chat title for a new conversation.
func titlePrompt(message string) string {
	return fmt.Sprintf(`Write a title of at most six words for a conversation that starts with the message below.
Respond with the title only, no quotes.

Message: %s
`, message)
}

// bestEffortPrompt asks for a final answer from whatever evidence exists
// after the iteration budget is spent.
func bestEffortPrompt(query, evidence string) string {
	var b strings.Builder
	b.WriteString("Answer the question as well as possible with the evidence below. ")
	b.WriteString("If the evidence is insufficient, say what you found and what is missing. ")
	b.WriteString("Cite evidence inline with [n] markers.\n")
	b.WriteString("Respond with a single JSON object: {\"answer\": \"...\"}\n")
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nEvidence:\n")
	if evidence == "" {
		b.WriteString("(none)\n")
	} else {
		b.WriteString(evidence)
	}
	return b.String()
}
