package llm

import "fmt"

// NoKnowledgeAnswer is the fixed reply when the knowledge base cannot answer.
const NoKnowledgeAnswer = "I don’t have enough information in the knowledge base."

// KnowledgeSystemPrompt restricts answers to the retrieved context.
const KnowledgeSystemPrompt = `You are a helpful AI assistant for a financial advisory voice agent.
Answer the question ONLY using the provided historical data and context.
If the answer is not contained in the context, strictly respond with: "` + NoKnowledgeAnswer + `"
Keep answers short and factual. Never invent numbers.`

// KnowledgePrompt builds the user turn for a knowledge-base question.
func KnowledgePrompt(context, question string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s", context, question)
}
