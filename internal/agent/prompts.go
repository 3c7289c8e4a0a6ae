package agent

import (
	"fmt"
	"strings"
)

// DefaultDocumentSummary 知识库内容摘要，路由阶段据此判断问题是否相关
const DefaultDocumentSummary = "research paper content related or finance related content"

// NotRelevantAnswer 问题与知识库无关时的固定回复
const NotRelevantAnswer = "I can only answer questions related to the documents in the knowledge base."

// NoContextAnswer 检索不到任何片段时的固定回复
const NoContextAnswer = "The information is not available in the provided documents."

func routerPrompt(summary string) string {
	return strings.Join([]string{
		"You are a strict query router.",
		fmt.Sprintf("You have access to the following document summary: '%s'", summary),
		"Your goal is to determine if the user's query is relevant to this summary.",
		"RULES:",
		"1. If the query is related to the summary, output exactly: 'yes'",
		"2. If the query is unrelated, output exactly: 'no'",
		"3. Do not output markdown, explanations, or punctuation. Just the word.",
	}, "\n")
}

const enhancerPrompt = `I am an expert at refining search queries for vector databases.
You are a Query Rewriting Engine for a RAG (Retrieval Augmented Generation) system.
Your goal is to rewrite the user's raw input into a clear, semantic search query.
Rules:
1. Remove conversational filler (e.g., 'Hello', 'Please').
2. Expand ambiguous terms or acronyms if the context is obvious.
3. Focus on keywords that would likely appear in technical documentation.
4. Output ONLY the rewritten query. Do not add explanations.`

const responderPrompt = `I am an intelligent assistant designed to answer user queries accurately by retrieving and analyzing information from the provided knowledge base.
Formulate your answer based strictly on the retrieved context.
If the answer is found in the knowledge base, provide a clear and concise response, citing the source document or section where possible.
If the answer is NOT in the knowledge base, clearly state that the information is unavailable in the provided documents.
Do not hallucinate or add external information not found in the context.`

// formatContext 把检索到的片段编号并标注来源
func formatContext(sources []Source) string {
	var b strings.Builder
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] (%s, page %d)\n%s\n\n", i+1, s.Filename, s.Page, s.Content)
	}
	return b.String()
}

func responderInput(question string, sources []Source) string {
	return fmt.Sprintf("Context:\n%s\nQuestion: %s", formatContext(sources), question)
}
