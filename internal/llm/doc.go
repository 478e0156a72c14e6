// Package llm defines the chat-completion interface behind the agent's
// chat skill. Provider adapters live in subpackages.
package llm
