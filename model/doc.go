// Package model defines the provider-neutral abstractions for talking to
// language models.
//
// A Model turns a Request (conversation transcript plus tool definitions)
// into a stream of Responses; the final, non-partial Response carries the
// assistant message, which either answers in text or requests tool calls.
// Chat drains a generation into that final Response for callers that do not
// stream.
//
// Providers (OpenAI and Azure OpenAI, Anthropic, Gemini) live in sub-packages
// so higher layers stay decoupled from vendor SDKs. MockModel scripts replies
// for tests and examples.
package model
