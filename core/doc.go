// Package core provides the value types shared by every MengLong package:
//
//   - Message and Role, the unit of a conversation transcript
//   - ToolCall, a model's request to invoke a registered tool
//   - IterationLimiter, the counter bounding an agent run
//
// The package has no behavior beyond these types so that tool, conversation,
// model and agent can depend on it without depending on each other.
package core
