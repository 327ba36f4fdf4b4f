// Package conversation manages the ordered message history sent to a model.
//
// A Manager enforces turn taking: user turns follow system or assistant
// turns, assistant turns follow user or tool turns, and tool turns answer an
// assistant turn that requested tools. Violations are programming errors and
// are reported as *TurnOrderError without modifying the history.
//
// A Dialogue bundles the three histories of a two-agent conversation.
package conversation
