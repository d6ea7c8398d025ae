package ai

import (
	"github.com/calque-ai/guidebot/pkg/calque"
)

// Agent creates a handler that sends its input to client as the prompt and
// streams the completion to its output.
//
//	flow := calque.NewFlow().
//		Use(prompt.Template(classifyPrompt)).
//		Use(ai.Agent(client, ai.WithTemperature(0)))
func Agent(client Client, opts ...AgentOption) calque.Handler {
	agentOpts := NewAgentOptions(opts...)
	return calque.HandlerFunc(func(r *calque.Request, w *calque.Response) error {
		return client.Chat(r, w, agentOpts)
	})
}
