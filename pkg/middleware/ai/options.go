package ai

// AgentOptions holds per-call settings for a chat request.
type AgentOptions struct {
	// System is sent as a system message ahead of the prompt when set.
	System string

	// Temperature overrides the backend's configured temperature.
	Temperature *float32

	// MaxTokens overrides the backend's configured limit.
	MaxTokens *int
}

// AgentOption configures AgentOptions.
type AgentOption interface {
	Apply(*AgentOptions)
}

type systemOption struct{ system string }

func (o systemOption) Apply(opts *AgentOptions) { opts.System = o.system }

type temperatureOption struct{ t float32 }

func (o temperatureOption) Apply(opts *AgentOptions) { opts.Temperature = &o.t }

type maxTokensOption struct{ n int }

func (o maxTokensOption) Apply(opts *AgentOptions) { opts.MaxTokens = &o.n }

// WithSystem sets a system instruction.
func WithSystem(system string) AgentOption {
	return systemOption{system: system}
}

// WithTemperature pins the sampling temperature for this agent, e.g. 0 for
// classification.
func WithTemperature(t float32) AgentOption {
	return temperatureOption{t: t}
}

// WithMaxTokens bounds the completion length.
func WithMaxTokens(n int) AgentOption {
	return maxTokensOption{n: n}
}

// NewAgentOptions applies opts in order.
func NewAgentOptions(opts ...AgentOption) *AgentOptions {
	o := &AgentOptions{}
	for _, opt := range opts {
		opt.Apply(o)
	}
	return o
}
