package gen

import "go.uber.org/zap"

// State 生成状态机的状态.
type State string

const (
	StateRendering        State = "rendering"
	StateAwaitingResponse State = "awaiting_response"
	StateExtracting       State = "extracting"
	StateValidating       State = "validating"
	StateAsserting        State = "asserting"
	StateRetrying         State = "retrying"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Terminal reports whether s ends a generation.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// 尝试失败原因，同时用作指标标签与尝试日志的 outcome.
const (
	reasonValidation = "validation"
	reasonMissing    = "missing"
	reasonAssertion  = "assertion"
)

// 生成结果，用作 generations_total 的 outcome 标签.
const (
	outcomeSuccess      = "success"
	outcomeCached       = "cached"
	outcomeFailed       = "failed"
	outcomeTransport    = "transport_error"
	outcomeCanceled     = "canceled"
	outcomeInvalidInput = "invalid_input"
	outcomeRenderError  = "render_error"
)

func (r *run) transition(to State) {
	r.logger.Debug("state transition",
		zap.String("from", string(r.state)),
		zap.String("to", string(to)),
		zap.Int("attempt", r.attempt),
	)
	r.opts.Metrics.RecordStateTransition(string(r.state), string(to))
	r.state = to
}
