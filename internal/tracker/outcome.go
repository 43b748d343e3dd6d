package tracker

// Step names the pipeline stages in execution order.
type Step string

const (
	StepVisitor    Step = "visitor"
	StepResource   Step = "resource"
	StepDevice     Step = "device"
	StepGeo        Step = "geo"
	StepLocale     Step = "locale"
	StepReferrer   Step = "referrer"
	StepResolution Step = "resolution"
	StepSession    Step = "session"
	StepParams     Step = "params"
	StepView       Step = "view"
)

// SkipReason explains why a recorder intentionally did not write.
type SkipReason string

const (
	SkipBot           SkipReason = "bot"
	SkipExcludedIP    SkipReason = "excluded_ip"
	SkipDisabled      SkipReason = "feature_disabled"
	SkipEmptyValue    SkipReason = "empty_value"
	SkipMissingPrereq SkipReason = "missing_prerequisite"
	SkipContinuation  SkipReason = "session_continuation"
)

// Outcome is one recorder's result. A skip is a value, not an error: tests
// and callers can distinguish "skipped because X" from "failed".
type Outcome struct {
	Step    Step
	ID      uint
	Skipped bool
	Reason  SkipReason
	Err     error
}

func recorded(step Step, id uint) Outcome {
	return Outcome{Step: step, ID: id}
}

func skipped(step Step, reason SkipReason) Outcome {
	return Outcome{Step: step, Skipped: true, Reason: reason}
}

func failed(step Step, err error) Outcome {
	return Outcome{Step: step, Err: err}
}

// Find returns the outcome for a step, if present.
func Find(outcomes []Outcome, step Step) (Outcome, bool) {
	for _, o := range outcomes {
		if o.Step == step {
			return o, true
		}
	}
	return Outcome{}, false
}
