package deploy

// Step identifies one stage of the per-server deployment sequence.
type Step int

// Steps in the order they are executed against a server.
const (
	StepConnect Step = iota + 1
	StepVerifyRuntime
	StepUpload
	StepExtract
	StepVerifyDescriptor
	StepStopPrevious
	StepBuild
	StepRun
	StepVerifyRunning
)

// stepNames maps steps to the names used in logs and error messages.
//
//nolint:gochecknoglobals // Read-only lookup table.
var stepNames = map[Step]string{
	StepConnect:          "connect",
	StepVerifyRuntime:    "verify-runtime",
	StepUpload:           "upload",
	StepExtract:          "extract",
	StepVerifyDescriptor: "verify-descriptor",
	StepStopPrevious:     "stop-previous",
	StepBuild:            "build",
	StepRun:              "run",
	StepVerifyRunning:    "verify-running",
}

// Steps returns every step in execution order.
func Steps() []Step {
	return []Step{
		StepConnect,
		StepVerifyRuntime,
		StepUpload,
		StepExtract,
		StepVerifyDescriptor,
		StepStopPrevious,
		StepBuild,
		StepRun,
		StepVerifyRunning,
	}
}

// String returns the step name.
func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}

	return "unknown"
}

// MarshalYAML renders the step by name in reports.
func (s Step) MarshalYAML() (any, error) {
	return s.String(), nil
}

// Status is the terminal result of a step or of a whole server sequence.
type Status string

const (
	// StatusSuccess marks a completed step or server.
	StatusSuccess Status = "success"
	// StatusFailed marks a failed step or server.
	StatusFailed Status = "failed"
)

// StepOutcome records how a single step ended.
type StepOutcome struct {
	// Step is the stage this outcome belongs to.
	Step Step `yaml:"step"`
	// Status is success or failed.
	Status Status `yaml:"status"`
	// Detail is a short human-readable note (command output, error text).
	Detail string `yaml:"detail,omitempty"`
}
