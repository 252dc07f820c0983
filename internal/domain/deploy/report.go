package deploy

import (
	"time"

	"go.uber.org/multierr"
)

// Operator identifies who ran a deployment.
type Operator struct {
	// Hostname is the machine the deployment was started from.
	Hostname string `yaml:"hostname"`
	// Username is the local user that started it.
	Username string `yaml:"username"`
}

// String renders the operator as user@host.
func (o Operator) String() string {
	return o.Username + "@" + o.Hostname
}

// ServerOutcome is the terminal result of one server's sequence.
type ServerOutcome struct {
	// Host is the target server address.
	Host string `yaml:"host"`
	// Port is the SSH port used.
	Port int `yaml:"port"`
	// Status is success only when every fatal step passed.
	Status Status `yaml:"status"`
	// FailedStep is the step that ended the sequence, zero on success.
	FailedStep Step `yaml:"failed_step,omitempty"`
	// Steps lists every executed step in order.
	Steps []StepOutcome `yaml:"steps"`
	// URL is the effective service address, set on success.
	URL string `yaml:"url,omitempty"`
	// Warnings are non-fatal problems seen on this server.
	Warnings []string `yaml:"warnings,omitempty"`
	// Error is the rendered failure message.
	Error string `yaml:"error,omitempty"`
	// Err is the failure, nil on success.
	Err error `yaml:"-"`
}

// Record appends a step outcome.
func (o *ServerOutcome) Record(step Step, status Status, detail string) {
	o.Steps = append(o.Steps, StepOutcome{
		Step:   step,
		Status: status,
		Detail: detail,
	})
}

// Fail marks the sequence failed with err.
func (o *ServerOutcome) Fail(err error) {
	o.Status = StatusFailed
	o.FailedStep = FailedStep(err)
	o.Err = err
	o.Error = err.Error()
}

// Succeeded reports whether the server reached Done.
func (o *ServerOutcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// Report aggregates a whole deployment run.
type Report struct {
	// BuildID is the run identity.
	BuildID int64 `yaml:"build_id"`
	// Environment is the target environment name.
	Environment string `yaml:"environment"`
	// Operator is who started the run.
	Operator Operator `yaml:"operator"`
	// ArchiveChecksum is the base64 SHA-512 of the shipped archive.
	ArchiveChecksum string `yaml:"archive_checksum,omitempty"`
	// StartedAt is when the run began.
	StartedAt time.Time `yaml:"started_at"`
	// FinishedAt is when every server reached a terminal state.
	FinishedAt time.Time `yaml:"finished_at"`
	// Servers holds one outcome per configured server, in configuration order.
	Servers []*ServerOutcome `yaml:"servers"`
	// Warnings are non-fatal cleanup problems.
	Warnings []string `yaml:"warnings,omitempty"`
}

// Succeeded reports whether every server succeeded.
func (r *Report) Succeeded() bool {
	for _, server := range r.Servers {
		if !server.Succeeded() {
			return false
		}
	}

	return len(r.Servers) > 0
}

// Err combines the failures of all servers, nil when every server succeeded.
func (r *Report) Err() error {
	var err error

	for _, server := range r.Servers {
		if server.Err != nil {
			err = multierr.Append(err, server.Err)
		}
	}

	return err
}

// Failed returns the outcomes of failed servers.
func (r *Report) Failed() []*ServerOutcome {
	failed := make([]*ServerOutcome, 0, len(r.Servers))

	for _, server := range r.Servers {
		if !server.Succeeded() {
			failed = append(failed, server)
		}
	}

	return failed
}
