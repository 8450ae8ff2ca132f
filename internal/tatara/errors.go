package tatara

import "fmt"

// ValidationError reports an unsupported or inconsistent
// architecture/flavor/version selection. It always carries a corrective hint.
type ValidationError struct {
	Msg  string
	Hint string
}

func (e *ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s (%s)", e.Msg, e.Hint)
	}
	return e.Msg
}

func validationErrorf(hint, format string, a ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, a...), Hint: hint}
}

// AcquisitionError reports a fatal failure while materializing sources or
// provisioning auxiliary build tools.
type AcquisitionError struct {
	Op  string
	Err error
}

func (e *AcquisitionError) Error() string { return fmt.Sprintf("acquisition failed: %s: %v", e.Op, e.Err) }
func (e *AcquisitionError) Unwrap() error { return e.Err }

// PatchError reports a failed patch application against the compiler tree.
type PatchError struct {
	Patch string
	Err   error
}

func (e *PatchError) Error() string { return fmt.Sprintf("patch %s failed: %v", e.Patch, e.Err) }
func (e *PatchError) Unwrap() error { return e.Err }

// StageError labels a configure/make/install failure with the pipeline stage
// it occurred in. Any StageError aborts the remaining pipeline.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// IntegrityError reports stale artifacts from a previous run. The pipeline
// refuses to proceed rather than silently overwrite them.
type IntegrityError struct {
	Path string
	Msg  string
}

func (e *IntegrityError) Error() string { return fmt.Sprintf("%s: %s", e.Path, e.Msg) }
