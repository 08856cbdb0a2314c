package engine

import "github.com/pingcap/errors"

// Errors returned by engine operations. They are annotated with context;
// match them with errors.Cause.
var (
	ErrUploadFailed = errors.New("asset upload failed")
	ErrSubmitFailed = errors.New("job submission failed")
	ErrFetchFailed  = errors.New("artifact fetch failed")
	ErrTimedOut     = errors.New("job did not complete before the poll deadline")
	ErrJobFailed    = errors.New("engine reported job failure")
	ErrNoOutput     = errors.New("job completed without an output artifact")
)
