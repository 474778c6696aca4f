package service

import "fmt"

// EncodeError reports the failure of a single rendition. It is absorbed by
// the orchestrator: one failed quality never aborts its siblings and never
// reaches the submitter.
type EncodeError struct {
	Quality string
	Cause   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Quality, e.Cause)
}

func (e *EncodeError) Unwrap() error {
	return e.Cause
}

// ManifestError is fatal to a job. A job whose master playlist cannot be
// written fails even when every rendition artifact exists on disk.
type ManifestError struct {
	Cause error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("master playlist: %v", e.Cause)
}

func (e *ManifestError) Unwrap() error {
	return e.Cause
}
