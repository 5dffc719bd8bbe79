package cmd

import "fmt"

// ScanFailedError reports a scan that ended in the failed state.
type ScanFailedError struct {
	ID      string
	Message string
}

func (e *ScanFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("scan %s failed", e.ID)
	}
	return fmt.Sprintf("scan %s failed: %s", e.ID, e.Message)
}

// PatternNotFoundError indicates a pattern lookup failure.
type PatternNotFoundError struct {
	ID string
}

func (e *PatternNotFoundError) Error() string {
	return fmt.Sprintf("pattern %s not found", e.ID)
}
