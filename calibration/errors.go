package calibration

import "github.com/pkg/errors"

// Failure taxonomy of the batch phase. Every failure is fatal to the
// calibration run only; callers match with errors.Is to decide whether to
// suggest a recapture or a rerun.
var (
	// ErrEmptyDataset: no stored pairs at all.
	ErrEmptyDataset = errors.New("dataset is empty")

	// ErrInsufficientSamples: too few usable pairs to solve, either because
	// files are missing or because pattern corners could not be extracted.
	ErrInsufficientSamples = errors.New("insufficient calibration samples")

	// ErrSolverFailed: the numeric solve did not converge to a usable result.
	ErrSolverFailed = errors.New("calibration solver failed")

	// ErrRMSThreshold: the solve converged but the RMS reprojection error is
	// at or above the acceptance threshold.
	ErrRMSThreshold = errors.New("rms reprojection error above threshold")
)
