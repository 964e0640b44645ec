package training

import "fmt"

// TooSmallError reports a fit subset too small for the declared model's
// parameter count.
type TooSmallError struct {
	Got, Min int
}

func (e *TooSmallError) Error() string {
	return fmt.Sprintf("training set too small: %d fit examples, need at least %d", e.Got, e.Min)
}

// DivergedError reports a training run whose objective stopped
// improving, or blew up, before reaching a usable fit.
type DivergedError struct {
	Epoch  int
	Reason string
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("training diverged at epoch %d: %s", e.Epoch, e.Reason)
}
