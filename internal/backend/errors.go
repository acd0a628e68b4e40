package backend

import (
	"errors"
	"fmt"
)

// Error is a failed interview-service call. Status is zero when the request
// never produced an HTTP response.
type Error struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Message != "" && e.Status != 0:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Status)
	default:
		return e.Op + ": failed"
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UserMessage is the text suitable for showing the candidate.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Status != 0 {
		return fmt.Sprintf("the interview service answered HTTP %d", e.Status)
	}
	return "the interview service is unreachable"
}

// StatusOf returns the HTTP status carried by err, or zero.
func StatusOf(err error) int {
	var be *Error
	if errors.As(err, &be) {
		return be.Status
	}
	return 0
}

// Message extracts a candidate-facing message from any error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) {
		return be.UserMessage()
	}
	return err.Error()
}
