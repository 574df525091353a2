package inference

import "fmt"

// ConnectionError means the server could not be reached at all.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("model server unreachable: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ServerError means the server answered with a non-success status.
type ServerError struct {
	StatusCode int
	Status     string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("model server returned %s", e.Status)
}

// ProtocolError means the response could not be parsed into the expected
// reply shape.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected model server response: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TimeoutError means the request exceeded the client deadline. Without it a
// hung server would jam the single-flight dispatcher forever.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("model server request timed out: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }
