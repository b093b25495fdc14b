package registry

// NonRetryableError marks a failure that will not go away on redelivery,
// such as a malformed payload or an unknown topic. Publishers dead-letter
// the row; consumers drop or dead-letter the message.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }
