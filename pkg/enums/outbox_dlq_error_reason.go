package enums

// OutboxDLQErrorReason records why a settlement event stopped being retried.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	// OutboxDLQReasonSinkRejected means the broker refused the message outright,
	// e.g. a missing topic or an empty routing key.
	OutboxDLQReasonSinkRejected OutboxDLQErrorReason = "sink_rejected"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonSinkRejected:
		return true
	}
	return false
}
