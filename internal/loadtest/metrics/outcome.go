// Package metrics collects request outcomes for step load tests and derives
// rolling and final statistics from them.
package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// FailureReason tags why a request attempt did not succeed.
type FailureReason string

const (
	// ReasonNone marks a successful outcome.
	ReasonNone FailureReason = ""
	// ReasonStatus marks a response with a status other than 200.
	ReasonStatus FailureReason = "status"
	// ReasonTimeout marks an attempt that hit the request timeout.
	ReasonTimeout FailureReason = "timeout"
	// ReasonConnection marks a transport-level failure (refused, reset, DNS).
	ReasonConnection FailureReason = "connection_error"
	// ReasonInvalidBody marks a 200 response whose body failed validation.
	ReasonInvalidBody FailureReason = "invalid_body"
	// ReasonError marks any other failure.
	ReasonError FailureReason = "error"
)

// Outcome is the immutable result of one request attempt.
//
// Latency is always populated, including for failures: a timed-out attempt
// carries the wall time spent until the timeout fired.
type Outcome struct {
	IssuedAt   time.Time     `json:"issuedAt"`
	Latency    time.Duration `json:"latency"`
	StatusCode int           `json:"statusCode,omitempty"`
	Reason     FailureReason `json:"reason,omitempty"`
	WorkerID   int           `json:"workerId"`
	Pod        string        `json:"pod,omitempty"`
}

// NewResponseOutcome builds the outcome of an attempt that received an HTTP
// response. Only status 200 counts as success.
func NewResponseOutcome(issuedAt time.Time, latency time.Duration, status int) Outcome {
	o := Outcome{
		IssuedAt:   issuedAt,
		Latency:    latency,
		StatusCode: status,
	}
	if status != http.StatusOK {
		o.Reason = ReasonStatus
	}
	return o
}

// NewFailureOutcome builds the outcome of an attempt that failed without a
// usable response.
func NewFailureOutcome(issuedAt time.Time, latency time.Duration, reason FailureReason) Outcome {
	if reason == ReasonNone || reason == ReasonStatus {
		reason = ReasonError
	}
	return Outcome{
		IssuedAt: issuedAt,
		Latency:  latency,
		Reason:   reason,
	}
}

// IsSuccess reports whether the attempt succeeded.
func (o Outcome) IsSuccess() bool {
	return o.Reason == ReasonNone
}

// StatusKey returns the status histogram key: the numeric HTTP status for
// responses, otherwise the failure tag.
func (o Outcome) StatusKey() string {
	if o.Reason == ReasonNone || o.Reason == ReasonStatus {
		return strconv.Itoa(o.StatusCode)
	}
	return string(o.Reason)
}

// LatencyMillis returns the latency in fractional milliseconds.
func (o Outcome) LatencyMillis() float64 {
	return float64(o.Latency) / float64(time.Millisecond)
}

// CompletedAt returns when the attempt finished.
func (o Outcome) CompletedAt() time.Time {
	return o.IssuedAt.Add(o.Latency)
}
