package lanes

import "errors"

var (
	// ErrDisposed is returned for submissions to a disposed Registry.
	ErrDisposed = errors.New("lanes: registry disposed")
	// ErrLaneCancelled is returned for submissions to a lane whose cancellation was requested.
	ErrLaneCancelled = errors.New("lanes: lane cancelled")
	// ErrInvalidLane is returned when the AllLanes sentinel is used where a single lane is required.
	ErrInvalidLane = errors.New("lanes: invalid lane name")
	// ErrNilWork is returned when nil work is submitted.
	ErrNilWork = errors.New("lanes: nil work")
	// ErrDuplicateRequest is returned when a request ID was already accepted within the dedup TTL.
	ErrDuplicateRequest = errors.New("lanes: duplicate request")
)

// rejectReason maps a submission error to the metrics label used for it.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrDisposed):
		return "disposed"
	case errors.Is(err, ErrLaneCancelled):
		return "cancelled"
	case errors.Is(err, ErrInvalidLane):
		return "invalid_lane"
	case errors.Is(err, ErrNilWork):
		return "nil_work"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate"
	default:
		return "unknown"
	}
}
