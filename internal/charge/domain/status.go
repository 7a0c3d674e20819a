package domain

// ChargeStatus is the internal lifecycle state of a payment attempt.
type ChargeStatus string

const (
	StatusCreated                ChargeStatus = "CREATED"
	StatusEnteringDetails        ChargeStatus = "ENTERING_DETAILS"
	StatusAuthorisationSubmitted ChargeStatus = "AUTHORISATION_SUBMITTED"
	StatusAuthorisationSuccess   ChargeStatus = "AUTHORISATION_SUCCESS"
	StatusAuthorisationRejected  ChargeStatus = "AUTHORISATION_REJECTED"
	StatusAuthorisationError     ChargeStatus = "AUTHORISATION_ERROR"
	StatusCaptureApproved        ChargeStatus = "CAPTURE_APPROVED"
	StatusCaptureApprovedRetry   ChargeStatus = "CAPTURE_APPROVED_RETRY"
	StatusCaptureReady           ChargeStatus = "CAPTURE_READY"
	StatusCaptureSubmitted       ChargeStatus = "CAPTURE_SUBMITTED"
	StatusCaptured               ChargeStatus = "CAPTURED"
	StatusCaptureError           ChargeStatus = "CAPTURE_ERROR"
	StatusExpired                ChargeStatus = "EXPIRED"
	StatusSystemCancelled        ChargeStatus = "SYSTEM_CANCELLED"
	StatusUserCancelled          ChargeStatus = "USER_CANCELLED"
	StatusCancelError            ChargeStatus = "CANCEL_ERROR"
)

// ExternalStatus is the client-facing state derived from the internal status.
type ExternalStatus string

const (
	ExternalCreated   ExternalStatus = "created"
	ExternalStarted   ExternalStatus = "started"
	ExternalSubmitted ExternalStatus = "submitted"
	ExternalSuccess   ExternalStatus = "success"
	ExternalDeclined  ExternalStatus = "declined"
	ExternalCancelled ExternalStatus = "cancelled"
	ExternalExpired   ExternalStatus = "expired"
	ExternalError     ExternalStatus = "error"
)

var externalStatuses = map[ChargeStatus]ExternalStatus{
	StatusCreated:                ExternalCreated,
	StatusEnteringDetails:        ExternalStarted,
	StatusAuthorisationSubmitted: ExternalSubmitted,
	StatusAuthorisationSuccess:   ExternalSubmitted,
	StatusAuthorisationRejected:  ExternalDeclined,
	StatusAuthorisationError:     ExternalError,
	StatusCaptureApproved:        ExternalSuccess,
	StatusCaptureApprovedRetry:   ExternalSuccess,
	StatusCaptureReady:           ExternalSuccess,
	StatusCaptureSubmitted:       ExternalSuccess,
	StatusCaptured:               ExternalSuccess,
	StatusCaptureError:           ExternalError,
	StatusExpired:                ExternalExpired,
	StatusSystemCancelled:        ExternalCancelled,
	StatusUserCancelled:          ExternalCancelled,
	StatusCancelError:            ExternalError,
}

// External maps an internal status onto the public state set.
func (s ChargeStatus) External() ExternalStatus {
	if external, ok := externalStatuses[s]; ok {
		return external
	}
	return ExternalError
}

// Valid reports whether s is a member of the closed status enumeration.
func (s ChargeStatus) Valid() bool {
	_, ok := externalStatuses[s]
	return ok
}

// AllStatuses returns every member of the status enumeration.
func AllStatuses() []ChargeStatus {
	statuses := make([]ChargeStatus, 0, len(externalStatuses))
	for status := range externalStatuses {
		statuses = append(statuses, status)
	}
	return statuses
}
