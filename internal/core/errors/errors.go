package errors

import (
	stderrors "errors"
	"net/http"
)

const (
	HttpInternalError         = "internal_error"
	HttpInvalidJsonError      = "invalid_json"
	HttpValidationError       = "validation_failed"
	HttpConcurrencyError      = "concurrency_conflict"
	HttpNotFoundError         = "not_found"
	HttpContractNotFoundError = "contract_not_found"
)

// ErrorResponse is the error response body for every HTTP surface.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// ToResponse maps a domain error onto its HTTP status and response body.
// Unknown errors become a 500 with a generic message; the cause is never leaked.
func ToResponse(err error) (int, ErrorResponse) {
	var (
		validation  *ValidationError
		concurrency *ConcurrencyError
		notFound    *NotFoundError
	)
	switch {
	case stderrors.As(err, &validation):
		resp := ErrorResponse{ErrorType: HttpValidationError, Message: validation.Error()}
		if validation.Field == "metadata.schema_version" {
			resp.ErrorType = HttpContractNotFoundError
		}
		if len(validation.Details) > 0 {
			resp.Details = validation.Details
		}
		return http.StatusBadRequest, resp
	case stderrors.As(err, &concurrency):
		details := map[string]interface{}{
			"aggregate_id":   concurrency.AggregateID,
			"aggregate_type": concurrency.AggregateType,
			"version":        concurrency.Version,
		}
		if concurrency.Current >= 0 {
			details["current_version"] = concurrency.Current
		}
		return http.StatusConflict, ErrorResponse{
			ErrorType: HttpConcurrencyError,
			Message:   concurrency.Error(),
			Details:   details,
		}
	case stderrors.As(err, &notFound):
		return http.StatusNotFound, ErrorResponse{ErrorType: HttpNotFoundError, Message: notFound.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{ErrorType: HttpInternalError, Message: "Internal server error"}
	}
}
