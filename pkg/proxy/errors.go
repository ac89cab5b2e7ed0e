package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"mercator-hq/hermes/pkg/classifier"
	"mercator-hq/hermes/pkg/routing"
	"mercator-hq/hermes/pkg/telemetry/metrics"
	"mercator-hq/hermes/pkg/upstream"
)

// RequestError is a client-side parse or validation failure (400).
type RequestError struct {
	Message string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return e.Message
}

// Error kind strings used in the canonical error envelope. Kinds mirror
// the cause taxonomy, not Go types.
const (
	KindInvalidRequest          = "InvalidRequest"
	KindPolicyNotFound          = "PolicyNotFound"
	KindMissingPrompt           = "MissingPrompt"
	KindMissingModel            = "MissingModel"
	KindModelNotFound           = "ModelNotFound"
	KindClassifierUnavailable   = "ClassifierUnavailable"
	KindClassifierError         = "ClassifierError"
	KindClassifierMalformed     = "ClassifierMalformed"
	KindClassifierShapeMismatch = "ClassifierShapeMismatch"
	KindUpstreamUnavailable     = "UpstreamUnavailable"
	KindInternal                = "InternalError"
)

// RouterError is the canonical error carried to the HTTP boundary. It
// serializes as {"error":{"message","type","status"}}.
type RouterError struct {
	Status  int
	Kind    string
	Message string
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	return e.Message
}

// envelope is the JSON wire form of a RouterError.
type envelope struct {
	Error envelopeDetail `json:"error"`
}

type envelopeDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Status  int    `json:"status"`
}

// HandleError maps any error raised by the pipeline onto a RouterError.
// Upstream non-2xx responses never reach this function; they are passed
// through verbatim.
func HandleError(err error) *RouterError {
	var routerErr *RouterError
	if errors.As(err, &routerErr) {
		return routerErr
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return &RouterError{Status: http.StatusBadRequest, Kind: KindInvalidRequest, Message: reqErr.Message}
	}

	var policyNotFound *routing.PolicyNotFoundError
	if errors.As(err, &policyNotFound) {
		return &RouterError{Status: http.StatusBadRequest, Kind: KindPolicyNotFound, Message: policyNotFound.Error()}
	}

	var missingPrompt *routing.MissingPromptError
	if errors.As(err, &missingPrompt) {
		return &RouterError{Status: http.StatusBadRequest, Kind: KindMissingPrompt, Message: missingPrompt.Error()}
	}

	var missingModel *routing.MissingModelError
	if errors.As(err, &missingModel) {
		return &RouterError{Status: http.StatusBadRequest, Kind: KindMissingModel, Message: missingModel.Error()}
	}

	var modelNotFound *routing.ModelNotFoundError
	if errors.As(err, &modelNotFound) {
		return &RouterError{Status: http.StatusNotFound, Kind: KindModelNotFound, Message: modelNotFound.Error()}
	}

	var shapeMismatch *routing.ShapeMismatchError
	if errors.As(err, &shapeMismatch) {
		return &RouterError{Status: http.StatusInternalServerError, Kind: KindClassifierShapeMismatch, Message: shapeMismatch.Error()}
	}

	var clsUnavailable *classifier.UnavailableError
	if errors.As(err, &clsUnavailable) {
		return &RouterError{Status: http.StatusServiceUnavailable, Kind: KindClassifierUnavailable, Message: clsUnavailable.Error()}
	}

	var clsService *classifier.ServiceError
	if errors.As(err, &clsService) {
		// A classifier-side 5xx is preserved; anything else degrades to
		// a bad gateway because the fault sits between router and
		// classifier, not with the client.
		status := http.StatusBadGateway
		if clsService.Status >= 500 && clsService.Status <= 599 {
			status = clsService.Status
		}
		return &RouterError{Status: status, Kind: KindClassifierError, Message: clsService.Error()}
	}

	var clsMalformed *classifier.MalformedError
	if errors.As(err, &clsMalformed) {
		return &RouterError{Status: http.StatusBadGateway, Kind: KindClassifierMalformed, Message: clsMalformed.Error()}
	}

	var upUnavailable *upstream.UnavailableError
	if errors.As(err, &upUnavailable) {
		return &RouterError{Status: http.StatusServiceUnavailable, Kind: KindUpstreamUnavailable, Message: upUnavailable.Error()}
	}

	return &RouterError{Status: http.StatusInternalServerError, Kind: KindInternal, Message: err.Error()}
}

// MetricClass returns the request_failure_total label for an error.
// Client disconnects count under other; transport failures toward the
// upstream count under system; everything else classifies by status.
func MetricClass(err error) string {
	if errors.Is(err, context.Canceled) {
		return metrics.ErrorTypeOther
	}

	var upUnavailable *upstream.UnavailableError
	if errors.As(err, &upUnavailable) {
		return metrics.ErrorTypeSystem
	}

	return MetricClassForStatus(HandleError(err).Status)
}

// MetricClassForStatus buckets an HTTP status into a failure label.
func MetricClassForStatus(status int) string {
	switch {
	case status >= 400 && status < 500:
		return metrics.ErrorType4xx
	case status >= 500 && status < 600:
		return metrics.ErrorType5xx
	default:
		return metrics.ErrorTypeOther
	}
}

// WriteError writes the canonical error envelope.
func WriteError(w http.ResponseWriter, routerErr *RouterError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(routerErr.Status)
	_ = json.NewEncoder(w).Encode(envelope{
		Error: envelopeDetail{
			Message: routerErr.Message,
			Type:    routerErr.Kind,
			Status:  routerErr.Status,
		},
	})
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}
