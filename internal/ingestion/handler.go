package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	httperr "github.com/aevon-lab/eventcore/internal/core/errors"
	"github.com/aevon-lab/eventcore/internal/core/storage"
	"github.com/gin-gonic/gin"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgBodyTooLarge   = "Request body exceeds maximum allowed size"
)

// PublishRequest is the JSON body of POST /v1/events. A zero Version appends
// after the aggregate's latest stored version; an empty EventID is generated.
type PublishRequest struct {
	EventID       string                 `json:"event_id"`
	AggregateID   string                 `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	EventType     string                 `json:"event_type"`
	Version       int64                  `json:"version"`
	Payload       map[string]interface{} `json:"payload"`
	Metadata      map[string]interface{} `json:"metadata"`
	CorrelationID string                 `json:"correlation_id"`
	CausationID   string                 `json:"causation_id"`
}

type batchRequest struct {
	Events []PublishRequest `json:"events"`
}

type publishedEvent struct {
	EventID       string `json:"event_id"`
	AggregateID   string `json:"aggregate_id"`
	AggregateType string `json:"aggregate_type"`
	Version       int64  `json:"version"`
}

// apiError carries the structured HTTP error shape from a helper back to the handler.
type apiError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *apiError) Error() string {
	return e.message
}

func fromDomain(err error) *apiError {
	status, resp := httperr.ToResponse(err)
	return &apiError{statusCode: status, errorType: resp.ErrorType, message: resp.Message, details: resp.Details}
}

// PublishHandler handles POST /v1/events.
func (s *Service) PublishHandler(c *gin.Context) {
	var req PublishRequest
	if aerr := s.bindBody(c, &req); aerr != nil {
		writeError(c, aerr)
		return
	}

	ctx := c.Request.Context()
	events, aerr := s.toEvents(ctx, []PublishRequest{req})
	if aerr != nil {
		writeError(c, aerr)
		return
	}
	evt := events[0]

	if err := s.bus.Publish(ctx, evt); err != nil {
		s.logPublishError(err, evt)
		writeError(c, fromDomain(err))
		return
	}

	slog.Info("[Ingestion] Event published",
		"event_id", evt.EventID,
		"event_type", evt.EventType,
		"aggregate_type", evt.AggregateType,
		"aggregate_id", evt.AggregateID,
		"version", evt.Version)

	c.JSON(http.StatusCreated, toPublished(evt))
}

// PublishBatchHandler handles POST /v1/events/batch. The batch is appended
// atomically: either every event is stored or none is.
func (s *Service) PublishBatchHandler(c *gin.Context) {
	var req batchRequest
	if aerr := s.bindBody(c, &req); aerr != nil {
		writeError(c, aerr)
		return
	}
	if len(req.Events) == 0 {
		writeError(c, fromDomain(httperr.Validationf("events", "must not be empty")))
		return
	}
	if len(req.Events) > s.maxBatchSize {
		writeError(c, fromDomain(httperr.Validationf("events", "batch of %d exceeds max %d", len(req.Events), s.maxBatchSize)))
		return
	}

	ctx := c.Request.Context()
	events, aerr := s.toEvents(ctx, req.Events)
	if aerr != nil {
		writeError(c, aerr)
		return
	}

	if err := s.bus.PublishBatch(ctx, events); err != nil {
		s.logPublishError(err, events[0])
		writeError(c, fromDomain(err))
		return
	}

	out := make([]publishedEvent, len(events))
	for i, evt := range events {
		out[i] = toPublished(evt)
	}
	slog.Info("[Ingestion] Event batch published", "count", len(events))
	c.JSON(http.StatusCreated, gin.H{"events": out})
}

// StreamHandler handles GET /v1/streams/:aggregate_type/:aggregate_id.
func (s *Service) StreamHandler(c *gin.Context) {
	var fromVersion int64
	if raw := c.Query("from_version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(c, fromDomain(httperr.Validationf("from_version", "must be an integer")))
			return
		}
		fromVersion = v
	}

	stream, err := s.events.GetStream(c.Request.Context(), c.Param("aggregate_id"), c.Param("aggregate_type"), fromVersion)
	if err != nil {
		writeError(c, fromDomain(err))
		return
	}
	c.JSON(http.StatusOK, stream)
}

// ListEventsHandler handles GET /v1/events with optional filters.
func (s *Service) ListEventsHandler(c *gin.Context) {
	filter, aerr := parseFilter(c)
	if aerr != nil {
		writeError(c, aerr)
		return
	}

	events, err := s.events.GetEvents(c.Request.Context(), filter)
	if err != nil {
		status, _ := httperr.ToResponse(err)
		if status == http.StatusInternalServerError {
			slog.Error("[Ingestion] Failed to query events", "error", err)
		}
		writeError(c, fromDomain(err))
		return
	}
	if events == nil {
		events = []*v1.StoredEvent{}
	}
	c.JSON(http.StatusOK, events)
}

func parseFilter(c *gin.Context) (storage.EventFilter, *apiError) {
	filter := storage.EventFilter{
		AggregateID:   c.Query("aggregate_id"),
		AggregateType: c.Query("aggregate_type"),
		EventType:     c.Query("event_type"),
		CorrelationID: c.Query("correlation_id"),
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	}
	for _, p := range ints {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fromDomain(httperr.Validationf(p.name, "must be an integer"))
		}
		*p.dst = v
	}

	times := []struct {
		name string
		dst  *time.Time
	}{
		{"from", &filter.FromTimestamp},
		{"to", &filter.ToTimestamp},
	}
	for _, p := range times {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fromDomain(httperr.Validationf(p.name, "must be RFC3339"))
		}
		*p.dst = t
	}
	return filter, nil
}

// bindBody reads at most maxBodySizeBytes and decodes it into dst.
func (s *Service) bindBody(c *gin.Context, dst interface{}) *apiError {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("[Ingestion] Failed to read request body", "error", err)
		return &apiError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("[Ingestion] Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return &apiError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgBodyTooLarge,
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	dec := json.NewDecoder(bytes.NewReader(bodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		slog.Warn("[Ingestion] Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return &apiError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}
	return nil
}

// toEvents builds domain events, assigning versions to requests that left
// them zero. Within one batch each aggregate continues from its previous event.
func (s *Service) toEvents(ctx context.Context, reqs []PublishRequest) ([]v1.DomainEvent, *apiError) {
	type aggKey struct{ id, typ string }
	next := make(map[aggKey]int64)

	events := make([]v1.DomainEvent, 0, len(reqs))
	for _, req := range reqs {
		key := aggKey{req.AggregateID, req.AggregateType}
		version := req.Version
		if version == 0 && req.AggregateID != "" && req.AggregateType != "" {
			prev, ok := next[key]
			if !ok {
				latest, err := s.events.GetLatestVersion(ctx, req.AggregateID, req.AggregateType)
				if err != nil {
					slog.Error("[Ingestion] Failed to read latest version",
						"aggregate_type", req.AggregateType,
						"aggregate_id", req.AggregateID,
						"error", err)
					return nil, fromDomain(err)
				}
				prev = latest
			}
			version = prev + 1
		}
		next[key] = version

		opts := []v1.EventOption{
			v1.WithMetadata(normalizeNumbers(req.Metadata)),
			v1.WithCorrelation(req.CorrelationID),
			v1.WithCausation(req.CausationID),
		}
		evt := v1.NewDomainEvent(req.AggregateType, req.AggregateID, req.EventType, version,
			normalizeNumbers(req.Payload), opts...)
		if req.EventID != "" {
			evt.EventID = req.EventID
		}
		if err := evt.Validate(); err != nil {
			return nil, fromDomain(&httperr.ValidationError{Message: err.Error()})
		}
		events = append(events, evt)
	}
	return events, nil
}

func (s *Service) logPublishError(err error, evt v1.DomainEvent) {
	status, _ := httperr.ToResponse(err)
	attrs := []any{
		"event_id", evt.EventID,
		"event_type", evt.EventType,
		"aggregate_type", evt.AggregateType,
		"aggregate_id", evt.AggregateID,
		"version", evt.Version,
		"error", err,
	}
	if status == http.StatusInternalServerError {
		slog.Error("[Ingestion] Failed to publish event", attrs...)
		return
	}
	slog.Warn("[Ingestion] Event rejected", attrs...)
}

// normalizeNumbers turns json.Number values into int64 where integral,
// float64 otherwise, so payloads look the same as ones built in code.
func normalizeNumbers(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		return normalizeNumbers(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

func toPublished(evt v1.DomainEvent) publishedEvent {
	return publishedEvent{
		EventID:       evt.EventID,
		AggregateID:   evt.AggregateID,
		AggregateType: evt.AggregateType,
		Version:       evt.Version,
	}
}

// writeError serializes an apiError as the JSON HTTP response.
func writeError(c *gin.Context, err *apiError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
