package admin

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	"github.com/aevon-lab/eventcore/internal/contract"
	httperr "github.com/aevon-lab/eventcore/internal/core/errors"
	"github.com/aevon-lab/eventcore/internal/monitoring"
	"github.com/aevon-lab/eventcore/internal/replay"
	"github.com/aevon-lab/eventcore/internal/workflow/scoring"
	"github.com/gin-gonic/gin"
)

// replayRequest is the JSON body of the replay endpoints. Every field is optional.
type replayRequest struct {
	FromVersion   int64     `json:"from_version"`
	ToVersion     int64     `json:"to_version"`
	FromTimestamp time.Time `json:"from_timestamp"`
	ToTimestamp   time.Time `json:"to_timestamp"`
	EventType     string    `json:"event_type"`
	AggregateType string    `json:"aggregate_type"`
	BatchSize     int       `json:"batch_size"`
	// Delay is a Go duration string, e.g. "50ms".
	Delay        string `json:"delay"`
	Workers      int    `json:"workers"`
	FromSnapshot bool   `json:"from_snapshot"`
}

func (r replayRequest) options() (replay.Options, error) {
	opts := replay.Options{
		FromVersion:   r.FromVersion,
		ToVersion:     r.ToVersion,
		FromTimestamp: r.FromTimestamp,
		ToTimestamp:   r.ToTimestamp,
		EventType:     r.EventType,
		AggregateType: r.AggregateType,
		BatchSize:     r.BatchSize,
		Workers:       r.Workers,
	}
	if r.Delay != "" {
		d, err := time.ParseDuration(r.Delay)
		if err != nil {
			return opts, httperr.Validationf("delay", "invalid duration %q", r.Delay)
		}
		opts.Delay = d
	}
	return opts, nil
}

type replaySummary struct {
	Aggregates     int             `json:"aggregates"`
	Succeeded      int             `json:"succeeded"`
	Failed         int             `json:"failed"`
	EventsReplayed int64           `json:"events_replayed"`
	Results        []replay.Result `json:"results"`
}

func summarize(results []replay.Result) replaySummary {
	out := replaySummary{Aggregates: len(results), Results: results}
	if out.Results == nil {
		out.Results = []replay.Result{}
	}
	for _, r := range results {
		out.EventsReplayed += int64(r.EventsReplayed)
		if r.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return out
}

// bindOptional decodes a JSON body into dst; an empty body leaves dst untouched.
func bindOptional(c *gin.Context, dst interface{}) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeError(c *gin.Context, err error) {
	status, resp := httperr.ToResponse(err)
	if status == http.StatusInternalServerError {
		slog.Error("[Admin] Request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
	}
	c.JSON(status, resp)
}

func writeInvalidJSON(c *gin.Context) {
	c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
		ErrorType: httperr.HttpInvalidJsonError,
		Message:   "Invalid JSON body",
	})
}

func writeNotConfigured(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, httperr.ErrorResponse{
		ErrorType: httperr.HttpNotFoundError,
		Message:   what + " are not enabled",
	})
}

func (s *Service) ListDeadLettersHandler(c *gin.Context) {
	letters := s.deps.DeadLetters.DeadLetters()
	if letters == nil {
		letters = []v1.DeadLetter{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(letters), "dead_letters": letters})
}

func (s *Service) RetryDeadLettersHandler(c *gin.Context) {
	report, err := s.deps.DeadLetters.RetryDeadLetters(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Service) DiscardDeadLetterHandler(c *gin.Context) {
	id := c.Param("id")
	found, err := s.deps.DeadLetters.DiscardDeadLetter(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, &httperr.NotFoundError{Resource: "dead letter", Key: id})
		return
	}
	slog.Info("[Admin] Dead letter discarded", "dead_letter_id", id)
	c.Status(http.StatusNoContent)
}

func (s *Service) BusMetricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.DeadLetters.Metrics())
}

// ListSagasHandler lists the active set, or every saga in ?state= when given.
func (s *Service) ListSagasHandler(c *gin.Context) {
	raw := c.Query("state")
	if raw == "" {
		active := s.deps.Sagas.ActiveSagas()
		if active == nil {
			active = []v1.SagaRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"count": len(active), "sagas": active})
		return
	}

	state := v1.SagaStatus(strings.ToUpper(raw))
	if !knownState(state) {
		writeError(c, httperr.Validationf("state", "unknown saga state %q", raw))
		return
	}
	records, err := s.deps.Sagas.FindByState(c.Request.Context(), state)
	if err != nil {
		writeError(c, err)
		return
	}
	if records == nil {
		records = []*v1.SagaRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "sagas": records})
}

func knownState(s v1.SagaStatus) bool {
	switch s {
	case v1.SagaStarted, v1.SagaProcessing, v1.SagaCompleted, v1.SagaCompensating, v1.SagaCompensated, v1.SagaFailed:
		return true
	}
	return false
}

func (s *Service) GetSagaHandler(c *gin.Context) {
	record, err := s.deps.Sagas.GetSagaState(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Service) RetryFailedSagasHandler(c *gin.Context) {
	results, err := s.deps.Sagas.RetryFailedSagas(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(results), "results": results})
}

// StartScoringHandler runs one scoring saga to its end. A compensated or
// failed run still answers 200 with the final record and the step error.
func (s *Service) StartScoringHandler(c *gin.Context) {
	if s.deps.Scoring == nil {
		writeNotConfigured(c, "scoring workflows")
		return
	}

	var req scoring.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	sg, err := s.deps.Scoring.NewSaga(req)
	if err != nil {
		writeError(c, err)
		return
	}

	runErr := s.deps.Sagas.StartSaga(c.Request.Context(), sg)
	record, err := s.deps.Sagas.GetSagaState(c.Request.Context(), sg.ID())
	if err != nil {
		writeError(c, err)
		return
	}

	body := gin.H{"saga": record}
	status := http.StatusCreated
	if runErr != nil {
		body["error"] = runErr.Error()
		status = http.StatusOK
	}
	c.JSON(status, body)
}

func (s *Service) replayOptions(c *gin.Context) (replayRequest, replay.Options, bool) {
	var req replayRequest
	if err := bindOptional(c, &req); err != nil {
		writeInvalidJSON(c)
		return req, replay.Options{}, false
	}
	opts, err := req.options()
	if err != nil {
		writeError(c, err)
		return req, opts, false
	}
	return req, opts, true
}

func (s *Service) ReplayAggregateHandler(c *gin.Context) {
	req, opts, ok := s.replayOptions(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	id, typ := c.Param("aggregate_id"), c.Param("aggregate_type")

	var (
		result *replay.Result
		err    error
	)
	if req.FromSnapshot {
		result, err = s.deps.Replay.ReplayFromSnapshot(ctx, id, typ, opts)
	} else {
		result, err = s.deps.Replay.ReplayForAggregate(ctx, id, typ, opts)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Service) ReplayEventTypeHandler(c *gin.Context) {
	_, opts, ok := s.replayOptions(c)
	if !ok {
		return
	}
	results, err := s.deps.Replay.ReplayByEventType(c.Request.Context(), c.Param("event_type"), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summarize(results))
}

func (s *Service) ReplayAllHandler(c *gin.Context) {
	_, opts, ok := s.replayOptions(c)
	if !ok {
		return
	}
	results, err := s.deps.Replay.ReplayAll(c.Request.Context(), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summarize(results))
}

type snapshotRequest struct {
	Data map[string]interface{} `json:"data"`
}

func (s *Service) CreateSnapshotHandler(c *gin.Context) {
	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	snap, err := s.deps.Snapshots.CreateSnapshot(c.Request.Context(),
		c.Param("aggregate_id"), c.Param("aggregate_type"), req.Data)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (s *Service) GetSnapshotHandler(c *gin.Context) {
	snap, err := s.deps.Snapshots.RestoreFromSnapshot(c.Request.Context(),
		c.Param("aggregate_id"), c.Param("aggregate_type"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Service) MetricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Metrics.Collect(c.Request.Context()))
}

// HealthHandler answers 503 when the system is critical.
func (s *Service) HealthHandler(c *gin.Context) {
	m := s.deps.Metrics.Collect(c.Request.Context())
	status := http.StatusOK
	if m.Health.Status == monitoring.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, m.Health)
}

func (s *Service) ListContractsHandler(c *gin.Context) {
	if s.deps.Contracts == nil {
		writeNotConfigured(c, "payload contracts")
		return
	}
	contracts, err := s.deps.Contracts.List(c.Request.Context(), c.Query("event_type"))
	if err != nil {
		writeError(c, err)
		return
	}
	if contracts == nil {
		contracts = []*contract.Contract{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(contracts), "contracts": contracts})
}
