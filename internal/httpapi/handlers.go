package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/archtrace/raceway/internal/analysis"
	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/graph"
	"github.com/archtrace/raceway/internal/ingest"
	"github.com/archtrace/raceway/internal/merge"
	"github.com/archtrace/raceway/internal/raceerr"
	"github.com/archtrace/raceway/internal/storage"
	"github.com/archtrace/raceway/internal/telemetry"
)

// Handlers bundles the dependencies every route closure needs, mirroring
// the discovery-service handler package's "closure over services"
// pattern rather than a fat controller struct with method receivers.
type Handlers struct {
	Store        storage.Storage
	Pipeline     *ingest.Pipeline
	Logger       *zap.Logger
	MaxGraphSize int
	StartedAt    time.Time
	Version      string
	Metrics      *telemetry.Metrics
}

// RegisterRoutes wires every endpoint onto e.
func RegisterRoutes(e *echo.Echo, h *Handlers) {
	e.POST("/events", h.postEvents)
	e.GET("/health", h.getHealth)
	e.GET("/ready", h.getReady)
	e.GET("/status", h.getStatus)

	api := e.Group("/api")
	api.GET("/traces", h.listTraces)
	api.GET("/traces/:id", h.getTrace)
	api.GET("/traces/:id/tree", h.getTraceTree)
	api.GET("/traces/:id/critical-path", h.getCriticalPath)
	api.GET("/traces/:id/anomalies", h.getAnomalies)
	api.GET("/traces/:id/dependencies", h.getDependencies)
	api.GET("/traces/:id/audit-trail/:variable", h.getAuditTrail)
	api.GET("/traces/:id/analyze", h.getTraceAnalysis)
	api.GET("/analyze/global", h.getGlobalAnalysis)
	api.GET("/performance/metrics", h.getPerformanceMetrics)
}

func (h *Handlers) postEvents(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fail("malformed request body: "+err.Error()))
	}

	events, err := event.DecodeBatch(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fail(err.Error()))
	}

	result, err := h.Pipeline.Ingest(c.Request().Context(), events)
	if err != nil {
		h.Logger.Warn("ingest failed", zap.Error(err))
		return c.JSON(statusForError(err), fail(err.Error()))
	}
	return c.JSON(http.StatusOK, ok(map[string]int{"ingested": result.Ingested}))
}

// getHealth is pure liveness: it never touches storage, so a storage
// outage doesn't cause the orchestrator to restart a process that is
// otherwise fine.
func (h *Handlers) getHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, ok(map[string]string{"status": "healthy"}))
}

// getReady additionally checks the storage backend is reachable, the
// signal an orchestrator should use to gate traffic.
func (h *Handlers) getReady(c echo.Context) error {
	if err := h.Store.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, fail("storage unreachable"))
	}
	return c.JSON(http.StatusOK, ok(map[string]string{"status": "ready"}))
}

func (h *Handlers) getStatus(c echo.Context) error {
	ctx := c.Request().Context()
	eventCount, err := h.Store.CountEvents(ctx)
	if err != nil {
		return c.JSON(statusForError(err), fail(err.Error()))
	}
	traceCount, err := h.Store.CountTraces(ctx)
	if err != nil {
		return c.JSON(statusForError(err), fail(err.Error()))
	}
	return c.JSON(http.StatusOK, ok(statusDTO{
		Version:        h.Version,
		UptimeSeconds:  int64(time.Since(h.StartedAt).Seconds()),
		EventsCaptured: eventCount,
		TracesActive:   traceCount,
	}))
}

func (h *Handlers) listTraces(c echo.Context) error {
	page, pageSize := pageParams(c)
	ids, total, err := h.Store.GetAllTraceIDs(c.Request().Context(), page, pageSize)
	if err != nil {
		return c.JSON(statusForError(err), fail(err.Error()))
	}

	summaries := make([]traceSummaryDTO, 0, len(ids))
	for _, id := range ids {
		summaries = append(summaries, traceSummaryDTO{TraceID: id})
	}
	return c.JSON(http.StatusOK, ok(tracesPageDTO{
		Traces:     summaries,
		Pagination: paginationDTO{Page: page, PageSize: pageSize, TotalCount: total},
	}))
}

// loadedTrace bundles a merged trace's events with its built causal
// graph, since nearly every per-trace endpoint needs both.
type loadedTrace struct {
	result merge.Result
	graph  *graph.Graph
}

func (h *Handlers) loadTrace(c echo.Context) (loadedTrace, uuid.UUID, bool, error) {
	traceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return loadedTrace{}, uuid.Nil, false, fmt.Errorf("invalid trace id: %w", raceerr.ErrValidation)
	}

	result, err := merge.Merge(c.Request().Context(), h.Store, traceID)
	if err != nil {
		return loadedTrace{}, traceID, false, err
	}
	if len(result.Events) == 0 {
		return loadedTrace{}, traceID, false, nil
	}
	if h.MaxGraphSize > 0 && len(result.Events) > h.MaxGraphSize {
		return loadedTrace{}, traceID, false, raceerr.ErrGraphTooLarge
	}

	g, err := graph.Build(result.Events, result.Edges)
	if err != nil {
		return loadedTrace{}, traceID, false, err
	}
	return loadedTrace{result: result, graph: g}, traceID, true, nil
}

func (h *Handlers) getTrace(c echo.Context) error {
	lt, traceID, found, err := h.loadTrace(c)
	if err != nil {
		return c.JSON(statusForError(err), fail(err.Error()))
	}
	if !found {
		return c.JSON(http.StatusNotFound, fail("trace not found"))
	}

	races := analysis.DetectRaces(lt.graph, lt.result.Events, analysis.RaceOptions{})
	h.Metrics.AddRacesDetected(c.Request().Context(), int64(len(races)))
	path, err := analysis.CriticalPathFor(lt.graph, lt.result.Events)
	if err != nil {
		return c.JSON(statusForError(err), fail(err.Error()))
	}
	deps := analysis.ServiceDependencies(lt.result.Events, lt.result.Spans, lt.result.Edges)

	raceDTOs := make([]raceDTO, 0, len(races))
	for _, r := range races {
		raceDTOs = append(raceDTOs, raceToDTO(r))
	}
	depDTOs := make([]dependencyDTO, 0, len(deps))
	for _, d := range deps {
		depDTOs = append(depDTOs, dependencyToDTO(d))
	}

	return c.JSON(http.StatusOK, ok(traceBundleDTO{
		TraceID:      traceID,
		EventCount:   len(lt.result.Events),
		Races:        raceDTOs,
		CriticalPath: criticalPathToDTO(path),
		Dependencies: depDTOs,
	}))
}

func (h *Handlers) getTraceTree(c echo.Context) error {
	lt, _, found, err := h.loadTrace(c)
	if err != nil {
		return c.JSON(statusForError(err), fail(err.Error()))
	}
	if !found {
		return c.JSON(http.StatusNotFound, fail("trace not found"))
	}
	return c.JSON(http.StatusOK, ok(buildTree(lt.result.Events)))
}

func (h *Handlers) getCriticalPath(c echo.Context) error {
	lt, _, found, err := h.loadTrace(c)
	if err != nil {
		return c.JSON(statusForError(err), fail(err.Error()))
	}
	if !found {
		return c.JSON(http.StatusNotFound, fail("trace not found"))
	}
	path, err := analysis.CriticalPathFor(lt.graph, lt.result.Events)
	if err != nil {
		return c.JSON(statusForError(err), fail(err.Error()))
	}
	return c.JSON(http.StatusOK, ok(criticalPathToDTO(path)))
}

func (h *Handlers) getAnomalies(c echo.Context) error {
	lt, traceID, found, err := h.loadTrace(c)
	if err != nil {
		return c.JSON(statusForError(err), fail(err.Error()))
	}
	if !found {
		return c.JSON(http.StatusNotFound, fail("trace not found"))
	}

	ctx := c.Request().Context()
	anomalies := analysis.DetectAnomalies(lt.result.Events, func(op string) (storage.Baseline, bool) {
		b, found, err := h.Store.GetBaseline(ctx, op)
		if err != nil || !found {
			return storage.Baseline{}, false
		}
		return b, true
	})

	h.recordAnomaliesOnce(ctx, traceID, anomalies)
	h.Metrics.AddAnomaliesDetected(ctx, int64(len(anomalies)))
	dtos := make([]anomalyDTO, 0, len(anomalies))
	for _, a := range anomalies {
		dtos = append(dtos, anomalyToDTO(a))
	}
	return c.JSON(http.StatusOK, ok(dtos))
}

// recordAnomaliesOnce persists each detected anomaly, relying on the
// storage layer's (trace_id, event_id) upsert to make repeated calls
// for the same anomaly a no-op, so GET /api/performance/metrics can
// report a stable detected-anomaly count per spec.
func (h *Handlers) recordAnomaliesOnce(ctx context.Context, traceID uuid.UUID, anomalies []analysis.Anomaly) {
	for _, a := range anomalies {
		err := h.Store.RecordAnomaly(ctx, storage.AnomalyRecord{
			TraceID:     traceID,
			EventID:     a.EventID,
			Operation:   a.Operation,
			Z:           a.Z,
			ExpectedMs:  a.ExpectedMs,
			ActualMs:    a.ActualMs,
			Severity:    a.Severity,
			Description: a.Description,
			DetectedAt:  time.Now(),
		})
		if err != nil {
			h.Logger.Warn("anomaly persistence failed", zap.String("event_id", a.EventID.String()), zap.Error(err))
		}
	}
}

func (h *Handlers) getDependencies(c echo.Context) error {
	lt, _, found, err := h.loadTrace(c)
	if err != nil {
		return c.JSON(statusForError(err), fail(err.Error()))
	}
	if !found {
		return c.JSON(http.StatusNotFound, fail("trace not found"))
	}
	deps := analysis.ServiceDependencies(lt.result.Events, lt.result.Spans, lt.result.Edges)
	dtos := make([]dependencyDTO, 0, len(deps))
	for _, d := range deps {
		dtos = append(dtos, dependencyToDTO(d))
	}
	return c.JSON(http.StatusOK, ok(dtos))
}

func (h *Handlers) getAuditTrail(c echo.Context) error {
	lt, _, found, err := h.loadTrace(c)
	if err != nil {
		return c.JSON(statusForError(err), fail(err.Error()))
	}
	if !found {
		return c.JSON(http.StatusNotFound, fail("trace not found"))
	}
	variable := c.Param("variable")
	races := analysis.DetectRaces(lt.graph, lt.result.Events, analysis.RaceOptions{})
	entries := analysis.AuditTrail(lt.graph, lt.result.Events, variable, races)

	dtos := make([]auditEntryDTO, 0, len(entries))
	for _, en := range entries {
		dtos = append(dtos, auditEntryToDTO(en))
	}
	return c.JSON(http.StatusOK, ok(dtos))
}

func (h *Handlers) getTraceAnalysis(c echo.Context) error {
	return h.getTrace(c)
}

// getGlobalAnalysis serves the supplemented cross-trace summary: the
// first page of up to 1000 trace ids (most recently first-seen first) is
// merged and analyzed, and the results are folded into aggregate counts
// rather than returned per-trace. Traces beyond that page are not
// analyzed.
func (h *Handlers) getGlobalAnalysis(c echo.Context) error {
	ctx := c.Request().Context()
	ids, totalTraces, err := h.Store.GetAllTraceIDs(ctx, 1, 1000)
	if err != nil {
		return c.JSON(statusForError(err), fail(err.Error()))
	}

	racesBySeverity := map[string]int{
		string(analysis.RaceCritical): 0,
		string(analysis.RaceWarning):  0,
		string(analysis.RaceInfo):     0,
	}
	raceCountByVariable := map[string]int{}
	totalEvents := 0

	for _, id := range ids {
		result, err := merge.Merge(ctx, h.Store, id)
		if err != nil || len(result.Events) == 0 {
			continue
		}
		totalEvents += len(result.Events)
		if h.MaxGraphSize > 0 && len(result.Events) > h.MaxGraphSize {
			h.Logger.Warn("skipping oversized trace in global analysis", zap.String("trace_id", id.String()))
			continue
		}
		g, err := graph.Build(result.Events, result.Edges)
		if err != nil {
			continue
		}

		races := analysis.DetectRaces(g, result.Events, analysis.RaceOptions{})
		for _, r := range races {
			racesBySeverity[string(r.Severity)]++
			raceCountByVariable[r.Variable]++
		}
	}

	topVariables := make([]variableRaceCountDTO, 0, len(raceCountByVariable))
	for variable, count := range raceCountByVariable {
		topVariables = append(topVariables, variableRaceCountDTO{Variable: variable, Count: count})
	}
	sort.Slice(topVariables, func(i, j int) bool {
		if topVariables[i].Count != topVariables[j].Count {
			return topVariables[i].Count > topVariables[j].Count
		}
		return topVariables[i].Variable < topVariables[j].Variable
	})
	if len(topVariables) > 20 {
		topVariables = topVariables[:20]
	}

	return c.JSON(http.StatusOK, ok(globalAnalysisDTO{
		TotalTraces:             int(totalTraces),
		TotalEvents:             totalEvents,
		RacesBySeverity:         racesBySeverity,
		TopVariablesByRaceCount: topVariables,
	}))
}

func (h *Handlers) getPerformanceMetrics(c echo.Context) error {
	limit := limitParam(c, 100)
	ctx := c.Request().Context()
	baselines, err := h.Store.AllBaselines(ctx, limit)
	if err != nil {
		return c.JSON(statusForError(err), fail(err.Error()))
	}
	anomalyTotal, err := h.Store.CountAnomalies(ctx)
	if err != nil {
		return c.JSON(statusForError(err), fail(err.Error()))
	}
	dtos := make([]baselineDTO, 0, len(baselines))
	for _, b := range baselines {
		dtos = append(dtos, baselineToDTO(b))
	}
	return c.JSON(http.StatusOK, ok(performanceMetricsDTO{
		Baselines:              dtos,
		AnomaliesDetectedTotal: anomalyTotal,
	}))
}
