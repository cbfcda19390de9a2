package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"TAMObserver/internal/domain/models"
	domrepo "TAMObserver/internal/domain/repository"
	"TAMObserver/internal/service/ratelimit"
	"TAMObserver/internal/services/admissibility"
	"TAMObserver/internal/usecase"
	xhttp "TAMObserver/pkg/http"
	xlogger "TAMObserver/pkg/logger"
)

// StreamService is the live registry surface the API reads and resets.
type StreamService interface {
	Streams() []models.StreamStatus
	Status(symbol string) (models.StreamStatus, error)
	Latest(symbol string) (*models.StreamObservation, error)
	Reset(symbol string) (models.StreamStatus, error)
}

type Replayer interface {
	Replay(ctx context.Context, p usecase.ReplayParams) (*usecase.ReplayResult, error)
}

type ReplayScheduler interface {
	Schedule(ctx context.Context, p usecase.ReplayParams) (string, error)
}

// LatestCache is the latest-record cache as the API sees it.
type LatestCache interface {
	GetLatest(ctx context.Context, symbol string) (*models.StreamObservation, error)
	GetLatestMany(ctx context.Context, symbols []string) (map[string]models.StreamObservation, error)
	Forget(ctx context.Context, symbol string) error
}

type HistoryReader interface {
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.StreamObservation, error)
}

type RegimeReader interface {
	Status(symbol string) (usecase.RegimeStatus, bool)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// ObservationsDeps groups the handler's collaborators. Everything except
// Streams may be nil; the matching endpoints then answer 503 or skip the
// optional data.
type ObservationsDeps struct {
	Streams   StreamService
	Replay    Replayer
	Scheduler ReplayScheduler
	Latest    LatestCache
	History   HistoryReader
	Regime    RegimeReader
	Limiter   *ratelimit.Limiter
	Checks    map[string]HealthCheck
	Engine    admissibility.Option
}

// ObservationsEchoHandler serves the observation API.
type ObservationsEchoHandler struct {
	logger *xlogger.Logger
	deps   ObservationsDeps
	now    func() time.Time
}

func NewObservationsEchoHandler(logger *xlogger.Logger, deps ObservationsDeps) *ObservationsEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &ObservationsEchoHandler{logger: logger, deps: deps, now: time.Now}
}

func (h *ObservationsEchoHandler) RegisterRoutes(e *echo.Echo) {
	var limited []echo.MiddlewareFunc
	if h.deps.Limiter != nil {
		limited = append(limited, ratelimit.Middleware(h.deps.Limiter))
	}

	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.POST("/observe", h.Observe, limited...)
	g.GET("/replay", h.Replay)
	g.POST("/replay/jobs", h.ScheduleReplay, limited...)
	g.GET("/streams", h.Streams)
	g.GET("/streams/:symbol", h.Stream)
	g.GET("/streams/:symbol/latest", h.Latest)
	g.GET("/streams/:symbol/records", h.Records)
	g.POST("/streams/:symbol/reset", h.Reset, limited...)
}

// Observe classifies a batch of bars in a fresh session.
func (h *ObservationsEchoHandler) Observe(c echo.Context) error {
	req := &models.ObserveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	var opts []admissibility.Option
	if h.deps.Engine != nil {
		opts = append(opts, h.deps.Engine)
	}
	obs, err := admissibility.New(*req.FrictionFloor, *req.MinMove, opts...)
	if err != nil {
		return h.fail(c, "observe", err)
	}

	session := obs.NewSession()
	cons := obs.Constraints()
	res := models.ObserveResponse{
		EngineVersion: session.EngineVersion(),
		FrictionFloor: cons.FrictionFloor,
		MinMove:       cons.MinMove,
		MReq:          cons.MReq(),
		Records:       make([]models.ObservationRecord, 0, len(req.Bars)),
		Rejected:      []models.RejectedBar{},
	}
	for i, bar := range req.Bars {
		rec, err := session.Observe(bar)
		if err != nil {
			rb := models.RejectedBar{Index: i, Timestamp: bar.Timestamp, Reason: err.Error()}
			var ve *models.ValidationError
			if errors.As(err, &ve) {
				rb.Field, rb.Reason = ve.Field, ve.Reason
			}
			res.Rejected = append(res.Rejected, rb)
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return xhttp.SuccessResponse(c, res)
}

// Replay classifies stored candles of a past range.
func (h *ObservationsEchoHandler) Replay(c echo.Context) error {
	if h.deps.Replay == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("replay is not configured"))
	}
	p, verr, aerr := h.replayParams(c)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if aerr != nil {
		return xhttp.AppErrorResponse(c, aerr)
	}
	res, err := h.deps.Replay.Replay(c.Request().Context(), p)
	if err != nil {
		return h.fail(c, "replay", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

// ScheduleReplay queues a replay whose records are persisted.
func (h *ObservationsEchoHandler) ScheduleReplay(c echo.Context) error {
	if h.deps.Scheduler == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("replay queue is not configured"))
	}
	p, verr, aerr := h.replayParams(c)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if aerr != nil {
		return xhttp.AppErrorResponse(c, aerr)
	}
	id, err := h.deps.Scheduler.Schedule(c.Request().Context(), p)
	if err != nil {
		return h.fail(c, "schedule replay", err)
	}
	return xhttp.AcceptedResponse(c, models.ReplayJobResponse{
		JobID:  id,
		Symbol: p.Symbol,
		From:   p.From.Format(time.RFC3339),
		To:     p.To.Format(time.RFC3339),
		TF:     string(p.Timeframe),
	})
}

func (h *ObservationsEchoHandler) replayParams(c echo.Context) (usecase.ReplayParams, []xhttp.ValidationError, *xhttp.AppError) {
	req := &models.ReplayRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return usecase.ReplayParams{}, verr, nil
	}
	from, to, aerr := xhttp.TimeRange(req.From, req.To, h.now())
	if aerr != nil {
		return usecase.ReplayParams{}, nil, aerr
	}
	return usecase.ReplayParams{
		Symbol:    req.Symbol,
		From:      from,
		To:        to,
		Timeframe: domrepo.NormalizeTimeframe(req.TF),
	}, nil, nil
}

// StreamView is a live stream with its cached latest record and regime.
type StreamView struct {
	models.StreamStatus
	Latest *models.ObservationRecord `json:"latest,omitempty"`
	Regime *usecase.RegimeStatus     `json:"regime,omitempty"`
}

// Streams lists live streams.
func (h *ObservationsEchoHandler) Streams(c echo.Context) error {
	statuses := h.deps.Streams.Streams()
	latest := map[string]models.StreamObservation{}
	if h.deps.Latest != nil && len(statuses) > 0 {
		symbols := make([]string, len(statuses))
		for i, st := range statuses {
			symbols[i] = st.Symbol
		}
		got, err := h.deps.Latest.GetLatestMany(c.Request().Context(), symbols)
		if err != nil {
			h.logger.Warn("latest cache read failed", xlogger.Error(err))
		} else {
			latest = got
		}
	}

	rows := make([]StreamView, 0, len(statuses))
	for _, st := range statuses {
		v := h.view(st)
		if obs, ok := latest[st.Symbol]; ok && obs.SessionID == st.SessionID {
			rec := obs.Record
			v.Latest = &rec
		}
		rows = append(rows, v)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Stream shows one live stream.
func (h *ObservationsEchoHandler) Stream(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.deps.Streams.Status(req.Symbol)
	if err != nil {
		return h.fail(c, "stream status", err)
	}
	v := h.view(st)
	if obs, err := h.deps.Streams.Latest(req.Symbol); err == nil {
		rec := obs.Record
		v.Latest = &rec
	}
	return xhttp.SuccessResponse(c, v)
}

func (h *ObservationsEchoHandler) view(st models.StreamStatus) StreamView {
	v := StreamView{StreamStatus: st}
	if h.deps.Regime != nil {
		if r, ok := h.deps.Regime.Status(st.Symbol); ok {
			v.Regime = &r
		}
	}
	return v
}

// Latest returns the newest observation of a stream, from the cache when one
// is configured and from the live stream otherwise.
func (h *ObservationsEchoHandler) Latest(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	if h.deps.Latest != nil {
		obs, err := h.deps.Latest.GetLatest(ctx, req.Symbol)
		if err == nil {
			return xhttp.SuccessResponse(c, obs)
		}
		if !errors.Is(err, domrepo.ErrNotFound) {
			h.logger.Warn("latest cache read failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		}
	}
	obs, err := h.deps.Streams.Latest(req.Symbol)
	if err != nil {
		return h.fail(c, "latest", err)
	}
	return xhttp.SuccessResponse(c, obs)
}

// Records returns persisted observations of a symbol, oldest first.
func (h *ObservationsEchoHandler) Records(c echo.Context) error {
	if h.deps.History == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("record history is not configured"))
	}
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	now := h.now()
	if req.From == "" {
		req.From = now.Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	}
	from, to, aerr := xhttp.TimeRange(req.From, req.To, now)
	if aerr != nil {
		return xhttp.AppErrorResponse(c, aerr)
	}
	rows, err := h.deps.History.Query(c.Request().Context(), req.Symbol, from, to, req.Limit)
	if err != nil {
		return h.fail(c, "records", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Reset starts a fresh session for a stream.
func (h *ObservationsEchoHandler) Reset(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.deps.Streams.Reset(req.Symbol)
	if err != nil {
		return h.fail(c, "reset", err)
	}
	if h.deps.Latest != nil {
		if err := h.deps.Latest.Forget(c.Request().Context(), req.Symbol); err != nil {
			h.logger.Warn("latest cache forget failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		}
	}
	h.logger.Info("stream reset via api", xlogger.String("symbol", st.Symbol), xlogger.String("session_id", st.SessionID))
	return xhttp.SuccessResponse(c, st)
}

// Health runs every dependency check.
func (h *ObservationsEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.deps.Checks))
	for name, check := range h.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	return xhttp.DataResponse(c, status, map[string]interface{}{
		"streams": len(h.deps.Streams.Streams()),
		"checks":  checks,
	})
}

func (h *ObservationsEchoHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, models.ErrConfiguration):
		var ce *models.ConfigurationError
		field := ""
		if errors.As(err, &ce) {
			field = ce.Field
		}
		return xhttp.AppErrorResponse(c, xhttp.FieldError("ERR_CONSTRAINTS", field, err.Error()))
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("stream not found"))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("request cancelled").WithError(err))
	}
	h.logger.Error(op+" failed", xlogger.String("path", c.Path()), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, err)
}
