package api

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	domrepo "SigRelay/internal/domain/repository"
	"SigRelay/internal/usecase"
	xhttp "SigRelay/pkg/http"
	xlogger "SigRelay/pkg/logger"
)

// DispatchHandler exposes the ops surface: store status, recipient
// stats, manual cycle triggering, health probes, and the live report
// feed.
type DispatchHandler struct {
	logger     *xlogger.Logger
	dispatcher *usecase.Dispatcher
	signals    domrepo.SignalStore
	recipients domrepo.RecipientStore
	channel    domrepo.Channel
	feed       *FeedHub
}

func NewDispatchHandler(
	logger *xlogger.Logger,
	dispatcher *usecase.Dispatcher,
	signals domrepo.SignalStore,
	recipients domrepo.RecipientStore,
	channel domrepo.Channel,
	feed *FeedHub,
) *DispatchHandler {
	return &DispatchHandler{
		logger:     logger,
		dispatcher: dispatcher,
		signals:    signals,
		recipients: recipients,
		channel:    channel,
		feed:       feed,
	}
}

func (h *DispatchHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/recipients/:id/stats", h.RecipientStats)
	g.POST("/dispatch/run", h.RunCycle)
	if h.feed != nil {
		g.GET("/feed", h.feed.Serve)
	}
}

// Status reports the signal-store backlog summary.
func (h *DispatchHandler) Status(c echo.Context) error {
	status, err := h.signals.Status(c.Request().Context())
	if err != nil {
		h.logger.Error("status query failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.SuccessResponse(c, status)
}

// RecipientStats reports one recipient's delivery summary.
func (h *DispatchHandler) RecipientStats(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return xhttp.BadRequestResponse(c, "recipient id is required")
	}
	stats, err := h.recipients.Stats(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, domrepo.ErrNotFound) {
			return xhttp.NotFoundResponse(c, "recipient not found")
		}
		h.logger.Error("recipient stats query failed",
			xlogger.String("recipient_id", id),
			xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.SuccessResponse(c, stats)
}

// RunCycle triggers one dispatch cycle synchronously and returns its
// report. An overlapping cycle comes back as a skipped report with 409.
func (h *DispatchHandler) RunCycle(c echo.Context) error {
	report := h.dispatcher.RunCycle(c.Request().Context())
	if report.Skipped && len(report.Errors) > 0 {
		return xhttp.ConflictResponse(c, report)
	}
	return xhttp.SuccessResponse(c, report)
}

// Health probes the stores and the outbound channel.
func (h *DispatchHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	for name, probe := range map[string]func(context.Context) error{
		"signal_store":    h.signals.Health,
		"recipient_store": h.recipients.Health,
		"channel":         h.channel.Health,
	} {
		if err := probe(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	if !healthy {
		return xhttp.ServiceUnavailableResponse(c, checks)
	}
	return xhttp.SuccessResponse(c, checks)
}
