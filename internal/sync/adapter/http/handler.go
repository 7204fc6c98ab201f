package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/domain/model"
	"firestore-sync/internal/sync/usecase"
)

// EventRecorder records change events into tracker logs
type EventRecorder interface {
	Record(ctx context.Context, event model.ChangeEvent) usecase.RecordResult
	RecordBatch(ctx context.Context, events []model.ChangeEvent) []usecase.RecordResult
}

// Consolidator runs consolidation on demand
type Consolidator interface {
	RunByID(ctx context.Context, configID string) (model.ConsolidationResult, error)
}

// Backfiller runs backfill on demand
type Backfiller interface {
	RunByID(ctx context.Context, configID string) (model.BackfillResult, error)
}

// ConfigSource lists the compiled collection configs
type ConfigSource interface {
	Configs() []*usecase.CompiledConfig
}

// Handler exposes event ingestion and the admin endpoints
type Handler struct {
	recorder      EventRecorder
	consolidation Consolidator
	backfill      Backfiller
	configs       ConfigSource
	metrics       http.Handler
	logger        logger.Logger
}

// NewHandler creates a handler. metrics may be nil, in which case /metrics is
// not served.
func NewHandler(recorder EventRecorder, consolidation Consolidator, backfill Backfiller, configs ConfigSource, metrics http.Handler, log logger.Logger) *Handler {
	return &Handler{
		recorder:      recorder,
		consolidation: consolidation,
		backfill:      backfill,
		configs:       configs,
		metrics:       metrics,
		logger:        log.WithComponent("http_handler"),
	}
}

// RegisterRoutes mounts the routes. auth guards everything under /v1.
func (h *Handler) RegisterRoutes(router fiber.Router, auth fiber.Handler) {
	router.Get("/health", h.Health)
	if h.metrics != nil {
		router.Get("/metrics", adaptor.HTTPHandler(h.metrics))
	}

	v1 := router.Group("/v1")
	if auth != nil {
		v1.Use(auth)
	}
	v1.Post("/events", h.IngestEvents)
	v1.Get("/configs", h.ListConfigs)
	v1.Post("/configs/:id/consolidate", h.Consolidate)
	v1.Post("/configs/:id/backfill", h.Backfill)
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "HEALTHY",
		"configs":   len(h.configs.Configs()),
		"timestamp": time.Now().UTC(),
	})
}

type recordResponse struct {
	usecase.RecordResult
	Error string `json:"error,omitempty"`
}

func newRecordResponse(result usecase.RecordResult) recordResponse {
	resp := recordResponse{RecordResult: result}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	return resp
}

// IngestEvents accepts one change event or a JSON array of them. Events that
// cannot be recorded are reported per event; the request itself only fails
// on a malformed body.
func (h *Handler) IngestEvents(c *fiber.Ctx) error {
	body := bytes.TrimSpace(c.Body())
	if len(body) == 0 {
		return badRequest(c, "empty request body")
	}
	ctx := c.UserContext()

	if body[0] != '[' {
		var event model.ChangeEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return badRequest(c, "invalid change event: "+err.Error())
		}
		return c.JSON(newRecordResponse(h.recorder.Record(ctx, event)))
	}

	var events []model.ChangeEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return badRequest(c, "invalid change event batch: "+err.Error())
	}

	results := h.recorder.RecordBatch(ctx, events)
	counts := map[usecase.RecordOutcome]int{}
	responses := make([]recordResponse, len(results))
	for i, result := range results {
		counts[result.Outcome]++
		responses[i] = newRecordResponse(result)
	}
	return c.JSON(fiber.Map{
		"results":  responses,
		"recorded": counts[usecase.OutcomeRecorded],
		"ignored":  counts[usecase.OutcomeIgnored],
		"dropped":  counts[usecase.OutcomeDropped],
	})
}

type configSummary struct {
	ID              string   `json:"id"`
	CollectionPaths []string `json:"collectionPaths"`
	CollectionGroup string   `json:"collectionGroup,omitempty"`
	Table           string   `json:"table"`
	TrackerTable    string   `json:"trackerTable"`
	Schedule        string   `json:"schedule"`
	TimeZone        string   `json:"timeZone"`
	Backfill        bool     `json:"backfill"`
	Fields          int      `json:"fields"`
}

func (h *Handler) ListConfigs(c *fiber.Ctx) error {
	configs := h.configs.Configs()
	out := make([]configSummary, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, configSummary{
			ID:              cfg.ID,
			CollectionPaths: cfg.CollectionPaths,
			CollectionGroup: cfg.CollectionGroup,
			Table:           cfg.TableName(),
			TrackerTable:    cfg.TrackerTableName(),
			Schedule:        cfg.Schedule,
			TimeZone:        cfg.TimeZone,
			Backfill:        cfg.BackfillEnabled(),
			Fields:          len(cfg.Fields),
		})
	}
	return c.JSON(fiber.Map{"configs": out})
}

// Consolidate runs one consolidation synchronously
func (h *Handler) Consolidate(c *fiber.Ctx) error {
	id := c.Params("id")
	result, err := h.consolidation.RunByID(c.UserContext(), id)
	if err != nil {
		return h.runError(c, id, "consolidation", err, result)
	}
	return c.JSON(result)
}

// Backfill runs one backfill synchronously. Dropped pages are reported in the
// result and do not fail the request.
func (h *Handler) Backfill(c *fiber.Ctx) error {
	id := c.Params("id")
	result, err := h.backfill.RunByID(c.UserContext(), id)
	if err != nil {
		return h.runError(c, id, "backfill", err, result)
	}
	return c.JSON(result)
}

func (h *Handler) runError(c *fiber.Ctx, configID, run string, err error, result interface{}) error {
	status := errors.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		h.logger.WithError(err).WithFields(map[string]interface{}{
			"config_id": configID,
			"run":       run,
		}).Error("Manual run failed")
	}
	return c.Status(status).JSON(fiber.Map{
		"error":   errorCode(err),
		"message": err.Error(),
		"result":  result,
	})
}

func errorCode(err error) string {
	if t := errors.TypeOf(err); t != "" {
		return strings.ToLower(string(t))
	}
	return "internal_error"
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "invalid_request",
		"message": message,
	})
}
