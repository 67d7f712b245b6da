package coordinator

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/nerio-ai/cascade"
	"github.com/nerio-ai/cascade/checkpoint"
	"github.com/nerio-ai/cascade/session"
	"github.com/nerio-ai/cascade/signal"
)

// API exposes the coordination managers over HTTP for execution engines,
// responder UIs, and external firers.
type API struct {
	Sessions    *session.Manager
	Checkpoints *checkpoint.Manager
	Signals     *signal.Manager
	Logger      zerolog.Logger
}

// RegisterRoutes mounts the coordination API on a fiber app
func (a *API) RegisterRoutes(app *fiber.App) {
	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "service": "cascade-coordinator"})
	})

	v1 := app.Group("/api/v1")

	executions := v1.Group("/executions")
	executions.Post("/", a.handleCreateExecution)
	executions.Get("/:executionId", a.handleGetExecution)
	executions.Post("/:executionId/heartbeat", a.handleHeartbeat)
	executions.Post("/:executionId/cancel", a.handleCancelExecution)
	executions.Get("/:executionId/checkpoints", a.handleListCheckpoints)

	checkpoints := v1.Group("/checkpoints")
	checkpoints.Get("/:checkpointId", a.handleGetCheckpoint)
	checkpoints.Post("/:checkpointId/respond", a.handleRespond)
	checkpoints.Post("/:checkpointId/cancel", a.handleCancelCheckpoint)

	signals := v1.Group("/signals")
	signals.Get("/:signalId", a.handleGetSignal)
	signals.Post("/:signalId/cancel", a.handleCancelSignal)
	v1.Post("/events/:name/fire", a.handleFire)

	v1.Post("/maintenance/zombies", a.handleCleanupZombies)
}

func (a *API) handleCreateExecution(c fiber.Ctx) error {
	var req struct {
		ExecutionID       string `json:"executionId"`
		CascadeID         string `json:"cascadeId"`
		ParentExecutionID string `json:"parentExecutionId"`
		Depth             int    `json:"depth"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	var opts []session.CreateOption
	if req.ParentExecutionID != "" {
		opts = append(opts, session.WithParent(req.ParentExecutionID))
	}
	if req.Depth > 0 {
		opts = append(opts, session.WithDepth(req.Depth))
	}

	state, err := a.Sessions.CreateExecution(c.Context(), req.ExecutionID, req.CascadeID, opts...)
	if err != nil {
		return a.renderError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(state)
}

func (a *API) handleGetExecution(c fiber.Ctx) error {
	state, err := a.Sessions.GetSession(c.Context(), c.Params("executionId"))
	if err != nil {
		return a.renderError(c, err)
	}
	return c.JSON(state)
}

func (a *API) handleHeartbeat(c fiber.Ctx) error {
	if err := a.Sessions.Heartbeat(c.Context(), c.Params("executionId")); err != nil {
		return a.renderError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (a *API) handleCancelExecution(c fiber.Ctx) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := a.Sessions.RequestCancellation(c.Context(), c.Params("executionId"), req.Reason); err != nil {
		return a.renderError(c, err)
	}
	return c.JSON(fiber.Map{"cancelRequested": true})
}

func (a *API) handleListCheckpoints(c fiber.Ctx) error {
	executionID := c.Params("executionId")

	var (
		checkpoints []*cascade.Checkpoint
		err         error
	)
	if c.Query("pending") == "true" {
		checkpoints, err = a.Checkpoints.ListPending(c.Context(), executionID)
	} else {
		checkpoints, err = a.Checkpoints.ListAll(c.Context(), executionID)
	}
	if err != nil {
		return a.renderError(c, err)
	}
	return c.JSON(fiber.Map{"checkpoints": checkpoints})
}

func (a *API) handleGetCheckpoint(c fiber.Ctx) error {
	cp, err := a.Checkpoints.Get(c.Context(), c.Params("checkpointId"))
	if err != nil {
		return a.renderError(c, err)
	}
	return c.JSON(cp)
}

func (a *API) handleRespond(c fiber.Ctx) error {
	var req struct {
		Response   json.RawMessage `json:"response"`
		Reasoning  string          `json:"reasoning"`
		Confidence *float64        `json:"confidence"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	var opts []checkpoint.RespondOption
	if req.Reasoning != "" {
		opts = append(opts, checkpoint.WithReasoning(req.Reasoning))
	}
	if req.Confidence != nil {
		opts = append(opts, checkpoint.WithConfidence(*req.Confidence))
	}

	cp, err := a.Checkpoints.Respond(c.Context(), c.Params("checkpointId"), req.Response, opts...)
	if err != nil {
		return a.renderError(c, err)
	}
	return c.JSON(cp)
}

func (a *API) handleCancelCheckpoint(c fiber.Ctx) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	cp, err := a.Checkpoints.Cancel(c.Context(), c.Params("checkpointId"), req.Reason)
	if err != nil {
		return a.renderError(c, err)
	}
	return c.JSON(cp)
}

func (a *API) handleGetSignal(c fiber.Ctx) error {
	sig, err := a.Signals.Get(c.Context(), c.Params("signalId"))
	if err != nil {
		return a.renderError(c, err)
	}
	return c.JSON(sig)
}

func (a *API) handleCancelSignal(c fiber.Ctx) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	sig, err := a.Signals.Cancel(c.Context(), c.Params("signalId"), req.Reason)
	if err != nil {
		return a.renderError(c, err)
	}
	return c.JSON(sig)
}

func (a *API) handleFire(c fiber.Ctx) error {
	var req struct {
		Payload     json.RawMessage `json:"payload"`
		Source      string          `json:"source"`
		ExecutionID string          `json:"executionId"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	var opts []signal.FireOption
	if len(req.Payload) > 0 {
		opts = append(opts, signal.WithPayload(req.Payload))
	}
	if req.Source != "" {
		opts = append(opts, signal.WithSource(req.Source))
	}
	if req.ExecutionID != "" {
		opts = append(opts, signal.WithExecutionID(req.ExecutionID))
	}

	fired, err := a.Signals.Fire(c.Context(), c.Params("name"), opts...)
	if err != nil {
		return a.renderError(c, err)
	}
	return c.JSON(fiber.Map{"fired": fired})
}

func (a *API) handleCleanupZombies(c fiber.Ctx) error {
	grace := fiber.Query[int](c, "graceSeconds", 30)

	reaped, err := a.Sessions.CleanupZombies(c.Context(), grace)
	if err != nil {
		return a.renderError(c, err)
	}
	return c.JSON(fiber.Map{"reaped": reaped})
}

// renderError maps coordination error codes onto HTTP statuses
func (a *API) renderError(c fiber.Ctx, err error) error {
	switch {
	case cascade.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case cascade.IsAlreadyResolved(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case cascade.IsStoreUnavailable(err):
		a.Logger.Error().Err(err).Msg("Store unavailable")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store unavailable"})
	case cascade.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	default:
		a.Logger.Error().Err(err).Msg("Request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
