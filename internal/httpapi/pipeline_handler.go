// Package httpapi exposes the engine over HTTP: invoke a pipeline, validate
// a definition without running it, and read back persisted run logs.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"botflow/internal/engine"
	"botflow/internal/graph"
	"botflow/internal/nodes"
	"botflow/internal/runlog"
	"botflow/pkg"
)

type pipelineHandler struct {
	engine *engine.Engine
	runs   *runlog.Repository
	logger zerolog.Logger
}

// PipelineHandler registers the pipeline routes. runs may be nil when run
// persistence is not wired (the run endpoints then return 503).
func PipelineHandler(router *graceful.Graceful, eng *engine.Engine, runs *runlog.Repository, logger zerolog.Logger) {
	h := &pipelineHandler{engine: eng, runs: runs, logger: logger}

	routes := router.Group("/api/v1/pipelines")
	{
		routes.POST("/invoke", h.invoke)
		routes.POST("/validate", h.validate)
	}

	runRoutes := router.Group("/api/v1/runs")
	{
		runRoutes.GET("", h.runsBySession)
		runRoutes.GET("/:id", h.runByID)
	}
}

func (slf *pipelineHandler) invoke(c *gin.Context) {
	var req InvokeRequest
	if err := pkg.ParseAndValidate(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: err.Error()})
		return
	}

	sess := engine.Session{
		ID:              req.SessionID,
		PipelineVersion: req.PipelineVersion,
		Data:            req.SessionData,
		Participant:     req.Participant,
	}

	result, err := slf.engine.Invoke(c.Request.Context(), req.Definition, sess, req.Input)
	if result != nil && result.Run != nil {
		slf.saveRun(result.Run)
	}
	if err != nil {
		if graph.IsBuildError(err) || nodes.IsNodeBuildError(err) {
			c.JSON(http.StatusBadRequest, APIError{Message: err.Error()})
			return
		}
		var runErr *engine.NodeRunError
		if errors.As(err, &runErr) {
			resp := APIError{Message: runErr.Error(), NodeID: runErr.NodeID}
			if result != nil && result.Run != nil {
				resp.RunID = result.Run.ID
			}
			c.JSON(http.StatusUnprocessableEntity, resp)
			return
		}
		slf.logger.Error().Err(err).Str("sessionId", req.SessionID).Msg("Pipeline invocation failed")
		c.JSON(http.StatusInternalServerError, APIError{Message: "Pipeline invocation failed"})
		return
	}

	final := result.State
	c.JSON(http.StatusOK, InvokeResponse{
		RunID:         result.Run.ID,
		FinalOutput:   result.FinalOutput,
		OutputsByNode: final.Outputs,
		Path:          final.Path,
		Interrupt:     result.Interrupt,
		SessionData:   final.Session,
		Participant:   final.Participant,
	})
}

func (slf *pipelineHandler) validate(c *gin.Context) {
	var req ValidateRequest
	if err := pkg.ParseAndValidate(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: err.Error()})
		return
	}

	g, err := graph.Build(req.Definition)
	if err != nil {
		c.JSON(http.StatusOK, ValidateResponse{Valid: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ValidateResponse{Valid: true, StartID: g.StartID, EndID: g.EndID})
}

func (slf *pipelineHandler) runByID(c *gin.Context) {
	if slf.runs == nil {
		c.JSON(http.StatusServiceUnavailable, APIError{Message: "Run persistence not configured"})
		return
	}
	run, err := slf.runs.FindByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, APIError{Message: "Run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (slf *pipelineHandler) runsBySession(c *gin.Context) {
	if slf.runs == nil {
		c.JSON(http.StatusServiceUnavailable, APIError{Message: "Run persistence not configured"})
		return
	}
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, APIError{Message: "sessionId is required"})
		return
	}
	runs, err := slf.runs.FindBySession(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, APIError{Message: "Failed to retrieve runs"})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (slf *pipelineHandler) saveRun(run *runlog.Run) {
	if slf.runs == nil {
		return
	}
	if err := slf.runs.Save(run); err != nil {
		slf.logger.Warn().Err(err).Str("runId", run.ID).Msg("Failed to persist run log")
	}
}
