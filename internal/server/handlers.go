package server

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/jsbridge/internal/debugger"
	"github.com/GriffinCanCode/jsbridge/internal/engine"
	"github.com/GriffinCanCode/jsbridge/internal/jserror"
)

// MaxSourceSize bounds the source accepted by POST /eval.
const MaxSourceSize = 1 << 20

// EvalRequest is the body of POST /eval.
type EvalRequest struct {
	Source string `json:"source" binding:"required"`
	Name   string `json:"name"`
}

// EvalResponse carries either the converted result or the script error.
type EvalResponse struct {
	Result any           `json:"result"`
	Error  *jserror.Info `json:"error,omitempty"`
}

// CommandRequest is the body of POST /debug/command.
type CommandRequest struct {
	Command   string         `json:"command" binding:"required"`
	Arguments map[string]any `json:"arguments"`
}

type handlers struct {
	pool        *engine.Pool
	debugger    *debugger.Debugger
	logger      *zap.Logger
	timeout     time.Duration
	evalTimeout time.Duration
}

func (h *handlers) health(c *gin.Context) {
	iso := h.pool.Isolate()
	status := "ok"
	code := http.StatusOK
	if iso.IsDead() {
		status, code = "dead", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"isolate":  iso.ID(),
		"version":  engine.Version,
		"contexts": iso.ContextCount(),
		"pool":     h.pool.Stats(),
		"debugger": h.debugger != nil && h.debugger.Enabled(),
	})
}

func (h *handlers) eval(c *gin.Context) {
	var req EvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Source) > MaxSourceSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "source too large"})
		return
	}

	ctx := c.Request.Context()
	if h.evalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.evalTimeout)
		defer cancel()
	}
	result, err := h.pool.Execute(ctx, req.Source, req.Name)
	if err != nil {
		var jsErr *jserror.Error
		switch {
		case errors.As(err, &jsErr):
			c.JSON(http.StatusUnprocessableEntity, EvalResponse{Error: &jsErr.Info})
		case errors.Is(err, engine.ErrInterrupted):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		case errors.Is(err, engine.ErrTimeout), errors.Is(err, engine.ErrPoolClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			h.logger.Warn("eval failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, EvalResponse{Result: jsonValue(result)})
}

func (h *handlers) command(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	resp, err := h.debugger.Request(ctx, req.Command, req.Arguments)
	switch {
	case errors.Is(err, debugger.ErrDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "debugger did not answer"})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, resp)
	}
}

// jsonValue maps converted script values onto JSON-encodable ones. A
// container reached again while it is being copied becomes "[Circular]".
func jsonValue(v any) any {
	return toJSON(v, make(map[uintptr]bool))
}

func toJSON(v any, active map[uintptr]bool) any {
	switch v := v.(type) {
	case engine.UndefinedValue:
		return nil
	case *engine.Object:
		return v.String()
	case []any:
		if len(v) == 0 {
			return v
		}
		key := reflect.ValueOf(v).Pointer()
		if active[key] {
			return circular
		}
		active[key] = true
		defer delete(active, key)

		out := make([]any, len(v))
		for i, e := range v {
			out[i] = toJSON(e, active)
		}
		return out
	case map[string]any:
		key := reflect.ValueOf(v).Pointer()
		if active[key] {
			return circular
		}
		active[key] = true
		defer delete(active, key)

		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = toJSON(e, active)
		}
		return out
	}
	return v
}

const circular = "[Circular]"
