package engine

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pingcap/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/model"
)

type submitRequest struct {
	ClientID string       `json:"client_id"`
	Prompt   *model.Graph `json:"prompt"`
}

// Submit queues the graph for execution and returns the engine's job id.
func (c *Client) Submit(ctx context.Context, g *model.Graph) (model.JobID, error) {
	endpoint := c.endpoint("/prompt", nil)
	payload, err := json.Marshal(submitRequest{ClientID: c.clientID, Prompt: g})
	if err != nil {
		return "", errors.Annotate(ErrSubmitFailed, err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	req, err := c.newRequest(callCtx, http.MethodPost, endpoint, payload, "application/json")
	if err != nil {
		return "", errors.Annotate(ErrSubmitFailed, err.Error())
	}
	status, _, body, err := c.do(req)
	if err != nil {
		c.logger.Warn("submit failed", zap.String("endpoint", endpoint), zap.Error(err))
		return "", errors.Annotatef(ErrSubmitFailed, "POST %s: %v", endpoint, err)
	}
	if !statusOK(status) {
		fields := []zap.Field{zap.String("endpoint", endpoint), zap.Int("status", status)}
		if ne := gjson.GetBytes(body, "node_errors"); ne.Exists() {
			fields = append(fields, zap.String("node-errors", ne.Raw))
		}
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			fields = append(fields, zap.String("message", msg.String()))
		} else {
			fields = append(fields, zap.String("body", snippet(body)))
		}
		c.logger.Warn("submit rejected", fields...)
		return "", errors.Annotatef(ErrSubmitFailed, "POST %s: status %d", endpoint, status)
	}

	id := gjson.GetBytes(body, "prompt_id")
	if id.Type != gjson.String || id.String() == "" {
		c.logger.Warn("submit response has no prompt_id", zap.String("body", snippet(body)))
		return "", errors.Annotatef(ErrSubmitFailed, "POST %s: missing prompt_id", endpoint)
	}
	jobID := model.JobID(id.String())
	c.logger.Info("job submitted", zap.String("job-id", string(jobID)), zap.String("client-id", c.clientID))
	return jobID, nil
}
