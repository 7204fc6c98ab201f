package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/domain/model"
)

// DefaultTimeout bounds a webhook call when none is configured
const DefaultTimeout = 10 * time.Second

const userAgent = "firestore-sync-transform/1.0"

// WebhookClient posts documents to a remote transform endpoint and returns
// the document it answers with
type WebhookClient struct {
	timeout time.Duration
	logger  logger.Logger
}

func NewWebhookClient(timeout time.Duration, log logger.Logger) *WebhookClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WebhookClient{timeout: timeout, logger: log.WithComponent("transform_webhook")}
}

// Transform sends {documentId, ...fields}. Anything but a 2xx JSON object is a
// TransformWebhookError.
func (c *WebhookClient) Transform(ctx context.Context, url string, documentID string, document model.Value) (model.Value, error) {
	if err := ctx.Err(); err != nil {
		return model.Null, errors.NewTransformWebhookError(url, err)
	}

	fields := map[string]model.Value{"documentId": model.String(documentID)}
	for k, v := range document.Fields() {
		fields[k] = v
	}
	body, err := json.Marshal(model.Object(fields))
	if err != nil {
		return model.Null, errors.NewTransformWebhookError(url, err)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Post(url)
	agent.UserAgent(userAgent)
	agent.Timeout(timeout)
	agent.ContentType(fiber.MIMEApplicationJSON)
	agent.Body(body)

	start := time.Now()
	status, respBody, errs := agent.Bytes()
	log := c.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"url":         url,
		"document_id": documentID,
		"status":      status,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if len(errs) > 0 {
		log.WithError(errs[0]).Warn("Transform webhook request failed")
		return model.Null, errors.NewTransformWebhookError(url, errs[0])
	}
	if status < 200 || status > 299 {
		log.Warn("Transform webhook returned an error status")
		return model.Null, errors.NewTransformWebhookError(url, fmt.Errorf("unexpected status %d", status)).
			WithDetail("status", status)
	}

	var out model.Value
	if err := json.Unmarshal(respBody, &out); err != nil {
		return model.Null, errors.NewTransformWebhookError(url, fmt.Errorf("invalid response body: %w", err))
	}
	if out.Kind() != model.KindObject {
		return model.Null, errors.NewTransformWebhookError(url, fmt.Errorf("response is %s, not an object", out.Kind()))
	}

	log.Debug("Document transformed")
	return out, nil
}
