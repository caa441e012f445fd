package cloudfleet

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/config"
	"bitbucket.org/mmdatafocus/cloudfleet_sync/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PubSubPushEnvelope is the body Pub/Sub push subscriptions POST to the service.
type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		MessageId  string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Publisher sends a sync request to the async trigger topic.
type Publisher func(ctx context.Context, msg config.SyncRequestMessage) (string, error)

// NewSyncRequest builds the message published by the async endpoint.
func NewSyncRequest(correlationId string, requestedBy string, now time.Time) config.SyncRequestMessage {
	if correlationId == "" {
		correlationId = uuid.NewString()
	}
	return config.SyncRequestMessage{
		CorrelationId: correlationId,
		RequestedAt:   now,
		RequestedBy:   requestedBy,
	}
}

// PubSubPushHandler runs a sync for each pushed request. It always answers 204 so Pub/Sub does not
// redeliver: a failed run is already recorded in the sync log.
func (h *Handler) PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			logger.WithError(err).Warn("invalid pubsub push envelope")
			c.Status(204)
			return
		}

		var req config.SyncRequestMessage
		if len(envelope.Message.Data) > 0 {
			if err := json.Unmarshal(envelope.Message.Data, &req); err != nil {
				logger.WithError(err).Warn("invalid sync request payload")
				c.Status(204)
				return
			}
		}
		if req.CorrelationId == "" {
			req.CorrelationId = envelope.Message.Attributes["correlation_id"]
		}

		result, err := h.syncer.Run(c.Request.Context(), Trigger{By: models.SyncTriggeredPubSub, CorrelationId: req.CorrelationId})
		fields := logrus.Fields{"correlation_id": req.CorrelationId, "message_id": envelope.Message.MessageId}
		if err != nil {
			logger.WithFields(fields).WithError(err).Error("pubsub triggered sync failed")
		} else {
			logger.WithFields(fields).WithField("run_id", result.RunId).Info("pubsub triggered sync completed")
		}
		c.Status(204)
	}
}
