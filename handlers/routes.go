package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/middlewares"
	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/mmdatafocus/serviceengine_backend/workflow"
)

// LifecycleConsumer handles one decoded lifecycle push message.
type LifecycleConsumer interface {
	Consume(ctx context.Context, msg config.LifecycleMessage) (skipped bool, err error)
}

// RegisterRoutes mounts the authenticated API on r.
func RegisterRoutes(r gin.IRouter, store *models.Store) {
	api := r.Group("/")
	api.Use(middlewares.AuthMiddleware(store))
	api.Use(middlewares.LoaderMiddleware(store))

	invoices := &invoiceHandler{store: store}
	api.POST("/invoices", invoices.create)
	api.GET("/invoices", invoices.list)
	api.GET("/invoices/export", invoices.export)
	api.GET("/invoices/:id", invoices.get)
	api.PUT("/invoices/:id", invoices.update)
	api.DELETE("/invoices/:id", invoices.delete)
	api.POST("/invoices/:id/charge", invoices.charge)
	api.POST("/invoices/:id/mark_paid", invoices.markPaid)

	proposals := &proposalHandler{store: store}
	api.POST("/proposals", proposals.create)
	api.GET("/proposals", proposals.list)
	api.GET("/proposals/:id", proposals.get)
	api.PATCH("/proposals/:id/send", proposals.send)
	api.POST("/proposals/:id/send", proposals.send)
	api.PATCH("/proposals/:id/sign", proposals.sign)
	api.POST("/proposals/:id/sign", proposals.sign)

	orders := &orderHandler{store: store}
	api.GET("/orders/:id", orders.get)
}

// RegisterHealth mounts liveness and readiness probes. ready reports whether
// the datastore is connected.
func RegisterHealth(r gin.IRouter, ready func() bool) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/readyz", func(c *gin.Context) {
		if ready != nil && !ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// LifecyclePushHandler acks Pub/Sub push deliveries of lifecycle events.
// Malformed messages are acked so they are not redelivered forever.
func LifecyclePushHandler(consumer LifecycleConsumer) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		var envelope workflow.PushEnvelope
		if err := c.ShouldBindJSON(&envelope); err != nil {
			config.LogError(logger, "handlers", "LifecyclePushHandler", "decode envelope", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		var msg config.LifecycleMessage
		if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
			config.LogError(logger, "handlers", "LifecyclePushHandler", "decode message", envelope.Message.ID, err)
			c.Status(http.StatusNoContent)
			return
		}
		_, err := consumer.Consume(c.Request.Context(), msg)
		switch {
		case err == nil:
			c.Status(http.StatusNoContent)
		case errors.Is(err, workflow.ErrInvalidLifecycleMessage):
			config.LogError(logger, "handlers", "LifecyclePushHandler", "invalid message", envelope.Message.ID, err)
			c.Status(http.StatusNoContent)
		default:
			// non-2xx asks Pub/Sub to redeliver
			config.LogError(logger, "handlers", "LifecyclePushHandler", "consume message", msg.EventId, err)
			c.Status(http.StatusInternalServerError)
		}
	}
}
