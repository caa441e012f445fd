package cloudfleet

import (
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/config"
	"bitbucket.org/mmdatafocus/cloudfleet_sync/models"
	"bitbucket.org/mmdatafocus/cloudfleet_sync/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// RecentRunsLimit is how many runs the sync log endpoints return.
const RecentRunsLimit = 10

type Handler struct {
	db       *gorm.DB
	syncer   *Syncer
	publish  Publisher
	validate *validator.Validate
}

func NewHandler(db *gorm.DB, syncer *Syncer, publish Publisher) *Handler {
	return &Handler{db: db, syncer: syncer, publish: publish, validate: validator.New()}
}

// RegisterRoutes mounts the sync and read endpoints on api; auth guards the endpoints that start runs.
func (h *Handler) RegisterRoutes(api gin.IRouter, auth gin.HandlerFunc) {
	api.POST("/sync", auth, h.SyncHandler())
	api.POST("/sync/async", auth, h.AsyncSyncHandler())
	api.GET("/sync-logs", h.SyncLogsHandler())
	api.GET("/sync-logs/export", h.ExportSyncLogsHandler())
	api.GET("/sync-logs/:id/errors", h.SyncErrorsHandler())

	api.GET("/vehicles", h.VehiclesHandler())
	api.GET("/work-orders", h.WorkOrdersHandler())
	api.GET("/work-orders/:number", h.WorkOrderHandler())
}

func (h *Handler) SyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		subject, _ := utils.GetSubjectFromContext(ctx)

		result, err := h.syncer.Run(ctx, Trigger{By: triggeredBy(subject), CorrelationId: correlationId})
		if errors.Is(err, ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			config.LogError(config.GetLogger(), "cloudfleet", "SyncHandler", "Error while syncing data", correlationId, err)
			c.String(http.StatusInternalServerError, "Error while syncing data")
			return
		}
		c.JSON(http.StatusOK, result.Summary())
	}
}

func triggeredBy(subject string) string {
	if subject != "" {
		return subject
	}
	return models.SyncTriggeredManual
}

func (h *Handler) AsyncSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.publish == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async sync is not configured"})
			return
		}
		ctx := c.Request.Context()
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		subject, _ := utils.GetSubjectFromContext(ctx)

		msg := NewSyncRequest(correlationId, triggeredBy(subject), h.syncer.clock.Now())
		messageId, err := h.publish(ctx, msg)
		if err != nil {
			config.LogError(config.GetLogger(), "cloudfleet", "AsyncSyncHandler", "publish sync request", msg, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error while requesting sync"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"message":       "Sync requested",
			"messageId":     messageId,
			"correlationId": msg.CorrelationId,
		})
	}
}

func (h *Handler) SyncLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runs, err := models.GetRecentSyncRuns(c.Request.Context(), h.db, RecentRunsLimit)
		if err != nil {
			config.LogError(config.GetLogger(), "cloudfleet", "SyncLogsHandler", "Error while fetching last 10 logs", nil, err)
			c.String(http.StatusInternalServerError, "Error while fetching last 10 logs")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "Last 10 sync records",
			"data":    runs,
		})
	}
}

func (h *Handler) ExportSyncLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runs, err := models.GetRecentSyncRuns(c.Request.Context(), h.db, RecentRunsLimit)
		if err != nil {
			config.LogError(config.GetLogger(), "cloudfleet", "ExportSyncLogsHandler", "fetch sync runs", nil, err)
			c.String(http.StatusInternalServerError, "Error while exporting sync logs")
			return
		}
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=cloudfleet-sync-logs.xlsx")
		c.Status(http.StatusOK)
		if err := WriteSyncRunsXlsx(c.Writer, runs); err != nil {
			config.LogError(config.GetLogger(), "cloudfleet", "ExportSyncLogsHandler", "write xlsx", nil, err)
		}
	}
}

func (h *Handler) SyncErrorsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runId, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || runId == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sync run id"})
			return
		}
		ctx := c.Request.Context()
		run, err := models.GetSyncRun(ctx, h.db, uint(runId))
		if errors.Is(err, models.ErrSyncRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		syncErrors, err := models.GetSyncErrors(ctx, h.db, run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"run": run, "data": syncErrors})
	}
}

func (h *Handler) VehiclesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q VehicleQuery
		_ = c.ShouldBindQuery(&q)
		if err := h.validate.Struct(q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "owner query parameter is required",
				"fields": utils.ProcessValidationErrors(err),
			})
			return
		}

		vehicles, err := h.syncer.Client().Vehicles(c.Request.Context(), q.Owner)
		if err != nil {
			respondUpstreamError(c, "VehiclesHandler", err)
			return
		}
		c.JSON(http.StatusOK, vehicles)
	}
}

func (h *Handler) WorkOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q WorkOrderQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		orders, err := h.syncer.Client().WorkOrders(c.Request.Context(), q)
		if err != nil {
			respondUpstreamError(c, "WorkOrdersHandler", err)
			return
		}
		c.JSON(http.StatusOK, orders)
	}
}

func (h *Handler) WorkOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		number, err := strconv.Atoi(c.Param("number"))
		if err != nil || number <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid work order number"})
			return
		}
		order, err := h.syncer.Client().WorkOrder(c.Request.Context(), number)
		if err != nil {
			respondUpstreamError(c, "WorkOrderHandler", err)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", order)
	}
}

// respondUpstreamError maps a read-surface failure to a status: missing input is the caller's
// fault, an upstream 404 is forwarded, anything else is a bad gateway.
func respondUpstreamError(c *gin.Context, funcName string, err error) {
	if errors.Is(err, ErrMissingParameter) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) && upstreamErr.StatusCode == http.StatusNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	config.LogError(config.GetLogger(), "cloudfleet", funcName, "upstream request failed", nil, err)
	c.JSON(http.StatusBadGateway, gin.H{"error": "upstream request failed"})
}
