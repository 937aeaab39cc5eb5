package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/fatflowers/dunning/internal/app/service/dunning"
	"github.com/fatflowers/dunning/internal/app/service/statistics"
	"github.com/fatflowers/dunning/internal/app/service/sweep"
	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/pkg/logctx"
	"github.com/fatflowers/dunning/pkg/response"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ProcessReader interface {
	Scan(ctx context.Context, req *dunning.ScanRequest) (*dunning.ScanResponse, error)
	Detail(ctx context.Context, id string) (*dunning.Detail, error)
}

type ProcessCanceller interface {
	Cancel(ctx context.Context, processID, reason string) (*models.DunningProcess, error)
}

type SweepRunner interface {
	Run(ctx context.Context) (*sweep.Stats, error)
}

type StatisticsGetter interface {
	Get(ctx context.Context, req *statistics.Request) (*statistics.Response, error)
}

type DeliveryLister interface {
	Recent(ctx context.Context, provider types.PaymentProvider, limit int) ([]*models.WebhookDeliveryLog, error)
}

type SubscriptionLogLister interface {
	Logs(ctx context.Context, subscriptionID string) ([]*models.SubscriptionLog, error)
}

// Admin groups the operator facing dependencies.
type Admin struct {
	Processes     ProcessReader
	Canceller     ProcessCanceller
	Sweeper       SweepRunner
	Statistics    StatisticsGetter
	Deliveries    DeliveryLister
	Subscriptions SubscriptionLogLister
	Log           *zap.SugaredLogger
}

type CancelProcessRequest struct {
	Reason string `json:"reason"`
}

// writeAdminError maps domain errors onto HTTP statuses.
func (a *Admin) writeAdminError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dunning.ErrProcessNotFound):
		c.JSON(http.StatusNotFound, response.ErrorMsg(response.APIResponseCodeNotFound, err.Error()))
	case errors.Is(err, dunning.ErrClaimConflict):
		c.JSON(http.StatusConflict, response.ErrorMsg(response.APIResponseCodeConflict, err.Error()))
	case errors.Is(err, dunning.ErrProcessTerminal):
		c.JSON(http.StatusUnprocessableEntity, response.ErrorMsg(response.APIResponseCodeUnprocessable, err.Error()))
	case errors.Is(err, dunning.ErrInvalidScan), errors.Is(err, statistics.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, response.ErrorMsg(response.APIResponseCodeBadRequest, err.Error()))
	default:
		logctx.FromGin(c, a.Log).Errorw("admin_request_failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorMsg(response.APIResponseCodeError, err.Error()))
	}
}

// @Summary      Scan dunning processes
// @Description  Paginated listing with filters on process columns.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body dunning.ScanRequest true "Scan request"
// @Success      200  {object}  handlers.RespScanProcesses
// @Failure      400  {object}  handlers.RespOK
// @Router       /api/v1/admin/dunning/scan [post]
func (a *Admin) ApiScanProcesses(c *gin.Context) {
	var req dunning.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorMsg(response.APIResponseCodeBadRequest, err.Error()))
		return
	}
	res, err := a.Processes.Scan(c.Request.Context(), &req)
	if err != nil {
		a.writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(res))
}

// @Summary      Dunning process detail
// @Tags         Admin
// @Produce      json
// @Param        id   path  string  true  "Process id"
// @Success      200  {object}  handlers.RespProcessDetail
// @Failure      404  {object}  handlers.RespOK
// @Router       /api/v1/admin/dunning/{id} [get]
func (a *Admin) ApiProcessDetail(c *gin.Context) {
	d, err := a.Processes.Detail(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(d))
}

// @Summary      Cancel a dunning process
// @Description  Ends an ACTIVE process without touching the subscription. 409 means a sweep holds the row, retry later.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        id       path  string                         true   "Process id"
// @Param        request  body  handlers.CancelProcessRequest  false  "Cancellation reason"
// @Success      200  {object}  handlers.RespProcess
// @Failure      404  {object}  handlers.RespOK
// @Failure      409  {object}  handlers.RespOK
// @Failure      422  {object}  handlers.RespOK
// @Router       /api/v1/admin/dunning/{id}/cancel [post]
func (a *Admin) ApiCancelProcess(c *gin.Context) {
	var req CancelProcessRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorMsg(response.APIResponseCodeBadRequest, err.Error()))
			return
		}
	}
	p, err := a.Canceller.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		a.writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(p))
}

// @Summary      Run a sweep now
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  handlers.RespSweepStats
// @Router       /api/v1/admin/dunning/sweep [post]
func (a *Admin) ApiRunSweep(c *gin.Context) {
	stats, err := a.Sweeper.Run(c.Request.Context())
	if err != nil {
		a.writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(stats))
}

// @Summary      Dunning statistics
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.Request true "Statistics request"
// @Success      200  {object}  handlers.RespStatistics
// @Failure      400  {object}  handlers.RespOK
// @Router       /api/v1/admin/statistics [post]
func (a *Admin) ApiStatistics(c *gin.Context) {
	var req statistics.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorMsg(response.APIResponseCodeBadRequest, err.Error()))
		return
	}
	res, err := a.Statistics.Get(c.Request.Context(), &req)
	if err != nil {
		a.writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(res))
}

// @Summary      Recent webhook deliveries
// @Tags         Admin
// @Produce      json
// @Param        provider  query  string  false  "Provider filter"
// @Param        limit     query  int     false  "Max rows, default 50"
// @Success      200  {object}  handlers.RespWebhookDeliveries
// @Failure      400  {object}  handlers.RespOK
// @Router       /api/v1/admin/webhook_deliveries [get]
func (a *Admin) ApiWebhookDeliveries(c *gin.Context) {
	var provider types.PaymentProvider
	if v := c.Query("provider"); v != "" {
		p, ok := types.ParsePaymentProvider(v)
		if !ok {
			c.JSON(http.StatusBadRequest, response.ErrorMsg(response.APIResponseCodeBadRequest, "unknown provider"))
			return
		}
		provider = p
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, response.ErrorMsg(response.APIResponseCodeBadRequest, "invalid limit"))
			return
		}
		limit = n
	}
	rows, err := a.Deliveries.Recent(c.Request.Context(), provider, limit)
	if err != nil {
		a.writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(rows))
}

// @Summary      Subscription audit trail
// @Tags         Admin
// @Produce      json
// @Param        id   path  string  true  "Subscription id"
// @Success      200  {object}  handlers.RespSubscriptionLogs
// @Router       /api/v1/admin/subscriptions/{id}/logs [get]
func (a *Admin) ApiSubscriptionLogs(c *gin.Context) {
	logs, err := a.Subscriptions.Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(logs))
}

func RegisterAdminRoutes(r gin.IRouter, a *Admin) {
	r.POST("/dunning/scan", a.ApiScanProcesses)
	r.POST("/dunning/sweep", a.ApiRunSweep)
	r.GET("/dunning/:id", a.ApiProcessDetail)
	r.POST("/dunning/:id/cancel", a.ApiCancelProcess)
	r.POST("/statistics", a.ApiStatistics)
	r.GET("/webhook_deliveries", a.ApiWebhookDeliveries)
	r.GET("/subscriptions/:id/logs", a.ApiSubscriptionLogs)
}
