package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/fatflowers/dunning/internal/app/service/webhook"
	"github.com/fatflowers/dunning/pkg/logctx"
	"github.com/fatflowers/dunning/pkg/response"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBody bounds a single provider delivery.
const maxWebhookBody = 1 << 20

// Ingestor is the webhook entry the handler depends on.
type Ingestor interface {
	Ingest(ctx context.Context, provider types.PaymentProvider, header http.Header, body []byte) (*webhook.Ack, error)
}

// @Summary      Provider webhook
// @Description  Receives a billing webhook. Duplicates are acknowledged with duplicate=true. Non-2xx responses ask the provider to redeliver.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        provider  path  string  true  "stripe | paystack | square | midtrans | bank_transfer"
// @Success      200  {object}  handlers.RespWebhookAck
// @Failure      400  {object}  handlers.RespOK
// @Failure      401  {object}  handlers.RespOK
// @Failure      404  {object}  handlers.RespOK
// @Failure      500  {object}  handlers.RespOK
// @Router       /webhooks/{provider} [post]
func ApiWebhook(ing Ingestor, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		lg := logctx.FromGin(c, log)
		provider, ok := types.ParsePaymentProvider(c.Param("provider"))
		if !ok {
			c.JSON(http.StatusNotFound, response.ErrorMsg(response.APIResponseCodeNotFound, "unknown provider"))
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorMsg(response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if len(body) > maxWebhookBody {
			c.JSON(http.StatusRequestEntityTooLarge, response.ErrorMsg(response.APIResponseCodeBadRequest, "payload too large"))
			return
		}
		lg.Infow("webhook_received", "provider", provider, "bytes", len(body))

		ack, err := ing.Ingest(c.Request.Context(), provider, c.Request.Header, body)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, response.OKT(ack))
		case errors.Is(err, webhook.ErrInvalidSignature):
			c.JSON(http.StatusUnauthorized, response.ErrorMsg(response.APIResponseCodeUnauthorized, "invalid signature"))
		case errors.Is(err, webhook.ErrMalformedPayload):
			c.JSON(http.StatusBadRequest, response.ErrorMsg(response.APIResponseCodeBadRequest, err.Error()))
		case errors.Is(err, webhook.ErrUnsupportedProvider):
			c.JSON(http.StatusNotFound, response.ErrorMsg(response.APIResponseCodeNotFound, err.Error()))
		default:
			lg.Errorw("webhook_handle_error", "provider", provider, "error", err)
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
		}
	}
}

func RegisterWebhookRoutes(r gin.IRouter, ing Ingestor, log *zap.SugaredLogger) {
	r.POST("/:provider", ApiWebhook(ing, log))
}
