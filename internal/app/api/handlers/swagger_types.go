package handlers

import (
	"github.com/fatflowers/dunning/internal/app/service/dunning"
	"github.com/fatflowers/dunning/internal/app/service/statistics"
	"github.com/fatflowers/dunning/internal/app/service/sweep"
	"github.com/fatflowers/dunning/internal/app/service/webhook"
	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespWebhookAck struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    webhook.Ack              `json:"data"`
}

type RespScanProcesses struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    dunning.ScanResponse     `json:"data"`
}

type RespProcessDetail struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    dunning.Detail           `json:"data"`
}

type RespProcess struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.DunningProcess    `json:"data"`
}

type RespSweepStats struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    sweep.Stats              `json:"data"`
}

type RespStatistics struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    statistics.Response      `json:"data"`
}

type RespWebhookDeliveries struct {
	Code    response.APIResponseCode    `json:"code"`
	Message string                      `json:"message"`
	Data    []models.WebhookDeliveryLog `json:"data"`
}

type RespSubscriptionLogs struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []models.SubscriptionLog `json:"data"`
}
