package dispatch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DispatchRequest 出库接口请求体
type DispatchRequest struct {
	TagIDs      []string `json:"tagIds"`
	ActorUserID string   `json:"actorUserId"`
}

// DispatchResponse 出库接口响应体
type DispatchResponse struct {
	Dispatched []DispatchedParcel `json:"dispatched"`
	Error      string             `json:"error,omitempty"`
}

// Client 中继出库接口的 HTTP 客户端
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient 创建出库客户端
func NewClient(baseURL string, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{httpClient: client, logger: logger}
}

// Dispatch 提交一批扫描到的标签做出库
func (c *Client) Dispatch(tagIDs []string, actorUserID string) ([]DispatchedParcel, error) {
	request := DispatchRequest{TagIDs: tagIDs, ActorUserID: actorUserID}

	var response DispatchResponse
	resp, err := c.httpClient.R().
		SetBody(request).
		SetResult(&response).
		SetError(&response).
		Post("/api/v1/parcels/dispatch")

	if err != nil {
		c.logger.Error("dispatch API call failed", zap.Error(err))
		return nil, fmt.Errorf("failed to call dispatch API: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		c.logger.Error("dispatch API returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", response.Error),
		)
		return nil, fmt.Errorf("dispatch API error: %s (status: %d)", response.Error, resp.StatusCode())
	}

	c.logger.Info("parcels dispatched via API",
		zap.Int("dispatched_count", len(response.Dispatched)),
	)
	return response.Dispatched, nil
}

// DispatchReport 请求 xlsx 出库清单，返回文件字节
func (c *Client) DispatchReport(tagIDs []string, actorUserID string) ([]byte, error) {
	request := DispatchRequest{TagIDs: tagIDs, ActorUserID: actorUserID}

	resp, err := c.httpClient.R().
		SetBody(request).
		SetQueryParam("format", "xlsx").
		Post("/api/v1/parcels/dispatch")

	if err != nil {
		return nil, fmt.Errorf("failed to call dispatch API: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("dispatch API error (status: %d)", resp.StatusCode())
	}
	return resp.Body(), nil
}
