package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/domain/financial"
	"possync/internal/domain/order"
	"possync/internal/domain/routing"
	"possync/internal/domain/sync"
)

const (
	headerTerminalID     = "X-Terminal-ID"
	headerIdempotencyKey = "Idempotency-Key"
	userAgent            = "possync-terminal/1.0"
)

var errUnexpectedStatus = errors.New("unexpected status")

// PushOrderRequest тело отправки заказа с базовой версией.
type PushOrderRequest struct {
	Order          order.Order `json:"order"`
	BaseVersion    int64       `json:"base_version"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	TerminalID     string      `json:"terminal_id,omitempty"`
}

// ConflictBody тело ответа 409.
type ConflictBody struct {
	Error  string       `json:"error"`
	Remote *order.Order `json:"remote"`
}

// FailedItem запись об ошибке, которую хранит облако.
type FailedItem struct {
	financial.Item
	ErrorKind string `json:"error_kind"`
}

// CloudClient HTTP клиент облака и главного терминала.
type CloudClient struct {
	client     *http.Client
	log        *slog.Logger
	cloudURL   string
	terminalID string
}

// NewCloudClient создает клиент. cloudAddress без схемы дополняется
// http:// или https:// в зависимости от enableTLS.
func NewCloudClient(cloudAddress, terminalID string, enableTLS bool, timeout time.Duration, log *slog.Logger) *CloudClient {
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &CloudClient{
		client:     client,
		log:        log.With("component", "cloud_client"),
		cloudURL:   BaseURL(cloudAddress, enableTLS),
		terminalID: terminalID,
	}
}

// BaseURL приводит адрес к URL со схемой и без завершающего слеша.
func BaseURL(address string, enableTLS bool) string {
	address = strings.TrimRight(address, "/")
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return address
	}
	if enableTLS {
		return "https://" + address
	}
	return "http://" + address
}

// CloudURL адрес облака.
func (c *CloudClient) CloudURL() string {
	return c.cloudURL
}

// PushOrder отправляет заказ по маршруту route. Ответ 409 возвращается
// как *order.VersionConflictError с текущим заказом облака.
func (c *CloudClient) PushOrder(ctx context.Context, route routing.Route, o order.Order, baseVersion int64, key string) (*order.Order, error) {
	const op = "push order"

	body := PushOrderRequest{
		Order:          o,
		BaseVersion:    baseVersion,
		IdempotencyKey: key,
		TerminalID:     c.terminalID,
	}

	var accepted order.Order
	status, raw, err := c.do(ctx, http.MethodPost, routeURL(route, c.cloudURL)+"/api/v1/orders/"+url.PathEscape(o.ID)+"/push", body, key)
	if err != nil {
		return nil, sync.Connectivity(op, err)
	}

	if status == http.StatusConflict {
		var cb ConflictBody
		if err := json.Unmarshal(raw, &cb); err != nil || cb.Remote == nil {
			return nil, sync.Permanent(op, fmt.Errorf("conflict without remote order: %s", strings.TrimSpace(string(raw))))
		}
		return nil, &order.VersionConflictError{OrderID: o.ID, BaseVersion: baseVersion, Remote: cb.Remote}
	}
	if err := statusError(op, status, raw); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(raw, &accepted); err != nil {
		return nil, sync.Transient(op, fmt.Errorf("failed to decode accepted order: %w", err))
	}
	return &accepted, nil
}

// FetchOrder получает текущий заказ по маршруту route.
func (c *CloudClient) FetchOrder(ctx context.Context, route routing.Route, id string) (*order.Order, error) {
	const op = "fetch order"

	status, raw, err := c.do(ctx, http.MethodGet, routeURL(route, c.cloudURL)+"/api/v1/orders/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, sync.Connectivity(op, err)
	}
	if err := statusError(op, status, raw); err != nil {
		return nil, err
	}

	var o order.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, sync.Transient(op, fmt.Errorf("failed to decode order: %w", err))
	}
	return &o, nil
}

// PushFinancial отправляет финансовое изменение напрямую в облако.
func (c *CloudClient) PushFinancial(ctx context.Context, item financial.Item) error {
	const op = "push financial"

	path := fmt.Sprintf("/api/v1/financial/%s/%s", item.TableName, item.Operation)
	body := struct {
		RecordID   string          `json:"record_id"`
		Payload    json.RawMessage `json:"payload"`
		TerminalID string          `json:"terminal_id"`
	}{item.RecordID, item.Payload, c.terminalID}

	status, raw, err := c.do(ctx, http.MethodPost, c.cloudURL+path, body, item.Key())
	if err != nil {
		return sync.Connectivity(op, err)
	}
	return statusError(op, status, raw)
}

// FetchFailed возвращает ошибки, которые облако записало для терминала.
func (c *CloudClient) FetchFailed(ctx context.Context) ([]financial.Item, error) {
	const op = "fetch failed items"

	status, raw, err := c.do(ctx, http.MethodGet,
		c.cloudURL+"/api/v1/financial/failed?terminal_id="+url.QueryEscape(c.terminalID), nil, "")
	if err != nil {
		return nil, sync.Connectivity(op, err)
	}
	if err := statusError(op, status, raw); err != nil {
		return nil, err
	}

	var wire []FailedItem
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, sync.Transient(op, fmt.Errorf("failed to decode failed items: %w", err))
	}

	items := make([]financial.Item, 0, len(wire))
	for _, w := range wire {
		it := w.Item
		it.ErrorKind = sync.ParseKind(w.ErrorKind)
		items = append(items, it)
	}
	return items, nil
}

// AckFailed подтверждает облаку, что запись доставлена.
func (c *CloudClient) AckFailed(ctx context.Context, id string) error {
	const op = "ack failed item"

	status, raw, err := c.do(ctx, http.MethodPost,
		c.cloudURL+"/api/v1/financial/failed/"+url.PathEscape(id)+"/ack", nil, "")
	if err != nil {
		return sync.Connectivity(op, err)
	}
	return statusError(op, status, raw)
}

// Probe полный запрос-ответ к главному терминалу. Реализует routing.Prober.
func (c *CloudClient) Probe(ctx context.Context, parent routing.ParentInfo) error {
	const op = "probe parent"

	status, raw, err := c.do(ctx, http.MethodGet, strings.TrimRight(parent.Address, "/")+"/api/v1/health", nil, "")
	if err != nil {
		return sync.Connectivity(op, err)
	}
	return statusError(op, status, raw)
}

func (c *CloudClient) do(ctx context.Context, method, target string, body any, key string) (int, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.terminalID != "" {
		req.Header.Set(headerTerminalID, c.terminalID)
	}
	if key != "" {
		req.Header.Set(headerIdempotencyKey, key)
	}

	c.log.Debug("sending request", "method", method, "url", target)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}

	c.log.Debug("response received", "url", target, "status", resp.StatusCode)
	return resp.StatusCode, raw, nil
}

func routeURL(route routing.Route, cloudURL string) string {
	if route.Address == "" {
		return cloudURL
	}
	return strings.TrimRight(route.Address, "/")
}

// statusError переводит код ответа в класс ошибки синхронизации.
func statusError(op string, status int, raw []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	err := fmt.Errorf("%w %d: %s", errUnexpectedStatus, status, errorText(raw))
	switch {
	case status == http.StatusConflict:
		return sync.Wrap(sync.KindConflict, op, err)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return sync.Validation(op, err)
	case status == http.StatusNotFound || status == http.StatusGone:
		return sync.Permanent(op, err)
	case status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return sync.Transient(op, err)
	default:
		return sync.Permanent(op, err)
	}
}

func errorText(raw []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	return strings.TrimSpace(string(raw))
}
