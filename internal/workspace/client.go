// Package workspace provisions collaboration rooms for new contracts in the
// external workspace service.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"contractsvc/pkg/circuitbreaker"
	"contractsvc/pkg/config"
	"contractsvc/pkg/metrics"
	"contractsvc/pkg/otel"
	"contractsvc/pkg/trace"
)

const roomsPath = "/api/workspaces/rooms"

// ServiceCredential is the system identity presented to the workspace
// service. It is always passed explicitly.
type ServiceCredential struct {
	UserID string
	Role   string
	Email  string
}

// CredentialFromConfig builds the system credential, defaulting the fields
// the workspace service requires.
func CredentialFromConfig(cfg config.WorkspaceConfig) ServiceCredential {
	cred := ServiceCredential{
		UserID: cfg.SystemUserID,
		Role:   cfg.SystemRole,
		Email:  cfg.SystemEmail,
	}
	if cred.UserID == "" {
		cred.UserID = "system"
	}
	if cred.Role == "" {
		cred.Role = "ADMIN"
	}
	return cred
}

type RoomRequest struct {
	ContractID   int64
	JobTitle     string
	ClientID     int64
	FreelancerID int64
}

type Room struct {
	ID           int64     `json:"id"`
	ContractID   int64     `json:"contractId"`
	JobTitle     string    `json:"jobTitle"`
	ClientID     string    `json:"clientId"`
	FreelancerID string    `json:"freelancerId"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

type createRoomBody struct {
	ContractID   int64  `json:"contractId"`
	JobTitle     string `json:"jobTitle"`
	ClientID     string `json:"clientId"`
	FreelancerID string `json:"freelancerId"`
	Status       string `json:"status"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("workspace service returned %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	http       *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	maxElapsed time.Duration
	logger     *zap.Logger
}

func NewClient(cfg config.WorkspaceConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = 3 * timeout
	}

	cbCfg := circuitbreaker.DefaultConfig()
	if cfg.FailureLimit > 0 {
		cbCfg.FailureThreshold = cfg.FailureLimit
	}
	if cfg.BreakerTimeout > 0 {
		cbCfg.Timeout = cfg.BreakerTimeout
	}
	cbCfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("Workspace circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		http:       &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.NewCircuitBreaker(cbCfg),
		maxElapsed: maxElapsed,
		logger:     logger,
	}
}

// CreateRoom creates the room for a contract. Transport errors and 5xx
// responses are retried with exponential backoff until maxElapsed or ctx
// expires; 4xx responses and an open breaker fail immediately.
func (c *Client) CreateRoom(ctx context.Context, cred ServiceCredential, req RoomRequest) (_ *Room, err error) {
	ctx, span := otel.StartSpan(ctx, "workspace.CreateRoom",
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(attribute.Int64("contract.id", req.ContractID)),
	)
	defer func() { otel.End(span, err) }()

	body, err := json.Marshal(createRoomBody{
		ContractID:   req.ContractID,
		JobTitle:     req.JobTitle,
		ClientID:     strconv.FormatInt(req.ClientID, 10),
		FreelancerID: strconv.FormatInt(req.FreelancerID, 10),
		Status:       "ACTIVE",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode room request: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = c.maxElapsed

	var room *Room
	attempt := 0
	op := func() error {
		attempt++
		err := c.breaker.Execute(func() error {
			var callErr error
			room, callErr = c.post(ctx, cred, body)
			return callErr
		})
		if err == nil {
			return nil
		}
		var se *StatusError
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) ||
			(errors.As(err, &se) && se.StatusCode < http.StatusInternalServerError) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("Workspace room request failed, retrying",
			zap.Int64("contract_id", req.ContractID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return room, nil
}

// BreakerState reports the circuit breaker guarding the workspace service.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

func (c *Client) post(ctx context.Context, cred ServiceCredential, body []byte) (*Room, error) {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.RecordWorkspaceCallLatency(roomsPath, status, time.Since(start))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+roomsPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-User-Id", cred.UserID)
	httpReq.Header.Set("X-User-Role", cred.Role)
	if cred.Email != "" {
		httpReq.Header.Set("X-User-Email", cred.Email)
	}
	if traceID := trace.FromContext(ctx); traceID != "" {
		httpReq.Header.Set(trace.HeaderName(), traceID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var room Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, fmt.Errorf("failed to decode workspace response: %w", err)
	}
	return &room, nil
}
