package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/aelexs/roomchat/internal/chatclient/app"
	"github.com/aelexs/roomchat/internal/domain"
	"github.com/aelexs/roomchat/internal/errmap"
	"github.com/aelexs/roomchat/internal/observability"
)

// maxAuthResponseSize bounds how much of an auth response is read.
const maxAuthResponseSize = 1 << 20

// Default texts shown when the auth API gives no message of its own.
const (
	defaultLoginFailure    = "login failed"
	defaultRegisterFailure = "registration failed"
)

// httpDoer is the subset of *http.Client the auth client needs.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Compile-time interface satisfaction check.
var _ app.AuthAPI = (*HTTPAuthClient)(nil)

// HTTPAuthConfig configures HTTPAuthClient.
type HTTPAuthConfig struct {
	BaseURL string
	Timeout time.Duration
	Client  httpDoer
	Logger  *slog.Logger
}

// HTTPAuthClient talks to the account service's JSON API.
type HTTPAuthClient struct {
	baseURL string
	timeout time.Duration
	client  httpDoer
	logger  *slog.Logger
}

// NewHTTPAuthClient creates an HTTPAuthClient. A nil Client uses
// http.DefaultClient.
func NewHTTPAuthClient(cfg HTTPAuthConfig) *HTTPAuthClient {
	c := &HTTPAuthClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = domain.AuthTimeout
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerBody struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	AuthCode string `json:"authCode"`
}

type identityBody struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type failureBody struct {
	Message string `json:"message"`
}

// Login posts credentials to {base}/login.
func (c *HTTPAuthClient) Login(ctx context.Context, req app.LoginRequest) (domain.Identity, error) {
	ctx, span := tracer.Start(ctx, "authapi.login")
	defer span.End()

	identity, err := c.post(ctx, "/login", loginBody{
		Username: req.Username,
		Password: req.Password,
	}, defaultLoginFailure)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Identity{}, err
	}
	span.SetAttributes(attribute.String("user_id", identity.ID))
	return identity, nil
}

// Register posts the registration form to {base}/register.
func (c *HTTPAuthClient) Register(ctx context.Context, req app.RegisterRequest) (domain.Identity, error) {
	ctx, span := tracer.Start(ctx, "authapi.register")
	defer span.End()

	identity, err := c.post(ctx, "/register", registerBody{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		AuthCode: req.AuthCode,
	}, defaultRegisterFailure)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Identity{}, err
	}
	span.SetAttributes(attribute.String("user_id", identity.ID))
	return identity, nil
}

// post sends body as JSON and decodes the identity. Failures carry the
// server's message, or fallback when it has none.
func (c *HTTPAuthClient) post(ctx context.Context, path string, body any, fallback string) (domain.Identity, error) {
	logger := observability.WithTraceID(ctx, c.logger)

	payload, err := json.Marshal(body)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("auth api: encode %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("auth api: build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		logger.WarnContext(ctx, "auth api unreachable", "path", path, "error", err)
		return domain.Identity{}, domain.NewRemoteError(domain.ErrUnavailable, fallback)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAuthResponseSize))
	if err != nil {
		logger.WarnContext(ctx, "auth api response unreadable", "path", path, "error", err)
		return domain.Identity{}, domain.NewRemoteError(domain.ErrUnavailable, fallback)
	}

	if !errmap.IsSuccessStatus(resp.StatusCode) {
		var failure failureBody
		_ = json.Unmarshal(raw, &failure)
		msg := failure.Message
		if msg == "" {
			msg = fallback
		}
		logger.InfoContext(ctx, "auth api rejected request",
			"path", path, "status", resp.StatusCode, "message", msg)
		return domain.Identity{}, errmap.FromHTTPStatus(resp.StatusCode, msg)
	}

	var ok identityBody
	if err := json.Unmarshal(raw, &ok); err != nil {
		logger.WarnContext(ctx, "auth api sent undecodable identity", "path", path, "error", err)
		return domain.Identity{}, domain.NewRemoteError(domain.ErrAuthRejected, fallback)
	}
	identity, err := domain.NewIdentity(ok.UserID, ok.Username)
	if err != nil {
		logger.WarnContext(ctx, "auth api sent incomplete identity", "path", path, "error", err)
		return domain.Identity{}, domain.NewRemoteError(domain.ErrAuthRejected, fallback)
	}
	return identity, nil
}
