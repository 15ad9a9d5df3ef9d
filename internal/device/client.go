// Package device talks to the access device's management REST API.
package device

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/nashmick001/mikrotik-portal/internal/metrics"
	"github.com/nashmick001/mikrotik-portal/pkg/config"
)

const loginPath = "/rest/ip/hotspot/active/login"

// Result is the uniform outcome of a device call. Failures never surface as
// a Go error past this package.
type Result struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the structured error body the device returns on failure.
type ErrorDetail struct {
	Error   int    `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type loginRequest struct {
	IP       string `json:"ip" validate:"required,ip"`
	User     string `json:"user" validate:"required"`
	Password string `json:"password"`
}

// Client logs hotspot users in on the access device.
type Client struct {
	endpoint string
	user     string
	password string
	http     *http.Client
	log      zerolog.Logger
	validate *validator.Validate
}

// NewClient builds a client from the device configuration. Certificate
// checks are only disabled when cfg.InsecureSkipVerify is set.
func NewClient(cfg config.DeviceConfig, log zerolog.Logger) *Client {
	log = log.With().Str("component", "device").Logger()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec
	if cfg.InsecureSkipVerify {
		log.Warn().Str("host", cfg.Host).Msg("TLS certificate verification disabled for device API")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		endpoint: Endpoint(cfg.Protocol, cfg.Host),
		user:     cfg.User,
		password: cfg.Password,
		http:     &http.Client{Transport: transport, Timeout: timeout},
		log:      log,
		validate: validator.New(),
	}
	log.Info().Str("endpoint", c.endpoint).Bool("insecure_skip_verify", cfg.InsecureSkipVerify).
		Msg("device client initialized")
	return c
}

// Endpoint strips any scheme or path from host and returns the login URL.
func Endpoint(protocol, host string) string {
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	if i := strings.Index(host, "/"); i >= 0 {
		host = host[:i]
	}
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s%s", protocol, host, loginPath)
}

// LoginUser asks the device to mark ip as logged in under user/password.
func (c *Client) LoginUser(ctx context.Context, ip, user, password string) Result {
	log := c.log.With().Str("ip", ip).Str("user", user).Logger()

	body := loginRequest{IP: ip, User: user, Password: password}
	if err := c.validate.Struct(body); err != nil {
		metrics.DeviceLoginTotal.WithLabelValues("rejected").Inc()
		log.Warn().Err(err).Msg("invalid login request")
		return Result{Success: false, Message: fmt.Sprintf("invalid login request: %v", err)}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return c.transportFailure(log, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return c.transportFailure(log, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportFailure(log, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return c.transportFailure(log, err)
	}
	log.Debug().Int("status", resp.StatusCode).Bytes("body", payload).Msg("device responded")

	if resp.StatusCode == http.StatusOK {
		metrics.DeviceLoginTotal.WithLabelValues("success").Inc()
		log.Info().Msg("device login successful")
		return Result{Success: true, Message: "Login successful"}
	}

	metrics.DeviceLoginTotal.WithLabelValues("rejected").Inc()
	result := Result{Success: false, Message: fmt.Sprintf("Login failed with status: %d", resp.StatusCode)}

	var detail ErrorDetail
	if err := json.Unmarshal(payload, &detail); err == nil {
		result.Error = &detail
		switch {
		case detail.Detail != "":
			result.Message = detail.Detail
		case detail.Message != "":
			result.Message = detail.Message
		}
	}
	log.Warn().Int("status", resp.StatusCode).Str("message", result.Message).Msg("device login rejected")
	return result
}

func (c *Client) transportFailure(log zerolog.Logger, err error) Result {
	metrics.DeviceLoginTotal.WithLabelValues("transport_error").Inc()
	log.Error().Err(err).Msg("device login request failed")
	return Result{Success: false, Message: err.Error()}
}
