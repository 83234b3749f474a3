// Package notify tells the course frontend about finished updates and asks
// it to mail course staff when something went wrong.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/coursebuilder/internal/config"
	"git.home.luguber.info/inful/coursebuilder/internal/course"
	"git.home.luguber.info/inful/coursebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
)

// Notifier is the frontend collaborator used by the update pipeline.
// Build-log output goes to log; operator diagnostics go to the client's own logger.
type Notifier interface {
	NotifyUpdate(ctx context.Context, log *slog.Logger, c *course.Course) (bool, []string)
	SendErrorMail(ctx context.Context, log *slog.Logger, c *course.Course, subject, message string) bool
}

// Client talks to the frontend's v2 course API.
type Client struct {
	FrontendURL *url.URL
	Signer      *Signer
	HTTP        *http.Client
	Logger      *slog.Logger
}

// New returns a Client for cfg, or Disabled when no frontend is configured.
func New(cfg config.FrontendConfig, logger *slog.Logger) (Notifier, error) {
	if cfg.URL == "" {
		return Disabled{}, nil
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.ConfigError("invalid frontend URL").WithCause(err).WithContext("url", cfg.URL).Build()
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout.Duration()
	return &Client{
		FrontendURL: u,
		Signer:      NewSigner(cfg.SigningKey, cfg.Issuer, timeout+time.Minute),
		HTTP:        &http.Client{Timeout: timeout},
		Logger:      logger,
	}, nil
}

// NotifyUpdate reports a successful update. It returns the frontend's verdict
// and any error or warning messages.
func (cl *Client) NotifyUpdate(ctx context.Context, _ *slog.Logger, c *course.Course) (bool, []string) {
	if c.RemoteID == nil {
		return false, []string{"Remote id not set: cannot notify the frontend"}
	}
	form := url.Values{"email_on_error": {strconv.FormatBool(c.EmailOnError)}}
	status, body, err := cl.post(ctx, *c.RemoteID, "notify_update", form)
	if err != nil {
		cl.Logger.Error("Failed to notify update", logfields.Course(c.Key), logfields.Error(err))
		return false, []string{err.Error()}
	}
	if status != http.StatusOK {
		reason := http.StatusText(status)
		cl.Logger.Error("notify_update failed", logfields.Course(c.Key), slog.Int("status", status), slog.String("body", body))
		return false, []string{reason}
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		cl.Logger.Error("Failed to load notify_update response JSON", logfields.Course(c.Key), logfields.Error(err))
		return false, []string{"Failed to load notify_update response JSON"}
	}
	success := true
	if v, ok := data["success"]; ok {
		success = truthy(v)
	}
	return success, responseErrors(data["errors"])
}

// SendErrorMail asks the frontend to mail the course staff.
func (cl *Client) SendErrorMail(ctx context.Context, log *slog.Logger, c *course.Course, subject, message string) bool {
	if c.RemoteID == nil {
		log.Error("Remote id not set: cannot send error email")
		return false
	}
	form := url.Values{"subject": {subject}, "message": {message}}
	status, body, err := cl.post(ctx, *c.RemoteID, "send_mail", form)
	if err != nil {
		cl.Logger.Error("Failed to send email", logfields.Course(c.Key), logfields.Error(err))
		log.Error("Failed to send error email", logfields.Error(err))
		return false
	}
	if status != http.StatusOK || body != "" {
		cl.Logger.Error("Sending email failed", logfields.Course(c.Key), slog.Int("status", status), slog.String("body", body))
		log.Error(fmt.Sprintf("API failed to send the error email: %d %s", status, body))
		return false
	}
	return true
}

func (cl *Client) post(ctx context.Context, remoteID int, op string, form url.Values) (int, string, error) {
	endpoint := cl.FrontendURL.ResolveReference(&url.URL{Path: fmt.Sprintf("api/v2/courses/%d/%s/", remoteID, op)})

	token, err := cl.Signer.WriteToken(remoteID)
	if err != nil {
		return 0, "", errors.NewError(errors.CategoryNotify, "failed to sign token").WithCause(err).Build()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return 0, "", errors.NewError(errors.CategoryNotify, "failed to create request").WithCause(err).WithContext("url", endpoint.String()).Build()
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json, application/*")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := cl.HTTP.Do(req)
	if err != nil {
		return 0, "", errors.NewError(errors.CategoryNetwork, "frontend request failed").WithCause(err).WithContext("url", endpoint.String()).Retryable().Build()
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", errors.NewError(errors.CategoryNetwork, "failed to read frontend response").WithCause(err).Build()
	}
	return resp.StatusCode, string(body), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func responseErrors(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, stringify(e))
		}
		return out
	default:
		return []string{stringify(t)}
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Disabled is used when no frontend URL is configured.
type Disabled struct{}

func (Disabled) NotifyUpdate(_ context.Context, log *slog.Logger, _ *course.Course) (bool, []string) {
	log.Info("Frontend not configured: skipping update notification")
	return true, nil
}

func (Disabled) SendErrorMail(_ context.Context, log *slog.Logger, _ *course.Course, _, _ string) bool {
	log.Warn("Frontend not configured: cannot send error email")
	return false
}
