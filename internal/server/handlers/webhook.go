package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"git.home.luguber.info/inful/coursebuilder/internal/course"
	ferrors "git.home.luguber.info/inful/coursebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
	"git.home.luguber.info/inful/coursebuilder/internal/metrics"
	"git.home.luguber.info/inful/coursebuilder/internal/pipeline"
	smw "git.home.luguber.info/inful/coursebuilder/internal/server/middleware"
)

// maxHookBody bounds the webhook payload read into memory for signature checks.
const maxHookBody = 10 << 20

// Webhook providers as reported in metrics.
const (
	ProviderAdmin   = "admin"
	ProviderGitHub  = "github"
	ProviderGitLab  = "gitlab"
	ProviderUnknown = "unknown"
)

// Requester creates a pending update and queues the job that runs it.
type Requester interface {
	Request(ctx context.Context, key, requestIP string, opts pipeline.Options) (*course.Update, string, error)
}

// WebhookHandlers contains the git hook endpoint.
type WebhookHandlers struct {
	records      course.Store
	trigger      Requester
	recorder     metrics.Recorder
	adminToken   string
	logger       *slog.Logger
	errorAdapter *ferrors.HTTPErrorAdapter
}

// NewWebhookHandlers constructs a new WebhookHandlers.
func NewWebhookHandlers(records course.Store, trigger Requester, recorder metrics.Recorder, adminToken string, logger *slog.Logger) *WebhookHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &WebhookHandlers{
		records:      records,
		trigger:      trigger,
		recorder:     recorder,
		adminToken:   adminToken,
		logger:       logger,
		errorAdapter: ferrors.NewHTTPErrorAdapter(logger),
	}
}

// HandleHook verifies a push notification from GitHub or GitLab and requests
// an update of the course. Requests with the admin token skip verification.
func (h *WebhookHandlers) HandleHook(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	log := h.logger.With(logfields.Course(key))

	c, err := h.records.GetCourse(r.Context(), key)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxHookBody))
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.ValidationError("failed to read request body").WithCause(err).Build())
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	provider := hookProvider(r, h.adminToken)
	if provider == ProviderUnknown {
		log.Warn("Unknown git service", slog.Any("headers", r.Header))
		h.recorder.IncWebhook(provider, false)
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.ValidationError("Unknown git service").Build())
		return
	}

	if provider != ProviderAdmin {
		if msg := verifyHook(r, provider, c.WebhookSecret, body, log); msg != "" {
			log.Warn("Hook verification failed: " + msg)
			h.recorder.IncWebhook(provider, false)
			h.errorAdapter.WriteErrorResponse(w, r, ferrors.AuthError(msg).WithContext("provider", provider).Build())
			return
		}
		if branch, ok := pushedBranch(r, body, log); ok && branch != c.GitBranch {
			h.recorder.IncWebhook(provider, false)
			h.errorAdapter.WriteErrorResponse(w, r, ferrors.ValidationError(
				"Ignored. Update to '"+branch+"', but expected '"+c.GitBranch+"'").
				WithContext("branch", branch).
				Build())
			return
		}
	}

	if err := r.ParseForm(); err != nil {
		log.Warn("Failed to parse webhook form", logfields.Error(err))
	}
	opts := hookOptions(requestParams(r))

	u, jobID, err := h.trigger.Request(r.Context(), key, smw.ClientIP(r), opts)
	if err != nil {
		if u == nil {
			h.errorAdapter.WriteErrorResponse(w, r, err)
			return
		}
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to queue update").
			WithContext("update_id", u.ID).
			Retryable().
			Build())
		return
	}

	h.recorder.IncWebhook(provider, true)
	log.Info("Update requested", logfields.UpdateID(u.ID), logfields.JobID(jobID), slog.String("provider", provider))
	writeText(w, http.StatusOK, "ok")
}

func hookProvider(r *http.Request, adminToken string) string {
	switch {
	case smw.IsAdmin(r, adminToken):
		return ProviderAdmin
	case r.Header.Get("X-Gitlab-Event") != "":
		return ProviderGitLab
	case r.Header.Get("X-GitHub-Event") != "":
		return ProviderGitHub
	default:
		return ProviderUnknown
	}
}

// verifyHook returns a non-empty reason when the request is not signed by secret.
// A nil secret disables verification.
func verifyHook(r *http.Request, provider string, secret *string, body []byte, log *slog.Logger) string {
	if secret == nil {
		log.Warn("webhook secret is not set: skipping secret verification")
		return ""
	}
	switch provider {
	case ProviderGitLab:
		token := r.Header.Get("X-Gitlab-Token")
		if token == "" {
			return "No X-Gitlab-Token header"
		}
		if !hmac.Equal([]byte(token), []byte(*secret)) {
			return "Secrets didn't match"
		}
	case ProviderGitHub:
		signature := r.Header.Get("X-Hub-Signature-256")
		if signature == "" {
			return "No X-Hub-Signature-256 header"
		}
		if !ValidGitHubSignature(body, signature, *secret) {
			return "Signatures didn't match"
		}
	}
	return ""
}

// ValidGitHubSignature checks a "sha256=<hex>" HMAC of payload.
func ValidGitHubSignature(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// pushedBranch extracts the branch from the payload's ref. ok is false when the
// payload is not a JSON object, in which case no branch check applies.
func pushedBranch(r *http.Request, body []byte, log *slog.Logger) (string, bool) {
	raw := body
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			log.Warn("Invalid webhook form data", logfields.Error(err))
			return "", false
		}
		raw = []byte(r.PostForm.Get("payload"))
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil || data == nil {
		log.Warn("Invalid json data or unknown content type to webhook", logfields.Error(err))
		return "", false
	}
	ref, _ := data["ref"].(string)
	return ref[strings.LastIndex(ref, "/")+1:], true
}

func hookOptions(params map[string]string) pipeline.Options {
	flag := func(k string) bool {
		v := params[k]
		return v == "on" || v == "true"
	}
	opts := pipeline.Options{
		SkipGit:    flag("skip_git"),
		SkipBuild:  flag("skip_build"),
		SkipNotify: flag("skip_notify"),
	}
	if v := params["build_image"]; v != "" {
		opts.BuildImage = &v
	}
	if v := params["build_command"]; v != "" {
		opts.BuildCommand = &v
	}
	return opts
}
