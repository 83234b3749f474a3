package graders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"time"

	"git.home.luguber.info/inful/coursebuilder/internal/config"
	"git.home.luguber.info/inful/coursebuilder/internal/courseconfig"
	"git.home.luguber.info/inful/coursebuilder/internal/foundation/errors"
)

// Endpoint is one grading service.
type Endpoint struct {
	Name string
	URL  string
}

// HTTP posts exercise configuration to each endpoint's /configure and /publish.
type HTTP struct {
	endpoints []Endpoint
	client    *http.Client
}

// NewHTTP returns graders backed by the configured endpoints, or Noop when there are none.
func NewHTTP(cfgs []config.GraderConfig, timeout time.Duration) Graders {
	if len(cfgs) == 0 {
		return Noop{}
	}
	h := &HTTP{client: &http.Client{Timeout: timeout}}
	for _, c := range cfgs {
		h.endpoints = append(h.endpoints, Endpoint(c))
	}
	return h
}

type exercisePayload struct {
	Key    string                      `json:"key"`
	Config courseconfig.ExerciseConfig `json:"config,omitempty"`
}

type configureRequest struct {
	Course    string            `json:"course"`
	VersionID string            `json:"version_id,omitempty"`
	Exercises []exercisePayload `json:"exercises"`
}

type configureResponse struct {
	Defaults map[string]any `json:"defaults"`
	Errors   []string       `json:"errors"`
}

type publishRequest struct {
	Course    string `json:"course"`
	VersionID string `json:"version_id,omitempty"`
}

type publishResponse struct {
	Errors []string `json:"errors"`
}

func (h *HTTP) Configure(ctx context.Context, cfg *courseconfig.CourseConfig) (map[string]any, []string) {
	req := configureRequest{Course: cfg.Key, VersionID: cfg.VersionID}
	keys := make([]string, 0, len(cfg.Exercises))
	for k := range cfg.Exercises {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		req.Exercises = append(req.Exercises, exercisePayload{Key: k, Config: cfg.Exercises[k]})
	}

	defaults := map[string]any{}
	var errs []string
	for _, ep := range h.endpoints {
		var resp configureResponse
		if err := h.post(ctx, ep, "configure", req, &resp); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", ep.Name, err))
			continue
		}
		for _, e := range resp.Errors {
			errs = append(errs, fmt.Sprintf("%s: %s", ep.Name, e))
		}
		for exercise, d := range resp.Defaults {
			defaults[exercise] = mergeDefaults(defaults[exercise], d)
		}
	}
	return defaults, errs
}

func (h *HTTP) Publish(ctx context.Context, cfg *courseconfig.CourseConfig) []string {
	var errs []string
	for _, ep := range h.endpoints {
		var resp publishResponse
		if err := h.post(ctx, ep, "publish", publishRequest{Course: cfg.Key, VersionID: cfg.VersionID}, &resp); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", ep.Name, err))
			continue
		}
		for _, e := range resp.Errors {
			errs = append(errs, fmt.Sprintf("%s: %s", ep.Name, e))
		}
	}
	return errs
}

// mergeDefaults combines defaults for one exercise from several graders. Maps
// are merged key by key with later graders winning; other values are replaced.
func mergeDefaults(prev, next any) any {
	a, aok := prev.(map[string]any)
	b, bok := next.(map[string]any)
	if !aok || !bok {
		return next
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func (h *HTTP) post(ctx context.Context, ep Endpoint, op string, body, result any) error {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return errors.NewError(errors.CategoryConfig, "invalid grader URL").WithCause(err).WithContext("url", ep.URL).Build()
	}
	u.Path = path.Join(u.Path, op) + "/"

	data, err := json.Marshal(body)
	if err != nil {
		return errors.InternalError("failed to encode grader request").WithCause(err).Build()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
	if err != nil {
		return errors.NewError(errors.CategoryNetwork, "failed to create request").WithCause(err).WithContext("url", u.String()).Build()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.NewError(errors.CategoryNetwork, "grader request failed").WithCause(err).WithContext("url", u.String()).Retryable().Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.NewError(errors.CategoryNetwork, fmt.Sprintf("grader returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))).
			WithContext("url", u.String()).Build()
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil && err != io.EOF {
		return errors.NewError(errors.CategoryNetwork, "failed to decode grader response").WithCause(err).Build()
	}
	return nil
}
