package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/coursebuilder/internal/course"
	ferrors "git.home.luguber.info/inful/coursebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
	smw "git.home.luguber.info/inful/coursebuilder/internal/server/middleware"
)

// defaultUpdatesLimit bounds the update listing when no limit is requested.
const defaultUpdatesLimit = 50

// Publisher promotes the stored build of a course into PUBLISH.
type Publisher interface {
	Publish(ctx context.Context, key string) ([]string, error)
}

// CourseHandlers serves course settings, update history and publishing.
type CourseHandlers struct {
	records      course.Store
	publisher    Publisher
	adminToken   string
	logger       *slog.Logger
	errorAdapter *ferrors.HTTPErrorAdapter
}

// NewCourseHandlers constructs a new CourseHandlers.
func NewCourseHandlers(records course.Store, publisher Publisher, adminToken string, logger *slog.Logger) *CourseHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &CourseHandlers{
		records:      records,
		publisher:    publisher,
		adminToken:   adminToken,
		logger:       logger,
		errorAdapter: ferrors.NewHTTPErrorAdapter(logger),
	}
}

// CourseResponse is the course settings payload. GitHook is the absolute webhook URL.
type CourseResponse struct {
	*course.Course
	GitHook string `json:"git_hook"`
}

// LogResponse describes the most recent update of a course.
type LogResponse struct {
	BuildLog    string        `json:"build_log"`
	RequestIP   string        `json:"request_ip"`
	RequestTime time.Time     `json:"request_time"`
	Updated     bool          `json:"updated"`
	UpdatedTime *time.Time    `json:"updated_time"`
	Status      course.Status `json:"status"`
}

// PublishResponse lists the non-fatal problems reported while publishing.
type PublishResponse struct {
	Course string   `json:"course"`
	Errors []string `json:"errors"`
}

// HandleGetCourse returns the course settings. The webhook secret is only shown to admins.
func (h *CourseHandlers) HandleGetCourse(w http.ResponseWriter, r *http.Request) {
	c, err := h.records.GetCourse(r.Context(), r.PathValue("key"))
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	h.writeCourse(w, r, http.StatusOK, c)
}

// HandleCreateCourse creates the course named in the path from form values.
func (h *CourseHandlers) HandleCreateCourse(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := r.ParseForm(); err != nil || len(r.PostForm) == 0 {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.ValidationError("No POST parameters given").Build())
		return
	}
	if formKey := r.PostForm.Get("key"); formKey != "" && formKey != key {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.ValidationError("Key in POST params does not match key in URL").
			WithContext("key", formKey).
			Build())
		return
	}

	c, err := course.New(key)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.WrapError(err, ferrors.CategoryValidation, err.Error()).Build())
		return
	}
	if err := applyCourseForm(c, r.PostForm); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if err := h.records.CreateCourse(r.Context(), c); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	h.logger.Info("Course created", logfields.Course(key))
	h.writeCourse(w, r, http.StatusCreated, c)
}

// HandleUpdateCourse changes the settings given as form values.
func (h *CourseHandlers) HandleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || len(r.PostForm) == 0 {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.ValidationError("No parameters given").Build())
		return
	}
	c, err := h.records.GetCourse(r.Context(), r.PathValue("key"))
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if err := applyCourseForm(c, r.PostForm); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if err := h.records.SaveCourse(r.Context(), c); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	h.writeCourse(w, r, http.StatusOK, c)
}

// HandleResetSecret generates a new webhook secret.
func (h *CourseHandlers) HandleResetSecret(w http.ResponseWriter, r *http.Request) {
	c, err := h.records.GetCourse(r.Context(), r.PathValue("key"))
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if err := c.ResetWebhookSecret(); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to generate secret").Build())
		return
	}
	if err := h.records.SaveCourse(r.Context(), c); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	h.logger.Info("Webhook secret reset", logfields.Course(c.Key))
	h.writeCourse(w, r, http.StatusOK, c)
}

// HandleLog returns the most recent update of the course, or an empty object when there is none.
func (h *CourseHandlers) HandleLog(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, err := h.records.GetCourse(r.Context(), key); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	u, err := h.records.LatestUpdate(r.Context(), key)
	if errors.Is(err, course.ErrNotFound) {
		_ = writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSONPretty(w, r, http.StatusOK, LogResponse{
		BuildLog:    u.Log,
		RequestIP:   u.RequestIP,
		RequestTime: u.RequestTime,
		Updated:     u.Status != course.StatusPending,
		UpdatedTime: u.UpdatedTime,
		Status:      u.Status,
	})
}

// HandleUpdates lists updates newest first. Optional query parameters: status, limit.
func (h *CourseHandlers) HandleUpdates(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, err := h.records.GetCourse(r.Context(), key); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	q := course.UpdateQuery{Order: course.Descending, Limit: defaultUpdatesLimit}
	if raw := r.URL.Query().Get("status"); raw != "" {
		s, err := course.ParseStatus(strings.ToUpper(raw))
		if err != nil {
			h.errorAdapter.WriteErrorResponse(w, r, ferrors.ValidationError(err.Error()).Build())
			return
		}
		q.Status = s
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.errorAdapter.WriteErrorResponse(w, r, ferrors.ValidationError("limit must be a non-negative integer").
				WithContext("limit", raw).
				Build())
			return
		}
		q.Limit = n
	}
	updates, err := h.records.ListUpdates(r.Context(), key, q)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if updates == nil {
		updates = []*course.Update{}
	}
	_ = writeJSONPretty(w, r, http.StatusOK, updates)
}

// HandlePublish promotes the stored build of the course and reports the problems found.
func (h *CourseHandlers) HandlePublish(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, err := h.records.GetCourse(r.Context(), key); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	errs, err := h.publisher.Publish(r.Context(), key)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if errs == nil {
		errs = []string{}
	}
	_ = writeJSON(w, http.StatusOK, PublishResponse{Course: key, Errors: errs})
}

func (h *CourseHandlers) writeCourse(w http.ResponseWriter, r *http.Request, status int, c *course.Course) {
	shown := *c
	if !smw.IsAdmin(r, h.adminToken) {
		shown.WebhookSecret = nil
	}
	if err := writeJSONPretty(w, r, status, CourseResponse{Course: &shown, GitHook: hookURL(r, c.Key)}); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to write course response").Build())
	}
}

func hookURL(r *http.Request, key string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + "/hook/" + key
}

// applyCourseForm sets the course fields present in form. Boolean fields accept
// the usual HTML checkbox and strconv spellings.
func applyCourseForm(c *course.Course, form map[string][]string) error {
	get := func(k string) (string, bool) {
		v, ok := form[k]
		if !ok || len(v) == 0 {
			return "", false
		}
		return strings.TrimSpace(v[len(v)-1]), true
	}

	if v, ok := get("remote_id"); ok {
		if v == "" {
			c.RemoteID = nil
		} else {
			id, err := strconv.Atoi(v)
			if err != nil {
				return ferrors.ValidationError("remote_id is not an integer").WithContext("remote_id", v).Build()
			}
			c.RemoteID = &id
		}
	}
	if v, ok := get("git_origin"); ok {
		c.GitOrigin = v
	}
	if v, ok := get("git_branch"); ok {
		if v == "" {
			return ferrors.ValidationError("git_branch must not be empty").Build()
		}
		c.GitBranch = v
	}
	if v, ok := get("update_hook"); ok {
		c.UpdateHook = v
	}
	for field, dst := range map[string]*bool{
		"email_on_error":       &c.EmailOnError,
		"update_automatically": &c.UpdateAutomatically,
		"skip_build_failsafes": &c.SkipBuildFailsafes,
	} {
		v, ok := get(field)
		if !ok {
			continue
		}
		b, err := formBool(v)
		if err != nil {
			return ferrors.ValidationError(field+" is not a boolean").WithContext(field, v).Build()
		}
		*dst = b
	}
	if v, ok := get("webhook_secret"); ok {
		if v == "" {
			c.WebhookSecret = nil
		} else {
			c.WebhookSecret = &v
		}
	}
	return nil
}

func formBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "yes":
		return true, nil
	case "off", "no", "":
		return false, nil
	}
	return strconv.ParseBool(v)
}
