package notify

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/coursebuilder/internal/config"
	"git.home.luguber.info/inful/coursebuilder/internal/course"
)

const testKey = "s3cret"

type captured struct {
	path   string
	form   url.Values
	accept string
	claims jwt.MapClaims
}

func frontend(t *testing.T, status int, body string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.accept = r.Header.Get("Accept")
		require.NoError(t, r.ParseForm())
		got.form = r.PostForm
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return []byte(testKey), nil },
			jwt.WithValidMethods([]string{"HS256"}))
		require.NoError(t, err)
		got.claims = claims
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func newClient(t *testing.T, base string) Notifier {
	t.Helper()
	n, err := New(config.FrontendConfig{URL: base + "/", SigningKey: testKey, Issuer: "coursebuilder", Timeout: config.Duration(time.Second)}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return n
}

func testCourse() *course.Course {
	c, _ := course.New("c1")
	id := 42
	c.RemoteID = &id
	return c
}

func buildLog() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func TestNotifyUpdateSuccess(t *testing.T) {
	srv, got := frontend(t, http.StatusOK, `{"success": true}`)
	log, _ := buildLog()
	ok, errs := newClient(t, srv.URL).NotifyUpdate(context.Background(), log, testCourse())
	assert.True(t, ok)
	assert.Empty(t, errs)
	assert.Equal(t, "/api/v2/courses/42/notify_update/", got.path)
	assert.Equal(t, "true", got.form.Get("email_on_error"))
	assert.Equal(t, "application/json, application/*", got.accept)
	assert.Equal(t, "coursebuilder", got.claims["iss"])
	assert.Contains(t, got.claims, "exp")
	assert.Equal(t, map[string]any{"instances": []any{[]any{"write", map[string]any{"id": float64(42)}}}}, got.claims["permissions"])
}

func TestNotifyUpdateResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		ok     bool
		errs   []string
	}{
		{"success defaults to true", http.StatusOK, `{}`, true, nil},
		{"warnings", http.StatusOK, `{"errors": ["late"]}`, true, []string{"late"}},
		{"scalar errors", http.StatusOK, `{"success": false, "errors": "broken"}`, false, []string{"broken"}},
		{"bad json", http.StatusOK, `nope`, false, []string{"Failed to load notify_update response JSON"}},
		{"http error", http.StatusBadGateway, ``, false, []string{"Bad Gateway"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := frontend(t, tt.status, tt.body)
			log, _ := buildLog()
			ok, errs := newClient(t, srv.URL).NotifyUpdate(context.Background(), log, testCourse())
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.errs, errs)
		})
	}
}

func TestSendErrorMail(t *testing.T) {
	srv, got := frontend(t, http.StatusOK, "")
	log, _ := buildLog()
	ok := newClient(t, srv.URL).SendErrorMail(context.Background(), log, testCourse(), "Course c1 build failed", "log")
	assert.True(t, ok)
	assert.Equal(t, "/api/v2/courses/42/send_mail/", got.path)
	assert.Equal(t, "Course c1 build failed", got.form.Get("subject"))
	assert.Equal(t, "log", got.form.Get("message"))
}

func TestSendErrorMailFailures(t *testing.T) {
	t.Run("non-empty body", func(t *testing.T) {
		srv, _ := frontend(t, http.StatusOK, "error")
		log, buf := buildLog()
		assert.False(t, newClient(t, srv.URL).SendErrorMail(context.Background(), log, testCourse(), "s", "m"))
		assert.Contains(t, buf.String(), "API failed to send the error email")
	})
	t.Run("no remote id", func(t *testing.T) {
		srv, _ := frontend(t, http.StatusOK, "")
		log, buf := buildLog()
		c := testCourse()
		c.RemoteID = nil
		assert.False(t, newClient(t, srv.URL).SendErrorMail(context.Background(), log, c, "s", "m"))
		assert.Contains(t, buf.String(), "Remote id not set")
	})
}

func TestDisabledWithoutFrontend(t *testing.T) {
	n, err := New(config.FrontendConfig{}, nil)
	require.NoError(t, err)
	log, _ := buildLog()
	ok, errs := n.NotifyUpdate(context.Background(), log, testCourse())
	assert.True(t, ok)
	assert.Empty(t, errs)
	assert.False(t, n.SendErrorMail(context.Background(), log, testCourse(), "s", "m"))
}
