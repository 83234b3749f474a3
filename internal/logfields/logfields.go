package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyCourse     = "course"
	KeyUpdateID   = "update_id"
	KeyJobID      = "job_id"
	KeyJobName    = "job_name"
	KeyStage      = "stage"
	KeyStatus     = "status"
	KeyDurationMS = "duration_ms"
	KeyAttempt    = "attempt"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyBranch     = "branch"
	KeyCommit     = "commit"
	KeyWorker     = "worker"
	KeyMethod     = "method"
	KeyRemoteAddr = "remote_addr"
	KeyUserAgent  = "user_agent"
	KeyHTTPStatus = "http_status"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Course(key string) slog.Attr     { return slog.String(KeyCourse, key) }
func UpdateID(id int64) slog.Attr     { return slog.Int64(KeyUpdateID, id) }
func JobID(id string) slog.Attr       { return slog.String(KeyJobID, id) }
func JobName(n string) slog.Attr      { return slog.String(KeyJobName, n) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Status(s string) slog.Attr       { return slog.String(KeyStatus, s) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Branch(b string) slog.Attr       { return slog.String(KeyBranch, b) }
func Commit(c string) slog.Attr       { return slog.String(KeyCommit, c) }
func Worker(w string) slog.Attr       { return slog.String(KeyWorker, w) }
func Method(m string) slog.Attr       { return slog.String(KeyMethod, m) }
func RemoteAddr(a string) slog.Attr   { return slog.String(KeyRemoteAddr, a) }
func UserAgent(ua string) slog.Attr   { return slog.String(KeyUserAgent, ua) }
func HTTPStatus(code int) slog.Attr   { return slog.Int(KeyHTTPStatus, code) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
