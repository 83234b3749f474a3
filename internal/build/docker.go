package build

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"time"

	"github.com/google/shlex"

	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
)

// Settings understood by DockerExecutor.
const (
	SettingBinary    = "docker_binary" // default "docker"
	SettingTimeout   = "timeout"       // Go duration, empty for none
	SettingNetwork   = "network"
	SettingUser      = "user"
	SettingExtraArgs = "extra_args" // shell-quoted extra "docker run" arguments
	SettingWorkdir   = "workdir"    // mount point inside the container, default "/content"
)

// DockerExecutor runs builds with "docker run", mounting the course at /content.
type DockerExecutor struct{}

func (DockerExecutor) Execute(ctx context.Context, log *slog.Logger, job Job) bool {
	binary := setting(job.Settings, SettingBinary, "docker")
	args, err := dockerArgs(job)
	if err != nil {
		log.Error("Invalid executor settings", logfields.Error(err))
		return false
	}

	if raw := job.Settings[SettingTimeout]; raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			log.Error("Invalid executor timeout", slog.String("timeout", raw), logfields.Error(err))
			return false
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// #nosec G204 -- binary and image come from service configuration and the course meta file
	cmd := exec.CommandContext(ctx, binary, args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.WaitDelay = 5 * time.Second

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			log.Info(scanner.Text())
		}
		_, _ = io.Copy(io.Discard, pr)
	}()

	log.Info("Running build container", slog.String("image", job.Image), logfields.Path(job.Path))
	start := time.Now()
	runErr := cmd.Run()
	_ = pw.Close()
	<-done

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			log.Error("Build timed out", logfields.DurationMS(float64(time.Since(start).Milliseconds())))
		case errors.As(runErr, &exitErr):
			log.Error("Build failed", slog.Int("exit_code", exitErr.ExitCode()))
		default:
			log.Error("Failed to run build container", logfields.Error(runErr))
		}
		return false
	}
	log.Info("Build finished", logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return true
}

func dockerArgs(job Job) ([]string, error) {
	workdir := setting(job.Settings, SettingWorkdir, "/content")
	args := []string{"run", "--rm", "-v", job.Path + ":" + workdir, "-w", workdir}
	if v := job.Settings[SettingNetwork]; v != "" {
		args = append(args, "--network", v)
	}
	if v := job.Settings[SettingUser]; v != "" {
		args = append(args, "--user", v)
	}
	if v := job.Settings[SettingExtraArgs]; v != "" {
		extra, err := shlex.Split(v)
		if err != nil {
			return nil, err
		}
		args = append(args, extra...)
	}

	keys := make([]string, 0, len(job.Env))
	for k := range job.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+job.Env[k])
	}

	args = append(args, job.Image)
	return append(args, job.Cmd...), nil
}

func setting(settings map[string]string, key, def string) string {
	if v := settings[key]; v != "" {
		return v
	}
	return def
}
