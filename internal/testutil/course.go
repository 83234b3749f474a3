package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// MinimalIndex is a valid index.yaml with one configured exercise whose
// static files live in _build/html.
const MinimalIndex = `name: Test course
lang: [en]
static_dir: _build/html
grader_config_dir: exercises
modules:
  - key: m01
    exercises:
      - key: hello
        config: hello/config.yaml
`

// MinimalExercise is the grader configuration referenced by MinimalIndex.
const MinimalExercise = `en:
  template_files: [exercises/hello/hello.py]
`

// MinimalCourse returns the files of a small valid course.
func MinimalCourse() map[string]string {
	return map[string]string{
		"index.yaml":                  MinimalIndex,
		"exercises/hello/config.yaml": MinimalExercise,
		"exercises/hello/hello.py":    "print('hello')\n",
		"_build/html/index.html":      "<h1>Test</h1>\n",
	}
}

// WriteFiles writes files (slash paths to content) below dir.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", name, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}
