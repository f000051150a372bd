package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
providers:
  llm:
    name: openai
    model: gpt-4o-mini
  embeddings:
    name: openai
    model: text-embedding-3-small
memory:
  index_path: ` + filepath.Join(dir, "memory_index.bin") + `
  log_path: ` + filepath.Join(dir, "chat_memory.json") + `
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "voxmem dev") {
		t.Errorf("output = %q", out)
	}
}

func TestStats_EmptyFileStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	out, err := execute(t, "stats", "--config", cfg, "--env-file", "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, want := range []string{"backend:   file", "exists:    false", "records:   0", "dimension: 1536"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStats_CorruptFileStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	if err := os.WriteFile(filepath.Join(dir, "chat_memory.json"), []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "stats", "--config", cfg, "--env-file", ""); err == nil {
		t.Error("a log without its index should be reported")
	}
}

func TestMissingConfig(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "stats", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "--env-file", "")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want a not-found hint", err)
	}
}

func TestSearch_RequiresQuery(t *testing.T) {
	t.Parallel()

	if _, err := execute(t, "search"); err == nil {
		t.Error("search without a query should fail")
	}
}
