package replies

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault_HasEveryTemplate(t *testing.T) {
	c := Default()

	chatKeys := []string{TriggerOK, TriggerFailed, StatusOK, StatusFailed, CancelOK, CancelNone,
		MRsEmpty, MRsFailed, MRsHeader, MRsItem, Greeting, Help, ExactPhrase, Unknown}
	for _, key := range chatKeys {
		if c.Render(Chat, key) == "" {
			t.Errorf("chat template %q is missing", key)
		}
	}

	fulfillmentKeys := []string{TriggerOK, TriggerFailed, StatusOK, StatusFailed, CancelOK, CancelNone,
		MRsEmpty, MRsFailed, MRsHeader, MRsItem, Unknown}
	for _, key := range fulfillmentKeys {
		if c.Render(Fulfillment, key) == "" {
			t.Errorf("fulfillment template %q is missing", key)
		}
	}
}

func TestRender(t *testing.T) {
	c := Default()

	got := c.Render(Chat, StatusOK, "user", "U1", "branch", "main", "state", "running", "url", "https://ci/1")
	want := "<@U1> Latest pipeline on `main`: `running`\n https://ci/1"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}

	if got := c.Render(Fulfillment, MRsEmpty); got != "No open merge requests." {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_UnknownKey(t *testing.T) {
	if got := Default().Render(Chat, "nope"); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestLoad_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replies.yaml")
	if err := os.WriteFile(path, []byte("chat:\n  greeting: \"Hi {user}\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := c.Render(Chat, Greeting, "user", "U1"); got != "Hi U1" {
		t.Errorf("greeting = %q, want override", got)
	}
	if got := c.Render(Chat, Help, "user", "U1"); !strings.Contains(got, "PromptOps Commands") {
		t.Errorf("help should keep default, got %q", got)
	}
}

func TestLoad_RejectsUnknownTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replies.yaml")
	if err := os.WriteFile(path, []byte("chat:\n  gretting: \"typo\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown template key")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
