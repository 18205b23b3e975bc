package main

import (
	"os"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "replay"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPath_PrefersExplicitFlag(t *testing.T) {
	t.Setenv("CONVRUNTIME_CONFIG", "from-env.yaml")
	if got := resolveConfigPath("from-flag.yaml"); got != "from-flag.yaml" {
		t.Errorf("resolveConfigPath() = %q, want from-flag.yaml", got)
	}
}

func TestResolveConfigPath_FallsBackToEnvThenDefault(t *testing.T) {
	t.Setenv("CONVRUNTIME_CONFIG", "from-env.yaml")
	if got := resolveConfigPath(""); got != "from-env.yaml" {
		t.Errorf("resolveConfigPath() = %q, want from-env.yaml", got)
	}

	os.Unsetenv("CONVRUNTIME_CONFIG")
	if got := resolveConfigPath(""); got != "gateway.yaml" {
		t.Errorf("resolveConfigPath() = %q, want gateway.yaml default", got)
	}
}
