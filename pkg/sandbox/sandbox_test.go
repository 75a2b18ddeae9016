package sandbox

import (
	"testing"

	"github.com/google/uuid"
)

func TestIsLegalTransition(t *testing.T) {
	tests := []struct {
		name                   string
		fromStatus             Status
		fromPhase              Phase
		toStatus               Status
		toPhase                Phase
		want                   bool
	}{
		{name: "creating to starting", fromStatus: StatusPending, fromPhase: PhaseCreating, toStatus: StatusPending, toPhase: PhaseStarting, want: true},
		{name: "starting to healthy", fromStatus: StatusPending, fromPhase: PhaseStarting, toStatus: StatusRunning, toPhase: PhaseHealthy, want: true},
		{name: "healthy to stopped", fromStatus: StatusRunning, fromPhase: PhaseHealthy, toStatus: StatusStopped, toPhase: PhaseStopped, want: true},
		{name: "stopped to healthy", fromStatus: StatusStopped, fromPhase: PhaseStopped, toStatus: StatusRunning, toPhase: PhaseHealthy, want: true},
		{name: "healthy to expired", fromStatus: StatusRunning, fromPhase: PhaseHealthy, toStatus: StatusExpired, toPhase: PhaseStopped, want: true},
		{name: "creating to failed", fromStatus: StatusPending, fromPhase: PhaseCreating, toStatus: StatusError, toPhase: PhaseFailed, want: true},
		{name: "stopped to creating is illegal", fromStatus: StatusStopped, fromPhase: PhaseStopped, toStatus: StatusPending, toPhase: PhaseCreating, want: false},
		{name: "expired to healthy is illegal", fromStatus: StatusExpired, fromPhase: PhaseStopped, toStatus: StatusRunning, toPhase: PhaseHealthy, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isLegalTransition(tt.fromStatus, tt.fromPhase, tt.toStatus, tt.toPhase)
			if got != tt.want {
				t.Errorf("isLegalTransition(%s/%s -> %s/%s) = %v, want %v",
					tt.fromStatus, tt.fromPhase, tt.toStatus, tt.toPhase, got, tt.want)
			}
		})
	}
}

func TestMergeEnvSandboxIDWins(t *testing.T) {
	versionEnv := map[string]string{"FOO": "bar", "SANDBOX_ID": "should-be-overwritten"}
	merged := mergeEnv(versionEnv, nil, nil, uuid.MustParse("00000000-0000-0000-0000-000000000001"))

	found := map[string]string{}
	for _, kv := range merged {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				found[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	if found["SANDBOX_ID"] != "00000000-0000-0000-0000-000000000001" {
		t.Errorf("SANDBOX_ID = %q, want the sandbox's own id", found["SANDBOX_ID"])
	}
	if found["FOO"] != "bar" {
		t.Errorf("FOO = %q, want %q", found["FOO"], "bar")
	}
}

func TestMergeEnvPrecedence(t *testing.T) {
	versionEnv := map[string]string{"FOO": "version", "BAR": "version"}
	secrets := map[string]string{"BAR": "secret", "BAZ": "secret"}
	override := map[string]string{"BAZ": "override", "SANDBOX_ID": "should-be-overwritten"}
	sandboxID := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	merged := mergeEnv(versionEnv, secrets, override, sandboxID)

	found := map[string]string{}
	for _, kv := range merged {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				found[kv[:i]] = kv[i+1:]
				break
			}
		}
	}

	// version.env <| decrypted_secrets <| override.env <| {SANDBOX_ID}, right-biased.
	if found["FOO"] != "version" {
		t.Errorf("FOO = %q, want %q (only set by version)", found["FOO"], "version")
	}
	if found["BAR"] != "secret" {
		t.Errorf("BAR = %q, want %q (secrets win over version)", found["BAR"], "secret")
	}
	if found["BAZ"] != "override" {
		t.Errorf("BAZ = %q, want %q (override wins over secrets)", found["BAZ"], "override")
	}
	if found["SANDBOX_ID"] != sandboxID.String() {
		t.Errorf("SANDBOX_ID = %q, want the sandbox's own id (always wins over override)", found["SANDBOX_ID"])
	}
}
