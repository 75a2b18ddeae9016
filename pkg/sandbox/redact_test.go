package sandbox

import (
	"strings"
	"testing"
)

func TestRedactSecrets(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "api key assignment", in: `API_KEY=sk_live_ABCDEF`, want: `API_KEY=[REDACTED]`},
		{name: "password assignment", in: `PASSWORD=hunter2`, want: `PASSWORD=[REDACTED]`},
		{name: "no secret present", in: `hello world`, want: `hello world`},
		{name: "bare platform key", in: `token is sk_abcdefgh12345678`, want: `token is [REDACTED]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := redactSecrets(tt.in)
			if got != tt.want {
				t.Errorf("redactSecrets(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if strings.Contains(got, "hunter2") || strings.Contains(got, "sk_live_ABCDEF") {
				t.Errorf("redacted output %q still contains the original secret value", got)
			}
		})
	}
}
