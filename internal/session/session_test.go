package session

import "testing"

func TestIsInteractive(t *testing.T) {
	cases := []struct {
		sessionID string
		want      bool
	}{
		{"sess-user-alice-123", true},
		{"pipeline-task-042", false},
		{"subagent-build-7", false},
		{"sub-agent-9", false},
		{"isolated-worker-1", false},
		{"bg-cleanup-3", false},
		{"background-sync", false},
		{"cron-nightly-report", false},
		{"scheduled-retry-2", false},
		{"", true},
	}
	for _, c := range cases {
		got := IsInteractive(c.sessionID)
		if got != c.want {
			t.Errorf("IsInteractive(%q) = %v, want %v", c.sessionID, got, c.want)
		}
	}
}
