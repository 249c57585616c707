package session

import "testing"

func TestUpgradeKeyNeverDowngrades(t *testing.T) {
	tests := []struct {
		name      string
		current   string
		candidate string
		want      string
	}{
		{"empty takes candidate", "", "HOOK:s1", "HOOK:s1"},
		{"auto to hook", "AUTO:s1", "HOOK:s1", "HOOK:s1"},
		{"hook to terminal", "HOOK:s1", "DISCOVERED:ITERM:w0t0p0", "DISCOVERED:ITERM:w0t0p0"},
		{"terminal to tty", "DISCOVERED:ITERM:w0t0p0", "DISCOVERED:TTY:/dev/ttys003:1234", "DISCOVERED:TTY:/dev/ttys003:1234"},
		{"tty to pid", "DISCOVERED:TTY:/dev/ttys003:1234", "DISCOVERED:PID:1234", "DISCOVERED:PID:1234"},
		{"pid never downgraded to hook", "DISCOVERED:PID:1234", "HOOK:s1", "DISCOVERED:PID:1234"},
		{"equal rank keeps current", "DISCOVERED:PID:1234", "DISCOVERED:PID:9999", "DISCOVERED:PID:1234"},
		{"empty candidate keeps current", "HOOK:s1", "", "HOOK:s1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UpgradeKey(tt.current, tt.candidate); got != tt.want {
				t.Errorf("UpgradeKey(%q, %q) = %q, want %q", tt.current, tt.candidate, got, tt.want)
			}
		})
	}
}

func TestKeyPID(t *testing.T) {
	tests := []struct {
		key     string
		wantPID int
		wantOK  bool
	}{
		{"DISCOVERED:PID:4321", 4321, true},
		{"DISCOVERED:TTY:/dev/ttys003:555", 555, true},
		{"DISCOVERED:ITERM:w0t0p0", 0, false},
		{"HOOK:abc", 0, false},
		{"AUTO:abc", 0, false},
		{"DISCOVERED:PID:notanumber", 0, false},
	}
	for _, tt := range tests {
		pid, ok := KeyPID(tt.key)
		if pid != tt.wantPID || ok != tt.wantOK {
			t.Errorf("KeyPID(%q) = (%d, %v), want (%d, %v)", tt.key, pid, ok, tt.wantPID, tt.wantOK)
		}
	}
}
