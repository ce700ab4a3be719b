package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShapArt/outlook-exporter/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("SAFE_MODE", "")
	t.Setenv("POLICY_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("Store.Driver = %q", cfg.Store.Driver)
	}
	if !cfg.Policy.SafeMode || cfg.Policy.AllowSend {
		t.Fatalf("expected SAFE mode without sending, got %+v", cfg.Policy)
	}
	if cfg.Policy.ReminderInterval() != 24*time.Hour {
		t.Fatalf("ReminderInterval() = %v", cfg.Policy.ReminderInterval())
	}
	if cfg.Policy.DedupLookback() != 35*24*time.Hour {
		t.Fatalf("DedupLookback() = %v", cfg.Policy.DedupLookback())
	}
}

func TestEnvOverridesPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := `
safe_mode: false
allow_send: true
send_allowlist: [ops@example.com]
reminders:
  interval_hours: 12
  quiet_hours: {start: 21, end: 7}
timezone: UTC
business_hours:
  start: "09:30"
  end: "18:00"
  days: [1, 2, 3, 4]
holidays: ["2024-03-08"]
sla:
  high:
    response_hours: 1
    resolution_hours: 6
    escalations:
      - {threshold: 2, action: notify_escalation}
      - {threshold: 1, action: notify_owner}
escalation_matrix:
  p2: [lead@example.com]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	t.Setenv("POLICY_FILE", path)
	t.Setenv("REMINDER_INTERVAL_HOURS", "6")
	t.Setenv("SAFE_MODE", "")
	t.Setenv("BUSINESS_HOURS_START", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	p := cfg.Policy
	if p.SafeMode || !p.AllowSend {
		t.Fatalf("mode = safe:%v allow:%v", p.SafeMode, p.AllowSend)
	}
	if p.ReminderIntervalHours != 6 {
		t.Fatalf("env should win over file, got %v", p.ReminderIntervalHours)
	}
	if p.QuietHoursStart != 21 || p.QuietHoursEnd != 7 {
		t.Fatalf("quiet hours = %d..%d", p.QuietHoursStart, p.QuietHoursEnd)
	}
	if p.OpenMinute != 9*60+30 || p.CloseMinute != 18*60 {
		t.Fatalf("business hours = %d..%d", p.OpenMinute, p.CloseMinute)
	}
	if got := p.EscalationMatrix[domain.TicketPriorityHigh]; len(got) != 1 || got[0] != "lead@example.com" {
		t.Fatalf("escalation matrix = %+v", p.EscalationMatrix)
	}

	table, err := p.SLATable()
	if err != nil {
		t.Fatalf("SLATable() error = %v", err)
	}
	high := table[domain.TicketPriorityHigh]
	if high.Resolution != 6*time.Hour || high.Escalations[0].Threshold != 1 {
		t.Fatalf("high policy = %+v", high)
	}
	if _, ok := table[domain.TicketPriorityLow]; !ok {
		t.Fatalf("defaults for other priorities should survive the overlay")
	}

	cal, err := p.Calendar()
	if err != nil {
		t.Fatalf("Calendar() error = %v", err)
	}
	friday := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	if cal.IsBusinessTime(friday) {
		t.Fatalf("friday is not a working day in this policy")
	}
}

func TestFractionalReminderInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("reminders:\n  interval_hours: 1.5\n"), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	cases := []struct {
		name string
		env  string
		want time.Duration
	}{
		{"from policy file", "", 90 * time.Minute},
		{"from environment", "0.25", 15 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("POLICY_FILE", path)
			t.Setenv("REMINDER_INTERVAL_HOURS", tc.env)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got := cfg.Policy.ReminderInterval(); got != tc.want {
				t.Fatalf("ReminderInterval() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestInvalidStoreDriver(t *testing.T) {
	t.Setenv("POLICY_FILE", "")
	t.Setenv("STORE_DRIVER", "mongo")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted an unknown driver")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList("a@x.io; b@x.io,c@x.io ")
	if len(got) != 3 || got[2] != "c@x.io" {
		t.Fatalf("splitList() = %v", got)
	}
}
