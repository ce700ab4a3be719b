package mail

import (
	"strings"
	"testing"
)

func TestNormalizeSubject(t *testing.T) {
	cases := map[string]string{
		"Re: RE: Fwd: Printer broken": "Printer broken",
		"FW:Printer":                  "Printer",
		"  Printer  ":                 "Printer",
		"Отв: Принтер":                "Принтер",
		"Regarding the printer":       "Regarding the printer",
	}
	for in, want := range cases {
		if got := NormalizeSubject(in); got != want {
			t.Errorf("NormalizeSubject(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanBody(t *testing.T) {
	body := "\r\nHello team,\r\nthe VPN is down.\r\n\r\n> previous message\r\nFrom: someone\r\nBest regards,\r\nAlice\r\n"
	got := CleanBody(body)
	want := "Hello team,\nthe VPN is down."
	if got != want {
		t.Fatalf("CleanBody() = %q, want %q", got, want)
	}
}

func TestCleanBodyStopsAtSeparator(t *testing.T) {
	got := CleanBody("Нужна помощь\n_____\nОт: коллега\nстарое письмо")
	if got != "Нужна помощь" {
		t.Fatalf("CleanBody() = %q", got)
	}
	got = CleanBody("Текст\nС уважением,\nИван")
	if got != "Текст" {
		t.Fatalf("CleanBody() = %q", got)
	}
}

func TestBodyHashStable(t *testing.T) {
	a := BodyHash("same text")
	b := BodyHash("same text")
	if a != b || len(a) != 64 {
		t.Fatalf("BodyHash() = %q / %q", a, b)
	}
	if BodyHash("other") == a {
		t.Fatalf("different bodies hash equal")
	}
}

func TestThreadKey(t *testing.T) {
	if got := ThreadKey("AAQk-Conv", "x@y.z", "s"); got != "aaqk-conv" {
		t.Fatalf("ThreadKey() = %q", got)
	}
	if got := ThreadKey("", "Alice@Example.com", "Printer Broken"); got != "alice@example.com|printer broken" {
		t.Fatalf("ThreadKey() = %q", got)
	}
}

func TestIsReminderReply(t *testing.T) {
	if !IsReminderReply("RE: [SLA][HIGH] Overdue #12: VPN") {
		t.Fatalf("reminder reply not detected")
	}
	if IsReminderReply("VPN down") || strings.Contains("VPN down", ReminderTag) {
		t.Fatalf("plain subject flagged")
	}
}
