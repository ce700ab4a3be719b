package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/sla"
)

// PolicyConfig carries the business rules threaded into the services.
type PolicyConfig struct {
	SafeMode       bool
	AllowSend      bool
	SendAllowlist  []string
	TestAllowlist  []string
	AllowedDomains []string

	ReminderIntervalHours float64
	QuietHoursStart       int
	QuietHoursEnd         int

	Timezone    string
	WorkingDays []time.Weekday
	OpenMinute  int
	CloseMinute int
	Holidays    []string

	DedupLookbackDays int
	RecalcConcurrency int

	SLA              map[domain.TicketPriority]SLAEntry
	EscalationMatrix map[domain.TicketPriority][]string
}

// SLAEntry is the file form of one policy row.
type SLAEntry struct {
	ResponseHours   float64              `yaml:"response_hours"`
	ResolutionHours float64              `yaml:"resolution_hours"`
	Escalations     []sla.EscalationStep `yaml:"escalations"`
}

// DefaultPolicy returns SAFE mode with the stock business calendar and SLA table.
func DefaultPolicy() PolicyConfig {
	entries := make(map[domain.TicketPriority]SLAEntry)
	for p, policy := range sla.DefaultTable() {
		entries[p] = SLAEntry{
			ResponseHours:   policy.Response.Hours(),
			ResolutionHours: policy.Resolution.Hours(),
			Escalations:     policy.Escalations,
		}
	}
	return PolicyConfig{
		SafeMode:              true,
		ReminderIntervalHours: 24,
		QuietHoursStart:       22,
		QuietHoursEnd:         8,
		Timezone:              "Europe/Moscow",
		WorkingDays:           []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		OpenMinute:            10 * 60,
		CloseMinute:           19 * 60,
		DedupLookbackDays:     35,
		RecalcConcurrency:     4,
		SLA:                   entries,
		EscalationMatrix:      map[domain.TicketPriority][]string{},
	}
}

type policyFile struct {
	SafeMode       *bool    `yaml:"safe_mode"`
	AllowSend      *bool    `yaml:"allow_send"`
	SendAllowlist  []string `yaml:"send_allowlist"`
	TestAllowlist  []string `yaml:"test_allowlist"`
	AllowedDomains []string `yaml:"allowed_domains"`

	Reminders *struct {
		IntervalHours *float64 `yaml:"interval_hours"`
		QuietHours    *struct {
			Start int `yaml:"start"`
			End   int `yaml:"end"`
		} `yaml:"quiet_hours"`
	} `yaml:"reminders"`

	Timezone      string `yaml:"timezone"`
	BusinessHours *struct {
		Start string `yaml:"start"`
		End   string `yaml:"end"`
		Days  []int  `yaml:"days"`
	} `yaml:"business_hours"`
	Holidays []string `yaml:"holidays"`

	DedupLookbackDays *int `yaml:"dedup_lookback_days"`
	RecalcConcurrency *int `yaml:"recalc_concurrency"`

	SLA              map[string]SLAEntry `yaml:"sla"`
	EscalationMatrix map[string][]string `yaml:"escalation_matrix"`
}

// LoadFile overlays the YAML policy file at path.
func (p *PolicyConfig) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("decode policy file %s: %w", path, err)
	}
	return p.apply(file)
}

func (p *PolicyConfig) apply(file policyFile) error {
	if file.SafeMode != nil {
		p.SafeMode = *file.SafeMode
	}
	if file.AllowSend != nil {
		p.AllowSend = *file.AllowSend
	}
	if file.SendAllowlist != nil {
		p.SendAllowlist = file.SendAllowlist
	}
	if file.TestAllowlist != nil {
		p.TestAllowlist = file.TestAllowlist
	}
	if file.AllowedDomains != nil {
		p.AllowedDomains = file.AllowedDomains
	}
	if r := file.Reminders; r != nil {
		if r.IntervalHours != nil {
			p.ReminderIntervalHours = *r.IntervalHours
		}
		if r.QuietHours != nil {
			p.QuietHoursStart = r.QuietHours.Start
			p.QuietHoursEnd = r.QuietHours.End
		}
	}
	if file.Timezone != "" {
		p.Timezone = file.Timezone
	}
	if bh := file.BusinessHours; bh != nil {
		if bh.Start != "" {
			m, err := parseClock(bh.Start)
			if err != nil {
				return err
			}
			p.OpenMinute = m
		}
		if bh.End != "" {
			m, err := parseClock(bh.End)
			if err != nil {
				return err
			}
			p.CloseMinute = m
		}
		if len(bh.Days) > 0 {
			p.WorkingDays = p.WorkingDays[:0]
			for _, d := range bh.Days {
				p.WorkingDays = append(p.WorkingDays, time.Weekday(d%7))
			}
		}
	}
	if file.Holidays != nil {
		p.Holidays = file.Holidays
	}
	if file.DedupLookbackDays != nil {
		p.DedupLookbackDays = *file.DedupLookbackDays
	}
	if file.RecalcConcurrency != nil {
		p.RecalcConcurrency = *file.RecalcConcurrency
	}
	for key, entry := range file.SLA {
		prio, ok := domain.ParseTicketPriority(key)
		if !ok {
			return fmt.Errorf("policy file: unknown priority %q", key)
		}
		p.SLA[prio] = entry
	}
	for key, recipients := range file.EscalationMatrix {
		prio, ok := domain.ParseTicketPriority(key)
		if !ok {
			return fmt.Errorf("policy file: unknown priority %q", key)
		}
		p.EscalationMatrix[prio] = recipients
	}
	return nil
}

func (p *PolicyConfig) applyEnv() error {
	p.SafeMode = getEnvAsBool("SAFE_MODE", p.SafeMode)
	p.AllowSend = getEnvAsBool("ALLOW_SEND", p.AllowSend)
	p.SendAllowlist = getEnvAsList("SEND_ALLOWLIST", p.SendAllowlist)
	p.TestAllowlist = getEnvAsList("TEST_ALLOWLIST", p.TestAllowlist)
	p.AllowedDomains = getEnvAsList("SEND_ALLOW_DOMAINS", p.AllowedDomains)
	p.ReminderIntervalHours = getEnvAsFloat("REMINDER_INTERVAL_HOURS", p.ReminderIntervalHours)
	p.QuietHoursStart = getEnvAsInt("QUIET_HOURS_START", p.QuietHoursStart)
	p.QuietHoursEnd = getEnvAsInt("QUIET_HOURS_END", p.QuietHoursEnd)
	if os.Getenv("BUSINESS_HOURS_START") != "" {
		p.OpenMinute = getEnvAsInt("BUSINESS_HOURS_START", p.OpenMinute/60) * 60
	}
	if os.Getenv("BUSINESS_HOURS_END") != "" {
		p.CloseMinute = getEnvAsInt("BUSINESS_HOURS_END", p.CloseMinute/60) * 60
	}
	p.Timezone = getEnv("BUSINESS_TIMEZONE", p.Timezone)
	p.Holidays = getEnvAsList("HOLIDAYS", p.Holidays)
	p.DedupLookbackDays = getEnvAsInt("DEDUP_LOOKBACK_DAYS", p.DedupLookbackDays)
	p.RecalcConcurrency = getEnvAsInt("RECALC_CONCURRENCY", p.RecalcConcurrency)

	if p.QuietHoursStart < 0 || p.QuietHoursStart > 23 || p.QuietHoursEnd < 0 || p.QuietHoursEnd > 23 {
		return fmt.Errorf("quiet hours must be within 0..23, got %d..%d", p.QuietHoursStart, p.QuietHoursEnd)
	}
	return nil
}

// Calendar builds the business-hours calendar.
func (p PolicyConfig) Calendar() (*sla.Calendar, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", p.Timezone, err)
	}
	return sla.NewCalendar(sla.CalendarConfig{
		Location:    loc,
		WorkingDays: p.WorkingDays,
		OpenMinute:  p.OpenMinute,
		CloseMinute: p.CloseMinute,
		Holidays:    p.Holidays,
	})
}

// SLATable converts the configured entries into a validated table.
func (p PolicyConfig) SLATable() (sla.Table, error) {
	table := make(sla.Table, len(p.SLA))
	for prio, entry := range p.SLA {
		steps := append([]sla.EscalationStep(nil), entry.Escalations...)
		table[prio] = sla.Policy{
			Response:    hours(entry.ResponseHours),
			Resolution:  hours(entry.ResolutionHours),
			Escalations: steps,
		}
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// ReminderInterval is the minimum gap between two reminders of one ticket.
func (p PolicyConfig) ReminderInterval() time.Duration {
	return hours(p.ReminderIntervalHours)
}

// DedupLookback is how far back duplicates and threads are matched.
func (p PolicyConfig) DedupLookback() time.Duration {
	return time.Duration(p.DedupLookbackDays) * 24 * time.Hour
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", v, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
