package governance

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Severity classifies a matched threat pattern.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityScore weights a pattern match into the request risk score.
func severityScore(s Severity) int {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 5
	case SeverityMedium:
		return 3
	default:
		return 1
	}
}

// blockScore is the risk score at which a request is blocked. A single
// critical pattern reaches it on its own.
const blockScore = 10

// webhookTimeout bounds the outbound alert call.
const webhookTimeout = 5 * time.Second

// scannerAgents is the user-agent denylist, matched case-insensitively
// as a prefix of the token before "/".
var scannerAgents = []string{
	"sqlmap", "nikto", "dirb", "gobuster", "wfuzz", "masscan",
	"nmap", "zap", "burp", "acunetix", "nessus", "openvas",
}

// threatPattern is a substring signature checked against the request URL
// and user agent.
type threatPattern struct {
	name     string
	needle   string
	severity Severity
}

var threatPatterns = []threatPattern{
	{"wordpress probe", "/wp-admin", SeverityMedium},
	{"wordpress probe", "/wp-login", SeverityMedium},
	{"env disclosure", "/.env", SeverityCritical},
	{"git disclosure", ".git/", SeverityCritical},
	{"path traversal", "../", SeverityHigh},
	{"sql injection", "union select", SeverityCritical},
	{"sql injection", "' or '1'='1", SeverityCritical},
	{"sql injection", "' or 1=1", SeverityCritical},
	{"xss", "<script", SeverityHigh},
	{"xss", "javascript:", SeverityHigh},
	{"xss", "onerror=", SeverityHigh},
}

// ThreatConfig holds detector settings.
type ThreatConfig struct {
	// MaxRequestsPerMinute is the per-IP sliding-window ceiling.
	MaxRequestsPerMinute int

	// WebhookURL receives critical-severity alerts when set.
	WebhookURL string

	// SweepInterval is how often stale window state is discarded.
	SweepInterval time.Duration
}

// DefaultThreatConfig returns sensible defaults.
func DefaultThreatConfig() ThreatConfig {
	return ThreatConfig{
		MaxRequestsPerMinute: 30,
		SweepInterval:        time.Hour,
	}
}

// Verdict is the outcome of a threat check.
type Verdict struct {
	Blocked bool

	// Kind classifies a block: "scanner", "flood", or "pattern".
	Kind   string
	Reason string
	Score  int
}

// ThreatDetector screens requests for scanner user agents, per-IP
// request floods, and known attack patterns. Internal failures always
// resolve to "allow".
type ThreatDetector struct {
	cfg    ThreatConfig
	client *http.Client

	mu      sync.Mutex
	windows map[string][]time.Time

	now func() time.Time
}

// NewThreatDetector builds a detector.
func NewThreatDetector(cfg ThreatConfig) *ThreatDetector {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = DefaultThreatConfig().MaxRequestsPerMinute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultThreatConfig().SweepInterval
	}
	return &ThreatDetector{
		cfg:     cfg,
		client:  &http.Client{Timeout: webhookTimeout},
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Check evaluates one request. Panics inside the detector are swallowed
// and resolve to an allow verdict.
func (d *ThreatDetector) Check(ip, method, rawURL, userAgent string) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("threat detector panic, failing open", slog.Any("panic", r))
			v = Verdict{}
		}
	}()

	if agent := scannerAgent(userAgent); agent != "" {
		return Verdict{Blocked: true, Kind: "scanner", Reason: "scanner user agent: " + agent}
	}

	if d.recordAndCount(ip) > d.cfg.MaxRequestsPerMinute {
		return Verdict{Blocked: true, Kind: "flood", Reason: "request rate exceeded"}
	}

	score, worst := d.scorePatterns(ip, method, rawURL, userAgent)
	if score >= blockScore {
		return Verdict{Blocked: true, Kind: "pattern", Reason: "attack pattern: " + worst, Score: score}
	}
	return Verdict{Score: score}
}

// scannerAgent returns the matched denylist entry, or "".
func scannerAgent(userAgent string) string {
	token := strings.ToLower(strings.TrimSpace(userAgent))
	if i := strings.IndexByte(token, '/'); i >= 0 {
		token = token[:i]
	}
	for _, agent := range scannerAgents {
		if strings.HasPrefix(token, agent) {
			return agent
		}
	}
	return ""
}

// recordAndCount appends a hit for ip and returns the number of hits in
// the trailing 60 seconds, including this one.
func (d *ThreatDetector) recordAndCount(ip string) int {
	now := d.now()
	cutoff := now.Add(-60 * time.Second)

	d.mu.Lock()
	defer d.mu.Unlock()

	window := d.windows[ip]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	d.windows[ip] = kept
	return len(kept)
}

// scorePatterns sums severity weights over matched signatures and fires
// the critical-alert webhook when warranted.
func (d *ThreatDetector) scorePatterns(ip, method, rawURL, userAgent string) (int, string) {
	haystack := strings.ToLower(rawURL + " " + userAgent)
	// Encoded payloads ("union+select", %2e%2e%2f) must match too.
	if decoded, err := url.QueryUnescape(haystack); err == nil && decoded != haystack {
		haystack += " " + decoded
	}

	score := 0
	worst := ""
	critical := false
	for _, p := range threatPatterns {
		if strings.Contains(haystack, p.needle) {
			score += severityScore(p.severity)
			if worst == "" {
				worst = p.name
			}
			if p.severity == SeverityCritical {
				critical = true
				worst = p.name
			}
		}
	}

	if critical && d.cfg.WebhookURL != "" {
		go d.alert(ip, method, rawURL, worst)
	}
	return score, worst
}

// alert posts a critical-threat notification. Failures are logged only.
func (d *ThreatDetector) alert(ip, method, rawURL, pattern string) {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"severity":    string(SeverityCritical),
		"ip":          ip,
		"method":      method,
		"url":         rawURL,
		"pattern":     pattern,
		"detected_at": d.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		slog.Warn("threat webhook request failed", slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		slog.Warn("threat webhook delivery failed", slog.String("error", err.Error()))
		return
	}
	_ = resp.Body.Close()
}

// StartSweeper discards stale sliding-window state until ctx is done.
func (d *ThreatDetector) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// sweep drops window entries older than 60 seconds and empty windows.
func (d *ThreatDetector) sweep() {
	cutoff := d.now().Add(-60 * time.Second)

	d.mu.Lock()
	defer d.mu.Unlock()

	for ip, window := range d.windows {
		kept := window[:0]
		for _, ts := range window {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(d.windows, ip)
		} else {
			d.windows[ip] = kept
		}
	}
}
