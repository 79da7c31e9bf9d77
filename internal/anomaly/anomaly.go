// Package anomaly scores a login against the account's trusted history.
// It detects, it never enforces: the engine attaches a warning above the
// configured threshold and the login proceeds regardless.
package anomaly

// Flag names recorded in security-event metadata and scored below.
const (
	FlagNewIP         = "new_ip_address"
	FlagNewUserAgent  = "new_user_agent"
	FlagRapidAttempts = "rapid_attempts"
)

// defaultWeight applies to flags missing from the weight table.
const defaultWeight = 10

// Origin is a known-good (ip, user agent) pair from past successful logins.
type Origin struct {
	IP        string
	UserAgent string
}

// Config tunes the detector. All fields must be positive.
type Config struct {
	RapidThreshold     int
	UserAgentPrefixLen int
	Weights            map[string]int
}

// Report is the deterministic outcome for one login: identical history and
// current origin always produce identical flags and score.
type Report struct {
	Anomalous bool
	Flags     []string
	RiskScore int
}

// Detector evaluates logins against trusted origins. It holds no state and
// is safe for concurrent use.
type Detector struct {
	cfg Config
}

func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Evaluate flags the login when the IP is unknown, when no historical user
// agent shares a prefix with the current one, or when the account has seen
// more than RapidThreshold attempts in the rapid window. recentAttempts
// counts successes and failures alike.
func (d *Detector) Evaluate(trusted []Origin, recentAttempts int, ip, userAgent string) Report {
	var flags []string

	knownIP := false
	for _, origin := range trusted {
		if origin.IP == ip {
			knownIP = true
			break
		}
	}
	if !knownIP {
		flags = append(flags, FlagNewIP)
	}

	// Prefix comparison is a cheap fuzzy match: browser version bumps keep
	// the leading product/platform segment stable.
	if len(trusted) > 0 && !d.userAgentKnown(trusted, userAgent) {
		flags = append(flags, FlagNewUserAgent)
	}

	if recentAttempts > d.cfg.RapidThreshold {
		flags = append(flags, FlagRapidAttempts)
	}

	return Report{
		Anomalous: len(flags) > 0,
		Flags:     flags,
		RiskScore: d.score(flags),
	}
}

func (d *Detector) userAgentKnown(trusted []Origin, userAgent string) bool {
	current := prefix(userAgent, d.cfg.UserAgentPrefixLen)
	if current == "" {
		return true
	}
	for _, origin := range trusted {
		if origin.UserAgent == "" {
			continue
		}
		if prefix(origin.UserAgent, d.cfg.UserAgentPrefixLen) == current {
			return true
		}
	}
	return false
}

func (d *Detector) score(flags []string) int {
	total := 0
	for _, flag := range flags {
		if weight, ok := d.cfg.Weights[flag]; ok {
			total += weight
		} else {
			total += defaultWeight
		}
	}
	return total
}

func prefix(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
