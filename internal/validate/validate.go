package validate

import (
	"regexp"
	"strings"
)

var (
	reID     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	reIdem   = regexp.MustCompile(`^[A-Za-z0-9_:.-]{1,128}$`)
	reStage  = regexp.MustCompile(`^(IN_PROGRESS|COMPLETED)$`)
	reRole   = regexp.MustCompile(`^(CUSTOMER|PROVIDER)$`)
	reChanel = regexp.MustCompile(`^(category|request|user):[A-Za-z0-9_-]{1,64}$`)
)

// ID validates a resource identifier (request/offer/category/user ids).
func ID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != "" && reID.MatchString(s)
}

// Description trims and caps free text.
func Description(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) > 2000 {
		return "", false
	}
	return s, true
}

// Reason validates a cancel/dispute reason: required, bounded.
func Reason(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 500 {
		return "", false
	}
	return s, true
}

// Stage validates an AdvanceWorkflow target.
func Stage(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	return s, reStage.MatchString(s)
}

// Role validates an actor role header.
func Role(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	return s, reRole.MatchString(s)
}

// IdempotencyKey bounds and sanitizes the Idempotency-Key header. Empty is
// allowed (the command simply runs unguarded).
func IdempotencyKey(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", true
	}
	return s, reIdem.MatchString(s)
}

// Channel validates a realtime subscription channel name.
func Channel(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, reChanel.MatchString(s)
}

// ServiceIDs validates every entry and drops duplicates; at least one id
// must survive.
func ServiceIDs(raw []string) ([]string, bool) {
	out := make([]string, 0, len(raw))
	seen := map[string]struct{}{}
	for _, s := range raw {
		id, ok := ID(s)
		if !ok {
			return nil, false
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, len(out) > 0
}
