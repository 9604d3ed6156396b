package types

import "time"

// IdentityKind tags how a request was authenticated.
type IdentityKind string

const (
	IdentityAnon  IdentityKind = "anon"
	IdentityToken IdentityKind = "token"
	IdentityIP    IdentityKind = "ip"
)

// Identity is the resolved caller of a tool invocation. For anonymous
// callers UserID is "anon_" + client IP.
type Identity struct {
	Kind        IdentityKind
	UserID      string
	Plan        PlanName
	TokenPrefix string
}

// IsAnonymous reports whether the caller had no token or authorized IP.
func (id Identity) IsAnonymous() bool {
	return id.Kind == IdentityAnon
}

// PlanName is a subscription tier.
type PlanName string

const (
	PlanHobby      PlanName = "hobby"
	PlanPro        PlanName = "pro"
	PlanEnterprise PlanName = "enterprise"
	PlanUnknown    PlanName = "unknown"
)

// Plan holds the quota pair for a tier. -1 means unlimited.
type Plan struct {
	WeeklyQuota int
	MinuteQuota int
}

// PlanTable maps tier names to quotas. Unknown tiers fall back to hobby
// at lookup time.
var PlanTable = map[PlanName]Plan{
	PlanHobby:      {WeeklyQuota: 10, MinuteQuota: 1},
	PlanPro:        {WeeklyQuota: 10000, MinuteQuota: 20},
	PlanEnterprise: {WeeklyQuota: -1, MinuteQuota: -1},
}

// LookupPlan returns the quota pair for a tier, defaulting to hobby.
func LookupPlan(name PlanName) Plan {
	if p, ok := PlanTable[name]; ok {
		return p
	}
	return PlanTable[PlanHobby]
}

// EventKind distinguishes the two usage-log tables.
type EventKind string

const (
	EventSearch EventKind = "search"
	EventFetch  EventKind = "fetch"
)

// UsageEvent is an append-only record of one tool invocation.
type UsageEvent struct {
	Kind           EventKind
	UserID         string
	IP             string
	TokenPrefix    string
	Payload        string
	ResultCount    int
	ResponseTimeMs int64
	StatusCode     int
	ErrorCode      string
	CreatedAt      time.Time
}
