// Package identity resolves the caller behind each request and persists
// usage accounting. The store wraps the Postgres tables for users, API
// tokens, authorized IPs, provider keys, and the append-only usage logs.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/appledex/appledex/pkg/types"
)

type userRow struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Email     string    `gorm:"column:email;uniqueIndex"`
	Plan      string    `gorm:"column:plan"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (userRow) TableName() string { return "users" }

type apiTokenRow struct {
	Token     string    `gorm:"column:token;primaryKey"`
	UserID    string    `gorm:"column:user_id;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (apiTokenRow) TableName() string { return "api_tokens" }

type ipAuthorizedRow struct {
	IP         string    `gorm:"column:ip;primaryKey"`
	UserID     string    `gorm:"column:user_id"`
	LastUsedAt time.Time `gorm:"column:last_used_at"`
}

func (ipAuthorizedRow) TableName() string { return "ip_authorized" }

type providerKeyRow struct {
	Key       string    `gorm:"column:key;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (providerKeyRow) TableName() string { return "provider_keys" }

// usageRow mirrors one row of search_logs or fetch_logs. The two tables
// share a schema and differ only by the event kind they record.
type usageRow struct {
	ID             string    `gorm:"column:id;primaryKey"`
	UserID         string    `gorm:"column:user_id;index:idx_user_created"`
	IP             string    `gorm:"column:ip"`
	TokenPrefix    string    `gorm:"column:token_prefix"`
	Payload        string    `gorm:"column:payload"`
	ResultCount    int       `gorm:"column:result_count"`
	ResponseTimeMs int64     `gorm:"column:response_time_ms"`
	StatusCode     int       `gorm:"column:status_code"`
	ErrorCode      string    `gorm:"column:error_code"`
	CreatedAt      time.Time `gorm:"column:created_at;index:idx_user_created"`
}

// Store provides identity lookups and usage accounting over Postgres.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open database handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	return &Store{db: db}, nil
}

// Migrate creates or updates the backing tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&userRow{}, &apiTokenRow{}, &ipAuthorizedRow{}, &providerKeyRow{}); err != nil {
		return fmt.Errorf("migrate identity tables: %w", err)
	}
	for _, table := range []string{"search_logs", "fetch_logs"} {
		if err := s.db.Table(table).AutoMigrate(&usageRow{}); err != nil {
			return fmt.Errorf("migrate %s: %w", table, err)
		}
	}
	return nil
}

// LookupToken resolves a bearer token to an identity, or nil when the
// token is unknown.
func (s *Store) LookupToken(ctx context.Context, token string) (*types.Identity, error) {
	var row apiTokenRow
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("token lookup failed: %w", err)
	}

	plan, err := s.LookupUserPlan(ctx, row.UserID)
	if err != nil {
		return nil, err
	}

	prefix := token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return &types.Identity{
		Kind:        types.IdentityToken,
		UserID:      row.UserID,
		Plan:        plan,
		TokenPrefix: prefix,
	}, nil
}

// LookupUserPlan returns the user's plan, defaulting to hobby when the
// user or plan is unknown.
func (s *Store) LookupUserPlan(ctx context.Context, userID string) (types.PlanName, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.PlanHobby, nil
	}
	if err != nil {
		return types.PlanUnknown, fmt.Errorf("user lookup failed: %w", err)
	}

	switch types.PlanName(row.Plan) {
	case types.PlanHobby, types.PlanPro, types.PlanEnterprise:
		return types.PlanName(row.Plan), nil
	default:
		return types.PlanHobby, nil
	}
}

// LookupIPIdentity resolves an authorized IP to an identity, or nil when
// no authorization record exists.
func (s *Store) LookupIPIdentity(ctx context.Context, ip string) (*types.Identity, error) {
	var row ipAuthorizedRow
	err := s.db.WithContext(ctx).Where("ip = ?", ip).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ip lookup failed: %w", err)
	}

	plan, err := s.LookupUserPlan(ctx, row.UserID)
	if err != nil {
		return nil, err
	}
	return &types.Identity{
		Kind:   types.IdentityIP,
		UserID: row.UserID,
		Plan:   plan,
	}, nil
}

// TouchIP updates the last-used timestamp of an authorized IP. Callers
// run it fire-and-forget; errors are logged, never surfaced.
func (s *Store) TouchIP(ctx context.Context, ip, userID string) {
	err := s.db.WithContext(ctx).
		Model(&ipAuthorizedRow{}).
		Where("ip = ? AND user_id = ?", ip, userID).
		Update("last_used_at", time.Now()).Error
	if err != nil {
		slog.Warn("failed to touch authorized ip",
			slog.String("ip", ip),
			slog.String("error", err.Error()))
	}
}

// CountEvents returns the number of usage events for identifier since the
// given instant, summed across the search and fetch logs.
func (s *Store) CountEvents(ctx context.Context, identifier string, since time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"search_logs", "fetch_logs"} {
		var n int64
		err := s.db.WithContext(ctx).Table(table).
			Where("user_id = ? AND created_at >= ?", identifier, since).
			Count(&n).Error
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

// AppendEvent writes a usage event to the log table matching its kind.
// Callers run it fire-and-forget; errors are logged, never surfaced.
func (s *Store) AppendEvent(ctx context.Context, ev types.UsageEvent) {
	table := "search_logs"
	if ev.Kind == types.EventFetch {
		table = "fetch_logs"
	}

	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	row := usageRow{
		ID:             uuid.NewString(),
		UserID:         ev.UserID,
		IP:             ev.IP,
		TokenPrefix:    ev.TokenPrefix,
		Payload:        ev.Payload,
		ResultCount:    ev.ResultCount,
		ResponseTimeMs: ev.ResponseTimeMs,
		StatusCode:     ev.StatusCode,
		ErrorCode:      ev.ErrorCode,
		CreatedAt:      created,
	}

	if err := s.db.WithContext(ctx).Table(table).Create(&row).Error; err != nil {
		slog.Warn("failed to append usage event",
			slog.String("table", table),
			slog.String("user_id", ev.UserID),
			slog.String("error", err.Error()))
	}
}

// LoadKeys returns the persisted provider API keys in insertion order.
func (s *Store) LoadKeys(ctx context.Context) ([]string, error) {
	var rows []providerKeyRow
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load provider keys: %w", err)
	}
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	return keys, nil
}

// DeleteKey removes an evicted provider key from the persistent store.
func (s *Store) DeleteKey(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Delete(&providerKeyRow{Key: key}).Error
	if err != nil {
		return fmt.Errorf("delete provider key: %w", err)
	}
	return nil
}
