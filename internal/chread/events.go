package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse blink_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the blink_events table.
type EventRow struct {
	EventID        string
	ProjectID      string
	Timestamp      time.Time
	Kind           string
	Link           string
	ActionURL      string
	ActionHost     string
	OriginURL      string
	OriginType     string
	ActionState    string
	OriginState    string
	Classification string
	Allowed        uint8
	Outcome        string
	ErrorMessage   string
	Account        string
	ComponentLabel string
	LatencyMs      float32
	Source         string
}

const eventColumns = "event_id, project_id, timestamp, kind, link, action_url, action_host, " +
	"origin_url, origin_type, action_state, origin_state, classification, " +
	"allowed, outcome, error_message, account, component_label, latency_ms, source"

func (e *EventRow) scanTargets() []any {
	return []any{
		&e.EventID, &e.ProjectID, &e.Timestamp, &e.Kind, &e.Link, &e.ActionURL, &e.ActionHost,
		&e.OriginURL, &e.OriginType, &e.ActionState, &e.OriginState, &e.Classification,
		&e.Allowed, &e.Outcome, &e.ErrorMessage, &e.Account, &e.ComponentLabel, &e.LatencyMs, &e.Source,
	}
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	ProjectID      string
	Kind           *string
	Outcome        *string
	Classification *string
	OriginType     *string
	ActionHost     *string
	Allowed        *bool
	StartTime      *time.Time
	EndTime        *time.Time
	Page           int
	PageSize       int
}

// buildFilter returns the WHERE clause and named args for params.
func buildFilter(params ListEventsParams) (string, []any) {
	conditions := []string{"project_id = @project_id"}
	args := []any{
		clickhouse.Named("project_id", params.ProjectID),
	}

	eq := func(column string, v *string) {
		if v == nil {
			return
		}
		conditions = append(conditions, column+" = @"+column)
		args = append(args, clickhouse.Named(column, *v))
	}
	eq("kind", params.Kind)
	eq("outcome", params.Outcome)
	eq("classification", params.Classification)
	eq("origin_type", params.OriginType)
	eq("action_host", params.ActionHost)

	if params.Allowed != nil {
		var v uint8
		if *params.Allowed {
			v = 1
		}
		conditions = append(conditions, "allowed = @allowed")
		args = append(args, clickhouse.Named("allowed", v))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}
	return strings.Join(conditions, " AND "), args
}

// ListEvents returns paginated, filtered blink events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	where, args := buildFilter(params)
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM blink_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT %s FROM blink_events WHERE %s ORDER BY timestamp DESC LIMIT @limit OFFSET @offset",
		eventColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(e.scanTargets()...); err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// GetEvent returns a single event by project ID and event ID, or nil if not found.
func (r *Reader) GetEvent(ctx context.Context, projectID, eventID string) (*EventRow, error) {
	row := r.conn.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM blink_events "+
			"WHERE project_id = @project_id AND event_id = @event_id",
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("event_id", eventID),
	)

	var e EventRow
	if err := row.Scan(e.scanTargets()...); err != nil {
		// ClickHouse doesn't return sql.ErrNoRows, so check for empty result
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	if e.EventID == "" {
		return nil, nil
	}
	return &e, nil
}

// SummaryStats holds aggregate counts.
type SummaryStats struct {
	Total     int `json:"total"`
	Allowed   int `json:"allowed"`
	Blocked   int `json:"blocked"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// HostCount holds an action host and its count.
type HostCount struct {
	Host  string `json:"host"`
	Count int    `json:"count"`
}

// ClassificationStats counts events per trust classification.
type ClassificationStats struct {
	Trusted   int `json:"trusted"`
	Unknown   int `json:"unknown"`
	Malicious int `json:"malicious"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary            SummaryStats        `json:"summary"`
	BlocksOverTime     []TimeSeriesBucket  `json:"blocks_over_time"`
	TopBlockedHosts    []HostCount         `json:"top_blocked_hosts"`
	Classifications    ClassificationStats `json:"classifications"`
	LatencyPercentiles LatencyStats        `json:"latency_percentiles"`
}

// GetAnalytics returns aggregated analytics for a project over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, projectID string, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("range_start", rangeStart),
	}

	result := &AnalyticsResult{}

	var total, allowed, blocked, succeeded, failed uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total, "+
			"countIf(allowed = 1) as allowed, "+
			"countIf(outcome = 'blocked') as blocked, "+
			"countIf(outcome = 'prepared') as succeeded, "+
			"countIf(outcome IN ('rejected', 'unavailable')) as failed "+
			"FROM blink_events "+
			"WHERE project_id = @project_id AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&total, &allowed, &blocked, &succeeded, &failed)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		Total:     int(total),
		Allowed:   int(allowed),
		Blocked:   int(blocked),
		Succeeded: int(succeeded),
		Failed:    int(failed),
	}

	bucketRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM blink_events "+
			"WHERE project_id = @project_id AND outcome = 'blocked' "+
			"AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics blocks_over_time: %w", err)
	}
	defer func() { _ = bucketRows.Close() }()
	for bucketRows.Next() {
		var hour time.Time
		var count uint64
		if err := bucketRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics blocks_over_time scan: %w", err)
		}
		result.BlocksOverTime = append(result.BlocksOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	hostRows, err := r.conn.Query(ctx,
		"SELECT action_host, count() as count "+
			"FROM blink_events "+
			"WHERE project_id = @project_id AND allowed = 0 "+
			"AND action_host != '' AND timestamp >= @range_start "+
			"GROUP BY action_host ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_blocked_hosts: %w", err)
	}
	defer func() { _ = hostRows.Close() }()
	for hostRows.Next() {
		var host string
		var count uint64
		if err := hostRows.Scan(&host, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_blocked_hosts scan: %w", err)
		}
		result.TopBlockedHosts = append(result.TopBlockedHosts, HostCount{Host: host, Count: int(count)})
	}

	var trusted, unknown, malicious uint64
	err = r.conn.QueryRow(ctx,
		"SELECT countIf(classification = 'trusted'), "+
			"countIf(classification = 'unknown'), "+
			"countIf(classification = 'malicious') "+
			"FROM blink_events "+
			"WHERE project_id = @project_id AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&trusted, &unknown, &malicious)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics classifications: %w", err)
	}
	result.Classifications = ClassificationStats{
		Trusted: int(trusted), Unknown: int(unknown), Malicious: int(malicious),
	}

	// Latency percentiles (last 24h)
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_ms) as p50, "+
			"quantile(0.95)(latency_ms) as p95, "+
			"quantile(0.99)(latency_ms) as p99 "+
			"FROM blink_events "+
			"WHERE project_id = @project_id AND timestamp >= @day_start",
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("day_start", dayStart),
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	// Ensure slices are non-nil for JSON serialization
	if result.BlocksOverTime == nil {
		result.BlocksOverTime = []TimeSeriesBucket{}
	}
	if result.TopBlockedHosts == nil {
		result.TopBlockedHosts = []HostCount{}
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
