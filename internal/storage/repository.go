package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"webhook-monitor/internal/monitor"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// uniqueViolation is the SQLSTATE PostgreSQL reports for unique index hits.
const uniqueViolation = "23505"

const (
	alertColumns = `id::text,
        symbol,
        side,
        state,
        price_alert::text,
        price_first_alert::text,
        replacement_count,
        price_minimum::text,
        price_maximum::text,
        cycles_without_new_low,
        cycles_without_new_high,
        current_price::text,
        price_variation_pct::text,
        monitoring_status,
        exit_reason,
        exit_details,
        cancel_reason,
        execution_price::text,
        savings_pct::text,
        efficiency_pct::text,
        monitoring_duration_minutes::text,
        webhook_source_id,
        strategy,
        comment,
        version,
        created_at,
        last_cycle_at,
        terminal_at,
        dispatched_at`

	insertAlertSQL = `INSERT INTO monitor_alerts (
        id,
        symbol,
        side,
        state,
        price_alert,
        price_first_alert,
        replacement_count,
        price_minimum,
        price_maximum,
        cycles_without_new_low,
        cycles_without_new_high,
        current_price,
        price_variation_pct,
        monitoring_status,
        exit_reason,
        exit_details,
        cancel_reason,
        execution_price,
        savings_pct,
        efficiency_pct,
        monitoring_duration_minutes,
        webhook_source_id,
        strategy,
        comment,
        version,
        created_at,
        last_cycle_at,
        terminal_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,1,$25,$26,$27
    );`

	updateAlertSQL = `UPDATE monitor_alerts
    SET
        state                       = $3,
        price_alert                 = $4,
        replacement_count           = $5,
        price_minimum               = $6,
        price_maximum               = $7,
        cycles_without_new_low      = $8,
        cycles_without_new_high     = $9,
        current_price               = $10,
        price_variation_pct         = $11,
        monitoring_status           = $12,
        exit_reason                 = $13,
        exit_details                = $14,
        cancel_reason               = $15,
        execution_price             = $16,
        savings_pct                 = $17,
        efficiency_pct              = $18,
        monitoring_duration_minutes = $19,
        webhook_source_id           = $20,
        last_cycle_at               = $21,
        terminal_at                 = $22,
        version                     = version + 1
    WHERE id = $1
      AND version = $2
      AND state = 'MONITORING'
    RETURNING version;`

	getAlertSQL = `SELECT ` + alertColumns + `
    FROM monitor_alerts
    WHERE id = $1;`

	findActiveSQL = `SELECT ` + alertColumns + `
    FROM monitor_alerts
    WHERE symbol = $1
      AND side = $2
      AND state = 'MONITORING'
    ORDER BY created_at DESC
    LIMIT 1;`

	listActiveSQL = `SELECT ` + alertColumns + `
    FROM monitor_alerts
    WHERE state = 'MONITORING'
    ORDER BY created_at;`

	lastTerminalSQL = `SELECT MAX(terminal_at)
    FROM monitor_alerts
    WHERE symbol = $1
      AND side = $2
      AND state <> 'MONITORING'
      AND exit_reason <> 'COOLDOWN';`

	listUndispatchedSQL = `SELECT ` + alertColumns + `
    FROM monitor_alerts
    WHERE state = 'EXECUTED'
      AND dispatched_at IS NULL
    ORDER BY terminal_at
    LIMIT $1;`

	markDispatchedSQL = `UPDATE monitor_alerts
    SET dispatched_at = $2
    WHERE id = $1
      AND dispatched_at IS NULL;`

	summarySQL = `SELECT
        COUNT(*) FILTER (WHERE state = 'MONITORING'),
        COUNT(*) FILTER (WHERE state = 'EXECUTED' AND terminal_at >= $1),
        COUNT(*) FILTER (WHERE state = 'CANCELLED' AND exit_reason <> 'COOLDOWN' AND terminal_at >= $1),
        COUNT(*) FILTER (WHERE exit_reason = 'COOLDOWN' AND terminal_at >= $1),
        ROUND(AVG(savings_pct) FILTER (WHERE terminal_at >= $1 AND exit_reason <> 'COOLDOWN'), 4)::text,
        ROUND(AVG(efficiency_pct) FILTER (WHERE terminal_at >= $1 AND exit_reason <> 'COOLDOWN'), 4)::text,
        ROUND(AVG(monitoring_duration_minutes) FILTER (WHERE terminal_at >= $1 AND exit_reason <> 'COOLDOWN'), 4)::text
    FROM monitor_alerts;`

	loadConfigSQL = `SELECT
        max_fall_pct::text,
        max_rise_pct::text,
        max_monitoring_minutes,
        lateral_cycle_threshold,
        cooldown_minutes,
        poll_interval_seconds,
        reversion_confirmation_pct::text,
        noise_band_pct::text,
        updated_at
    FROM monitor_config
    WHERE id = 1;`

	saveConfigSQL = `INSERT INTO monitor_config (
        id,
        max_fall_pct,
        max_rise_pct,
        max_monitoring_minutes,
        lateral_cycle_threshold,
        cooldown_minutes,
        poll_interval_seconds,
        reversion_confirmation_pct,
        noise_band_pct,
        updated_at
    ) VALUES (
        1,$1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (id) DO UPDATE
    SET
        max_fall_pct               = EXCLUDED.max_fall_pct,
        max_rise_pct               = EXCLUDED.max_rise_pct,
        max_monitoring_minutes     = EXCLUDED.max_monitoring_minutes,
        lateral_cycle_threshold    = EXCLUDED.lateral_cycle_threshold,
        cooldown_minutes           = EXCLUDED.cooldown_minutes,
        poll_interval_seconds      = EXCLUDED.poll_interval_seconds,
        reversion_confirmation_pct = EXCLUDED.reversion_confirmation_pct,
        noise_band_pct             = EXCLUDED.noise_band_pct,
        updated_at                 = EXCLUDED.updated_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore persists MonitorAlert records. Updates are conditional on the
// expected version and on the alert still being MONITORING.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert monitor.Alert) (monitor.Alert, error)
	GetAlert(ctx context.Context, id string) (monitor.Alert, error)
	FindActive(ctx context.Context, symbol string, side monitor.Side) (monitor.Alert, bool, error)
	ListActive(ctx context.Context) ([]monitor.Alert, error)
	UpdateAlert(ctx context.Context, alert monitor.Alert, expectedVersion int64) (monitor.Alert, error)
	SupersedeAlert(ctx context.Context, closed monitor.Alert, expectedVersion int64, replacement monitor.Alert) (monitor.Alert, error)
	LastTerminalAt(ctx context.Context, symbol string, side monitor.Side) (time.Time, bool, error)
	ListHistory(ctx context.Context, filter monitor.HistoryFilter) ([]monitor.Alert, error)
	Summarize(ctx context.Context, since time.Time) (monitor.Summary, error)
	ListUndispatched(ctx context.Context, limit int) ([]monitor.Alert, error)
	MarkDispatched(ctx context.Context, id string, at time.Time) error
}

// ConfigStore persists the process-wide MonitorConfig.
type ConfigStore interface {
	LoadConfig(ctx context.Context) (monitor.Config, bool, error)
	SaveConfig(ctx context.Context, cfg monitor.Config) error
}

// MonitorStore is the full persistence surface of the monitor.
type MonitorStore interface {
	AlertStore
	ConfigStore
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL MonitorStore.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection is recycled
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertAlert persists a new alert with version 1.
func (s *Store) InsertAlert(ctx context.Context, alert monitor.Alert) (monitor.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return monitor.Alert{}, err
	}
	if err := insertAlert(ctx, pool, alert); err != nil {
		return monitor.Alert{}, err
	}
	alert.Version = 1
	return alert, nil
}

func insertAlert(ctx context.Context, q querier, a monitor.Alert) error {
	minimum, maximum, lows, highs := extremumArgs(a)
	_, err := q.Exec(ctx, insertAlertSQL,
		a.ID,
		a.Symbol,
		string(a.Side),
		string(a.State),
		a.PriceAlert.String(),
		a.PriceFirstAlert.String(),
		a.ReplacementCount,
		minimum,
		maximum,
		lows,
		highs,
		optionalPrice(a.CurrentPrice),
		a.PriceVariationPct.String(),
		string(a.MonitoringStatus),
		exitReasonArg(a.ExitReason),
		a.ExitDetails,
		a.CancelReason,
		decimalArg(a.ExecutionPrice),
		decimalArg(a.SavingsPct),
		decimalArg(a.EfficiencyPct),
		decimalArg(a.MonitoringDurationMinutes),
		a.WebhookSourceID,
		a.Strategy,
		a.Comment,
		a.CreatedAt,
		a.LastCycleAt,
		a.TerminalAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s %s already has an active alert", monitor.ErrConcurrencyConflict, a.Symbol, a.Side)
	}
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// isUniqueViolation reports a hit on monitor_alerts_one_active: another replica
// admitted the same pair first.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// validAlertID rejects ids the uuid column could never hold.
func validAlertID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", monitor.ErrNotFound, id)
	}
	return nil
}

// UpdateAlert writes every mutable field of alert in one statement, provided the
// stored version still equals expectedVersion and the alert is MONITORING.
func (s *Store) UpdateAlert(ctx context.Context, alert monitor.Alert, expectedVersion int64) (monitor.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return monitor.Alert{}, err
	}
	version, err := updateAlert(ctx, pool, alert, expectedVersion)
	if err != nil {
		return monitor.Alert{}, err
	}
	alert.Version = version
	return alert, nil
}

func updateAlert(ctx context.Context, q querier, a monitor.Alert, expectedVersion int64) (int64, error) {
	minimum, maximum, lows, highs := extremumArgs(a)
	var version int64
	err := q.QueryRow(ctx, updateAlertSQL,
		a.ID,
		expectedVersion,
		string(a.State),
		a.PriceAlert.String(),
		a.ReplacementCount,
		minimum,
		maximum,
		lows,
		highs,
		optionalPrice(a.CurrentPrice),
		a.PriceVariationPct.String(),
		string(a.MonitoringStatus),
		exitReasonArg(a.ExitReason),
		a.ExitDetails,
		a.CancelReason,
		decimalArg(a.ExecutionPrice),
		decimalArg(a.SavingsPct),
		decimalArg(a.EfficiencyPct),
		decimalArg(a.MonitoringDurationMinutes),
		a.WebhookSourceID,
		a.LastCycleAt,
		a.TerminalAt,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: alert %s version %d", monitor.ErrConcurrencyConflict, a.ID, expectedVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("update alert: %w", err)
	}
	return version, nil
}

// SupersedeAlert closes an active alert and inserts its successor atomically.
func (s *Store) SupersedeAlert(ctx context.Context, closed monitor.Alert, expectedVersion int64, replacement monitor.Alert) (monitor.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return monitor.Alert{}, err
	}
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := updateAlert(ctx, tx, closed, expectedVersion); err != nil {
			return err
		}
		return insertAlert(ctx, tx, replacement)
	})
	if err != nil {
		return monitor.Alert{}, err
	}
	replacement.Version = 1
	return replacement, nil
}

// GetAlert loads one alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (monitor.Alert, error) {
	if err := validAlertID(id); err != nil {
		return monitor.Alert{}, err
	}
	pool, err := s.getPool()
	if err != nil {
		return monitor.Alert{}, err
	}
	alert, err := scanAlert(pool.QueryRow(ctx, getAlertSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Alert{}, fmt.Errorf("%w: %s", monitor.ErrNotFound, id)
	}
	if err != nil {
		return monitor.Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return alert, nil
}

// FindActive returns the MONITORING alert of a pair, if any.
func (s *Store) FindActive(ctx context.Context, symbol string, side monitor.Side) (monitor.Alert, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return monitor.Alert{}, false, err
	}
	alert, err := scanAlert(pool.QueryRow(ctx, findActiveSQL, symbol, string(side)))
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Alert{}, false, nil
	}
	if err != nil {
		return monitor.Alert{}, false, fmt.Errorf("find active alert: %w", err)
	}
	return alert, true, nil
}

// ListActive lists all MONITORING alerts, oldest first.
func (s *Store) ListActive(ctx context.Context) ([]monitor.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return s.queryAlerts(ctx, pool, "list active alerts", listActiveSQL)
}

// LastTerminalAt returns the latest terminal_at of the pair, ignoring cooldown
// rejection records.
func (s *Store) LastTerminalAt(ctx context.Context, symbol string, side monitor.Side) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}
	var last *time.Time
	if err := pool.QueryRow(ctx, lastTerminalSQL, symbol, string(side)).Scan(&last); err != nil {
		return time.Time{}, false, fmt.Errorf("last terminal alert: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

// ListHistory lists alerts matching filter, newest first.
func (s *Store) ListHistory(ctx context.Context, filter monitor.HistoryFilter) ([]monitor.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	conds := make([]string, 0, 6)
	args := make([]any, 0, 7)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Symbol != "" {
		add("symbol = $%d", filter.Symbol)
	}
	if filter.Side != "" {
		add("side = $%d", string(filter.Side))
	}
	if filter.State != "" {
		add("state = $%d", string(filter.State))
	}
	if filter.ExitReason != monitor.ExitNone {
		add("exit_reason = $%d", string(filter.ExitReason))
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at < $%d", *filter.To)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = monitor.DefaultHistoryLimit
	}
	args = append(args, limit)

	query := `SELECT ` + alertColumns + ` FROM monitor_alerts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d;", len(args))

	return s.queryAlerts(ctx, pool, "list history", query, args...)
}

// Summarize aggregates outcomes whose terminal_at falls at or after since.
func (s *Store) Summarize(ctx context.Context, since time.Time) (monitor.Summary, error) {
	pool, err := s.getPool()
	if err != nil {
		return monitor.Summary{}, err
	}

	summary := monitor.Summary{Since: since}
	var savings, efficiency, duration *string
	if err := pool.QueryRow(ctx, summarySQL, since).Scan(
		&summary.Monitoring,
		&summary.Executed,
		&summary.Cancelled,
		&summary.CooldownRejected,
		&savings,
		&efficiency,
		&duration,
	); err != nil {
		return monitor.Summary{}, fmt.Errorf("summarize alerts: %w", err)
	}

	if summary.AvgSavingsPct, err = parseOptional(savings); err != nil {
		return monitor.Summary{}, fmt.Errorf("parse avg savings: %w", err)
	}
	if summary.AvgEfficiencyPct, err = parseOptional(efficiency); err != nil {
		return monitor.Summary{}, fmt.Errorf("parse avg efficiency: %w", err)
	}
	if summary.AvgDurationMinutes, err = parseOptional(duration); err != nil {
		return monitor.Summary{}, fmt.Errorf("parse avg duration: %w", err)
	}
	return summary, nil
}

// ListUndispatched lists EXECUTED alerts the execution collaborator has not acknowledged.
func (s *Store) ListUndispatched(ctx context.Context, limit int) ([]monitor.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return s.queryAlerts(ctx, pool, "list undispatched alerts", listUndispatchedSQL, limit)
}

// MarkDispatched records the hand-off to the execution collaborator.
func (s *Store) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	if err := validAlertID(id); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, markDispatchedSQL, id, at); err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	return nil
}

// LoadConfig reads the stored MonitorConfig. The boolean is false when nothing
// has been saved yet.
func (s *Store) LoadConfig(ctx context.Context) (monitor.Config, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return monitor.Config{}, false, err
	}

	var (
		cfg                                    monitor.Config
		fallStr, riseStr, reversionStr, bandStr string
	)
	err = pool.QueryRow(ctx, loadConfigSQL).Scan(
		&fallStr,
		&riseStr,
		&cfg.MaxMonitoringMinutes,
		&cfg.LateralCycleThreshold,
		&cfg.CooldownMinutes,
		&cfg.PollIntervalSeconds,
		&reversionStr,
		&bandStr,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Config{}, false, nil
	}
	if err != nil {
		return monitor.Config{}, false, fmt.Errorf("load config: %w", err)
	}

	if cfg.MaxFallPct, err = decimal.NewFromString(fallStr); err != nil {
		return monitor.Config{}, false, fmt.Errorf("parse max_fall_pct: %w", err)
	}
	if cfg.MaxRisePct, err = decimal.NewFromString(riseStr); err != nil {
		return monitor.Config{}, false, fmt.Errorf("parse max_rise_pct: %w", err)
	}
	if cfg.ReversionConfirmationPct, err = decimal.NewFromString(reversionStr); err != nil {
		return monitor.Config{}, false, fmt.Errorf("parse reversion_confirmation_pct: %w", err)
	}
	if cfg.NoiseBandPct, err = decimal.NewFromString(bandStr); err != nil {
		return monitor.Config{}, false, fmt.Errorf("parse noise_band_pct: %w", err)
	}
	return cfg, true, nil
}

// SaveConfig upserts the singleton MonitorConfig row.
func (s *Store) SaveConfig(ctx context.Context, cfg monitor.Config) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, saveConfigSQL,
		cfg.MaxFallPct.String(),
		cfg.MaxRisePct.String(),
		cfg.MaxMonitoringMinutes,
		cfg.LateralCycleThreshold,
		cfg.CooldownMinutes,
		cfg.PollIntervalSeconds,
		cfg.ReversionConfirmationPct.String(),
		cfg.NoiseBandPct.String(),
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func (s *Store) queryAlerts(ctx context.Context, pool *pgxpool.Pool, op, query string, args ...any) ([]monitor.Alert, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	alerts := make([]monitor.Alert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", op, scanErr)
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: %w", op, rows.Err())
	}
	return alerts, nil
}

func scanAlert(row pgx.Row) (monitor.Alert, error) {
	var (
		a                                      monitor.Alert
		side, state, status                    string
		priceAlert, priceFirst, variation      string
		minimum, maximum, current              *string
		lows, highs                            int
		exitReason                             *string
		execution, savings, efficiency, minutes *string
	)

	if err := row.Scan(
		&a.ID,
		&a.Symbol,
		&side,
		&state,
		&priceAlert,
		&priceFirst,
		&a.ReplacementCount,
		&minimum,
		&maximum,
		&lows,
		&highs,
		&current,
		&variation,
		&status,
		&exitReason,
		&a.ExitDetails,
		&a.CancelReason,
		&execution,
		&savings,
		&efficiency,
		&minutes,
		&a.WebhookSourceID,
		&a.Strategy,
		&a.Comment,
		&a.Version,
		&a.CreatedAt,
		&a.LastCycleAt,
		&a.TerminalAt,
		&a.DispatchedAt,
	); err != nil {
		return monitor.Alert{}, err
	}

	a.Side = monitor.Side(side)
	a.State = monitor.State(state)
	a.MonitoringStatus = monitor.Status(status)
	if exitReason != nil {
		a.ExitReason = monitor.ExitReason(*exitReason)
	}

	var err error
	if a.PriceAlert, err = decimal.NewFromString(priceAlert); err != nil {
		return monitor.Alert{}, fmt.Errorf("parse price_alert: %w", err)
	}
	if a.PriceFirstAlert, err = decimal.NewFromString(priceFirst); err != nil {
		return monitor.Alert{}, fmt.Errorf("parse price_first_alert: %w", err)
	}
	if a.PriceVariationPct, err = decimal.NewFromString(variation); err != nil {
		return monitor.Alert{}, fmt.Errorf("parse price_variation_pct: %w", err)
	}

	best, cycles := minimum, lows
	if a.Side == monitor.SideSell {
		best, cycles = maximum, highs
	}
	a.CyclesWithoutImprovement = cycles
	if best != nil {
		if a.Best, err = decimal.NewFromString(*best); err != nil {
			return monitor.Alert{}, fmt.Errorf("parse extremum: %w", err)
		}
		a.BestSet = true
	}
	if current != nil {
		if a.CurrentPrice, err = decimal.NewFromString(*current); err != nil {
			return monitor.Alert{}, fmt.Errorf("parse current_price: %w", err)
		}
	}

	if a.ExecutionPrice, err = parseOptional(execution); err != nil {
		return monitor.Alert{}, fmt.Errorf("parse execution_price: %w", err)
	}
	if a.SavingsPct, err = parseOptional(savings); err != nil {
		return monitor.Alert{}, fmt.Errorf("parse savings_pct: %w", err)
	}
	if a.EfficiencyPct, err = parseOptional(efficiency); err != nil {
		return monitor.Alert{}, fmt.Errorf("parse efficiency_pct: %w", err)
	}
	if a.MonitoringDurationMinutes, err = parseOptional(minutes); err != nil {
		return monitor.Alert{}, fmt.Errorf("parse monitoring_duration_minutes: %w", err)
	}
	return a, nil
}

// extremumArgs maps the side-independent extremum onto the side-specific columns.
func extremumArgs(a monitor.Alert) (minimum, maximum any, lows, highs int) {
	var best any
	if a.BestSet {
		best = a.Best.String()
	}
	if a.Side == monitor.SideSell {
		return nil, best, 0, a.CyclesWithoutImprovement
	}
	return best, nil, a.CyclesWithoutImprovement, 0
}

func decimalArg(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func optionalPrice(v decimal.Decimal) any {
	if v.IsZero() {
		return nil
	}
	return v.String()
}

func exitReasonArg(r monitor.ExitReason) any {
	if r == monitor.ExitNone {
		return nil
	}
	return string(r)
}

func parseOptional(v *string) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

var (
	_ MonitorStore   = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
