package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/septivank/fleetwatch/internal/db"
)

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// DBTX is the subset of pgxpool.Pool used by the store
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const boardColumns = `
	id, number, status, created_at, is_online, online_since, offline_since,
	last_telemetry_at, last_mode, last_volt, last_lat, last_lon,
	last_pos_reported_at, current_sess,
	last_offline_notified_at, prolonged_offline_notified_at`

const sampleColumns = `
	id, board_id, ts, ts_epoch, sess, seq, lat, lon, alt_m, gs, hdg, airspd,
	volt, mode, wind_spd, wind_dir, gps, arm, received_at`

// PostgresStore handles database operations
type PostgresStore struct {
	pool DBTX
}

// NewPostgresStore creates a new store on top of a pool
func NewPostgresStore(pool DBTX) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// UpsertBoard resolves a board by its number, creating it on first sight.
// New boards start offline with offline_since set to creation time.
func (r *PostgresStore) UpsertBoard(ctx context.Context, number int64) (int64, bool, error) {
	query := `
		INSERT INTO boards (number, is_online, offline_since, created_at)
		VALUES ($1, FALSE, now(), now())
		ON CONFLICT (number) DO UPDATE SET number = EXCLUDED.number
		RETURNING id, (xmax = 0) AS created
	`

	var id int64
	var created bool
	if err := r.pool.QueryRow(ctx, query, number).Scan(&id, &created); err != nil {
		return 0, false, fmt.Errorf("failed to upsert board %d: %w", number, err)
	}
	return id, created, nil
}

// GetBoard retrieves a board by id
func (r *PostgresStore) GetBoard(ctx context.Context, id int64) (*db.Board, error) {
	query := `SELECT ` + boardColumns + ` FROM boards WHERE id = $1`
	b, err := scanBoard(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBoardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query board: %w", err)
	}
	return b, nil
}

// GetBoardByNumber retrieves a board by its stable number
func (r *PostgresStore) GetBoardByNumber(ctx context.Context, number int64) (*db.Board, error) {
	query := `SELECT ` + boardColumns + ` FROM boards WHERE number = $1`
	b, err := scanBoard(r.pool.QueryRow(ctx, query, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBoardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query board: %w", err)
	}
	return b, nil
}

// ListBoards returns every board ordered by number
func (r *PostgresStore) ListBoards(ctx context.Context) ([]db.Board, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+boardColumns+` FROM boards ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	defer rows.Close()

	var boards []db.Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan board: %w", err)
		}
		boards = append(boards, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating boards: %w", err)
	}
	return boards, nil
}

// BeginTx starts a new transaction
func (r *PostgresStore) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// WithBoardLock runs fn while holding SELECT ... FOR UPDATE on the board row
func (r *PostgresStore) WithBoardLock(ctx context.Context, id int64, fn func(b *db.Board) error) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + boardColumns + ` FROM boards WHERE id = $1 FOR UPDATE`
	b, err := scanBoard(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrBoardNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock board: %w", err)
	}

	if err := fn(b); err != nil {
		return err
	}

	if err := r.updatePresenceTx(ctx, tx, b); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresStore) updatePresenceTx(ctx context.Context, tx pgx.Tx, b *db.Board) error {
	query := `
		UPDATE boards SET
			is_online = $2,
			online_since = $3,
			offline_since = $4,
			last_telemetry_at = $5,
			last_mode = $6,
			last_volt = $7,
			last_lat = $8,
			last_lon = $9,
			last_pos_reported_at = $10,
			current_sess = $11,
			last_offline_notified_at = $12,
			prolonged_offline_notified_at = $13
		WHERE id = $1
	`

	_, err := tx.Exec(ctx, query,
		b.ID,
		b.IsOnline,
		b.OnlineSince,
		b.OfflineSince,
		b.LastTelemetryAt,
		b.LastMode,
		b.LastVolt,
		b.LastLat,
		b.LastLon,
		b.LastPosReportedAt,
		b.CurrentSess,
		b.LastOfflineNotifiedAt,
		b.ProlongedOfflineNotifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update board presence: %w", err)
	}
	return nil
}

// SweepCandidates lists boards the offline sweep has to look at
func (r *PostgresStore) SweepCandidates(ctx context.Context, staleBefore time.Time) ([]int64, error) {
	query := `
		SELECT id FROM boards
		WHERE (is_online OR offline_since IS NOT NULL)
		  AND (last_telemetry_at IS NULL OR last_telemetry_at <= $1)
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweep candidates: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sweep candidate: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sweep candidates: %w", err)
	}
	return ids, nil
}

// Put upserts a sample on (board_id, sess, seq). Samples without a key
// carry NULLs in the constraint columns and always append.
func (r *PostgresStore) Put(ctx context.Context, s *db.Sample) (PutResult, error) {
	query := `
		INSERT INTO telemetry (
			board_id, ts, ts_epoch, sess, seq, lat, lon, alt_m, gs, hdg, airspd,
			volt, mode, wind_spd, wind_dir, gps, arm, received_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (board_id, sess, seq) DO UPDATE SET
			ts = EXCLUDED.ts,
			ts_epoch = EXCLUDED.ts_epoch,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			alt_m = EXCLUDED.alt_m,
			gs = EXCLUDED.gs,
			hdg = EXCLUDED.hdg,
			airspd = EXCLUDED.airspd,
			volt = EXCLUDED.volt,
			mode = EXCLUDED.mode,
			wind_spd = EXCLUDED.wind_spd,
			wind_dir = EXCLUDED.wind_dir,
			gps = EXCLUDED.gps,
			arm = EXCLUDED.arm,
			received_at = EXCLUDED.received_at
		RETURNING id, (xmax = 0) AS inserted
	`

	var res PutResult
	err := r.pool.QueryRow(ctx, query,
		s.BoardID,
		s.TS,
		s.TSEpoch,
		s.Sess,
		s.Seq,
		s.Lat,
		s.Lon,
		s.AltM,
		s.GS,
		s.Hdg,
		s.Airspd,
		s.Volt,
		s.Mode,
		s.WindSpd,
		s.WindDir,
		s.GPS,
		s.Arm,
		s.ReceivedAt,
	).Scan(&res.ID, &res.Inserted)
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to upsert telemetry: %w", err)
	}

	s.ID = res.ID
	return res, nil
}

// Query returns samples for a board ordered by timestamp ascending
func (r *PostgresStore) Query(ctx context.Context, boardID int64, f Filter) ([]db.Sample, error) {
	var sb strings.Builder
	args := []any{boardID}

	sb.WriteString(`SELECT ` + sampleColumns + ` FROM telemetry WHERE board_id = $1`)
	if f.Session != nil {
		args = append(args, *f.Session)
		fmt.Fprintf(&sb, " AND sess = $%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		fmt.Fprintf(&sb, " AND ts >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		fmt.Fprintf(&sb, " AND ts <= $%d", len(args))
	}
	if f.RequirePosition {
		sb.WriteString(" AND lat IS NOT NULL AND lon IS NOT NULL")
	}
	if f.Latest {
		sb.WriteString(" ORDER BY ts DESC, id DESC")
	} else {
		sb.WriteString(" ORDER BY ts ASC, id ASC")
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var samples []db.Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan telemetry: %w", err)
		}
		samples = append(samples, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating telemetry: %w", err)
	}

	if f.Latest {
		reverse(samples)
	}
	return samples, nil
}

// LatestSession returns the newest non-empty session token in the window
func (r *PostgresStore) LatestSession(ctx context.Context, boardID int64, from, to time.Time) (string, error) {
	query := `
		SELECT sess FROM telemetry
		WHERE board_id = $1 AND ts >= $2 AND ts <= $3
		  AND sess IS NOT NULL AND sess <> ''
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`

	var sess string
	err := r.pool.QueryRow(ctx, query, boardID, from, to).Scan(&sess)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to detect latest session: %w", err)
	}
	return sess, nil
}

// Sessions returns the session index of a board, oldest session first
func (r *PostgresStore) Sessions(ctx context.Context, boardID int64) ([]SessionSummary, error) {
	query := `
		SELECT sess, MIN(ts), MAX(ts), COUNT(*)
		FROM telemetry
		WHERE board_id = $1 AND sess IS NOT NULL AND sess <> ''
		GROUP BY sess
		ORDER BY MIN(ts) ASC
	`

	rows, err := r.pool.Query(ctx, query, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		var count int64
		if err := rows.Scan(&s.Session, &s.First, &s.Last, &count); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.Count = int(count)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return out, nil
}

// InsertArmReports stores reports in one transaction, skipping duplicates
func (r *PostgresStore) InsertArmReports(ctx context.Context, reports []db.ArmReport) ([]db.ArmReport, error) {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO arm_reports (board_id, board_number, ts, arms, arm_sec, qstab_sec, created_at)
		VALUES ((SELECT id FROM boards WHERE number = $1), $1, $2, $3, $4, $5, now())
		ON CONFLICT ON CONSTRAINT arm_reports_dedup_key DO NOTHING
		RETURNING id, board_id, created_at
	`

	var inserted []db.ArmReport
	for _, rep := range reports {
		err := tx.QueryRow(ctx, query, rep.BoardNumber, rep.TS, rep.Arms, rep.ArmSec, rep.QStabSec).
			Scan(&rep.ID, &rep.BoardID, &rep.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to insert arm report: %w", err)
		}
		inserted = append(inserted, rep)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

func scanBoard(row pgx.Row) (*db.Board, error) {
	var b db.Board
	err := row.Scan(
		&b.ID,
		&b.Number,
		&b.Status,
		&b.CreatedAt,
		&b.IsOnline,
		&b.OnlineSince,
		&b.OfflineSince,
		&b.LastTelemetryAt,
		&b.LastMode,
		&b.LastVolt,
		&b.LastLat,
		&b.LastLon,
		&b.LastPosReportedAt,
		&b.CurrentSess,
		&b.LastOfflineNotifiedAt,
		&b.ProlongedOfflineNotifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanSample(row pgx.Row) (*db.Sample, error) {
	var s db.Sample
	err := row.Scan(
		&s.ID,
		&s.BoardID,
		&s.TS,
		&s.TSEpoch,
		&s.Sess,
		&s.Seq,
		&s.Lat,
		&s.Lon,
		&s.AltM,
		&s.GS,
		&s.Hdg,
		&s.Airspd,
		&s.Volt,
		&s.Mode,
		&s.WindSpd,
		&s.WindDir,
		&s.GPS,
		&s.Arm,
		&s.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	s.TS = s.TS.UTC()
	return &s, nil
}

func reverse(samples []db.Sample) {
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
}
