package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
	"github.com/pharmaflow/pharmaflow-backend/internal/models"
)

// schema for the knowledge graph, production data and instructions.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS meta_process_nodes (
    code        TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    node_type   TEXT NOT NULL CHECK(node_type IN ('Block','Unit','Resource')),
    parent_code TEXT REFERENCES meta_process_nodes(code)
);
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON meta_process_nodes(parent_code);

CREATE TABLE IF NOT EXISTS meta_parameters (
    node_code   TEXT NOT NULL REFERENCES meta_process_nodes(code),
    code        TEXT NOT NULL,
    name        TEXT NOT NULL,
    unit        TEXT NOT NULL DEFAULT '',
    role        TEXT NOT NULL CHECK(role IN ('Input','Control','Output')),
    usl         REAL,
    lsl         REAL,
    target      REAL,
    data_type   TEXT NOT NULL DEFAULT 'Scalar',
    PRIMARY KEY (node_code, code)
);

CREATE TABLE IF NOT EXISTS meta_process_flows (
    source_code TEXT NOT NULL REFERENCES meta_process_nodes(code),
    target_code TEXT NOT NULL REFERENCES meta_process_nodes(code),
    name        TEXT NOT NULL DEFAULT '',
    loss_rate   REAL NOT NULL DEFAULT 0.0,
    PRIMARY KEY (source_code, target_code)
);

CREATE TABLE IF NOT EXISTS meta_risk_nodes (
    code             TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    category         TEXT NOT NULL,
    base_probability REAL
);

CREATE TABLE IF NOT EXISTS meta_risk_edges (
    source_code TEXT NOT NULL REFERENCES meta_risk_nodes(code),
    target_code TEXT NOT NULL REFERENCES meta_risk_nodes(code),
    weight      REAL NOT NULL DEFAULT 1.0,
    PRIMARY KEY (source_code, target_code)
);

CREATE TABLE IF NOT EXISTS meta_actions (
    code                 TEXT PRIMARY KEY,
    name                 TEXT NOT NULL,
    risk_code            TEXT REFERENCES meta_risk_nodes(code),
    target_role          TEXT NOT NULL,
    instruction_template TEXT NOT NULL,
    priority             TEXT NOT NULL DEFAULT 'MEDIUM',
    category             TEXT NOT NULL DEFAULT ''
);
`,
	},
	// Migration 2: production data stream.
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS data_batches (
    id           TEXT PRIMARY KEY,
    product_name TEXT NOT NULL DEFAULT '',
    operator_id  TEXT NOT NULL DEFAULT '',
    start_time   DATETIME NOT NULL,
    end_time     DATETIME,
    status       TEXT NOT NULL DEFAULT 'Running'
);
CREATE INDEX IF NOT EXISTS idx_batches_operator ON data_batches(operator_id, start_time DESC);

CREATE TABLE IF NOT EXISTS data_measurements (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id   TEXT NOT NULL REFERENCES data_batches(id),
    node_code  TEXT NOT NULL,
    param_code TEXT NOT NULL,
    value      REAL NOT NULL,
    timestamp  DATETIME NOT NULL,
    source     TEXT NOT NULL DEFAULT 'SENSOR'
);
CREATE INDEX IF NOT EXISTS idx_meas_batch      ON data_measurements(batch_id);
CREATE INDEX IF NOT EXISTS idx_meas_node_param ON data_measurements(node_code, param_code, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_meas_timestamp  ON data_measurements(timestamp DESC);
`,
	},
	// Migration 3: instructions with the dedup index.
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS data_instructions (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    target_date      TEXT NOT NULL,
    role             TEXT NOT NULL,
    action_code      TEXT NOT NULL,
    batch_id         TEXT NOT NULL DEFAULT '',
    node_code        TEXT NOT NULL DEFAULT '',
    param_code       TEXT NOT NULL DEFAULT '',
    content          TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'Pending',
    priority         TEXT NOT NULL DEFAULT 'MEDIUM',
    evidence         TEXT NOT NULL DEFAULT '{}',
    feedback         TEXT NOT NULL DEFAULT '',
    instruction_type TEXT NOT NULL DEFAULT 'tactical',
    created_at       DATETIME NOT NULL,
    read_at          DATETIME,
    done_at          DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_instructions_dedup
    ON data_instructions(target_date, role, action_code, batch_id, node_code);
CREATE INDEX IF NOT EXISTS idx_instructions_date_role ON data_instructions(target_date, role);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	// Enable foreign-key constraints.
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// storeErr tags an I/O failure so callers can classify it with errors.Is.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, errkind.ErrStoreUnavailable)
}

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// parseTime accepts the layouts SQLite hands back depending on how the
// value was written.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// ─── Process graph ────────────────────────────────────────────────────────────

func (s *sqliteStore) UpsertNode(ctx context.Context, n *models.Node) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO meta_process_nodes(code, name, node_type, parent_code)
        VALUES(?,?,?,?)
        ON CONFLICT(code) DO UPDATE SET
            name        = excluded.name,
            node_type   = excluded.node_type,
            parent_code = excluded.parent_code
    `, n.Code, n.Name, n.Type, n.ParentCode)
	if err != nil {
		return storeErr("upsert node", err)
	}
	return nil
}

func (s *sqliteStore) GetNode(ctx context.Context, code string) (*models.Node, error) {
	var n models.Node
	err := s.db.GetContext(ctx, &n,
		`SELECT code, name, node_type, parent_code FROM meta_process_nodes WHERE code = ?`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %q: %w", code, errkind.ErrUnknownEntity)
	}
	if err != nil {
		return nil, storeErr("get node", err)
	}
	return &n, nil
}

func (s *sqliteStore) ListNodes(ctx context.Context) ([]models.Node, error) {
	var nodes []models.Node
	err := s.db.SelectContext(ctx, &nodes,
		`SELECT code, name, node_type, parent_code FROM meta_process_nodes ORDER BY code ASC`)
	if err != nil {
		return nil, storeErr("list nodes", err)
	}
	return nodes, nil
}

func (s *sqliteStore) ListChildren(ctx context.Context, parentCode string) ([]models.Node, error) {
	var nodes []models.Node
	err := s.db.SelectContext(ctx, &nodes,
		`SELECT code, name, node_type, parent_code FROM meta_process_nodes WHERE parent_code = ? ORDER BY code ASC`,
		parentCode)
	if err != nil {
		return nil, storeErr("list children", err)
	}
	return nodes, nil
}

func (s *sqliteStore) UpsertParameter(ctx context.Context, p *models.ParameterDef) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO meta_parameters(node_code, code, name, unit, role, usl, lsl, target, data_type)
        VALUES(?,?,?,?,?,?,?,?,?)
        ON CONFLICT(node_code, code) DO UPDATE SET
            name      = excluded.name,
            unit      = excluded.unit,
            role      = excluded.role,
            usl       = excluded.usl,
            lsl       = excluded.lsl,
            target    = excluded.target,
            data_type = excluded.data_type
    `, p.NodeCode, p.Code, p.Name, p.Unit, p.Role, p.USL, p.LSL, p.Target, p.DataType)
	if err != nil {
		return storeErr("upsert parameter", err)
	}
	return nil
}

func (s *sqliteStore) GetParameter(ctx context.Context, nodeCode, code string) (*models.ParameterDef, error) {
	var p models.ParameterDef
	err := s.db.GetContext(ctx, &p, `
        SELECT node_code, code, name, unit, role, usl, lsl, target, data_type
        FROM meta_parameters WHERE node_code = ? AND code = ?`, nodeCode, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("parameter %s/%s: %w", nodeCode, code, errkind.ErrUnknownEntity)
	}
	if err != nil {
		return nil, storeErr("get parameter", err)
	}
	return &p, nil
}

func (s *sqliteStore) ListParameters(ctx context.Context, nodeCode string) ([]models.ParameterDef, error) {
	var params []models.ParameterDef
	err := s.db.SelectContext(ctx, &params, `
        SELECT node_code, code, name, unit, role, usl, lsl, target, data_type
        FROM meta_parameters WHERE node_code = ? ORDER BY code ASC`, nodeCode)
	if err != nil {
		return nil, storeErr("list parameters", err)
	}
	return params, nil
}

func (s *sqliteStore) UpsertFlow(ctx context.Context, e *models.Edge) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO meta_process_flows(source_code, target_code, name, loss_rate)
        VALUES(?,?,?,?)
        ON CONFLICT(source_code, target_code) DO UPDATE SET
            name      = excluded.name,
            loss_rate = excluded.loss_rate
    `, e.SourceCode, e.TargetCode, e.Name, e.LossRate)
	if err != nil {
		return storeErr("upsert flow", err)
	}
	return nil
}

func (s *sqliteStore) ListFlows(ctx context.Context) ([]models.Edge, error) {
	var flows []models.Edge
	err := s.db.SelectContext(ctx, &flows,
		`SELECT source_code, target_code, name, loss_rate FROM meta_process_flows ORDER BY source_code, target_code`)
	if err != nil {
		return nil, storeErr("list flows", err)
	}
	return flows, nil
}

// ─── Risk tree ────────────────────────────────────────────────────────────────

func (s *sqliteStore) UpsertRisk(ctx context.Context, r *models.Risk) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO meta_risk_nodes(code, name, category, base_probability)
        VALUES(?,?,?,?)
        ON CONFLICT(code) DO UPDATE SET
            name             = excluded.name,
            category         = excluded.category,
            base_probability = excluded.base_probability
    `, r.Code, r.Name, r.Category, r.BaseProbability)
	if err != nil {
		return storeErr("upsert risk", err)
	}
	return nil
}

func (s *sqliteStore) GetRisk(ctx context.Context, code string) (*models.Risk, error) {
	var r models.Risk
	err := s.db.GetContext(ctx, &r,
		`SELECT code, name, category, base_probability FROM meta_risk_nodes WHERE code = ?`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("risk %q: %w", code, errkind.ErrUnknownEntity)
	}
	if err != nil {
		return nil, storeErr("get risk", err)
	}
	return &r, nil
}

func (s *sqliteStore) ListRisks(ctx context.Context) ([]models.Risk, error) {
	var risks []models.Risk
	err := s.db.SelectContext(ctx, &risks,
		`SELECT code, name, category, base_probability FROM meta_risk_nodes ORDER BY code ASC`)
	if err != nil {
		return nil, storeErr("list risks", err)
	}
	return risks, nil
}

func (s *sqliteStore) UpsertRiskEdge(ctx context.Context, e *models.RiskEdge) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO meta_risk_edges(source_code, target_code, weight)
        VALUES(?,?,?)
        ON CONFLICT(source_code, target_code) DO UPDATE SET
            weight = excluded.weight
    `, e.SourceCode, e.TargetCode, e.Weight)
	if err != nil {
		return storeErr("upsert risk edge", err)
	}
	return nil
}

func (s *sqliteStore) ListRiskEdges(ctx context.Context) ([]models.RiskEdge, error) {
	var edges []models.RiskEdge
	err := s.db.SelectContext(ctx, &edges,
		`SELECT source_code, target_code, weight FROM meta_risk_edges ORDER BY source_code, target_code`)
	if err != nil {
		return nil, storeErr("list risk edges", err)
	}
	return edges, nil
}

// ─── Action catalog ───────────────────────────────────────────────────────────

func (s *sqliteStore) UpsertAction(ctx context.Context, a *models.ActionDef) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO meta_actions(code, name, risk_code, target_role, instruction_template, priority, category)
        VALUES(?,?,?,?,?,?,?)
        ON CONFLICT(code) DO UPDATE SET
            name                 = excluded.name,
            risk_code            = excluded.risk_code,
            target_role          = excluded.target_role,
            instruction_template = excluded.instruction_template,
            priority             = excluded.priority,
            category             = excluded.category
    `, a.Code, a.Name, a.RiskCode, a.TargetRole, a.InstructionTemplate, a.Priority, a.Category)
	if err != nil {
		return storeErr("upsert action", err)
	}
	return nil
}

func (s *sqliteStore) GetAction(ctx context.Context, code string) (*models.ActionDef, error) {
	var a models.ActionDef
	err := s.db.GetContext(ctx, &a, `
        SELECT code, name, risk_code, target_role, instruction_template, priority, category
        FROM meta_actions WHERE code = ?`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action %q: %w", code, errkind.ErrUnknownEntity)
	}
	if err != nil {
		return nil, storeErr("get action", err)
	}
	return &a, nil
}

func (s *sqliteStore) ListActions(ctx context.Context) ([]models.ActionDef, error) {
	var actions []models.ActionDef
	err := s.db.SelectContext(ctx, &actions, `
        SELECT code, name, risk_code, target_role, instruction_template, priority, category
        FROM meta_actions ORDER BY code ASC`)
	if err != nil {
		return nil, storeErr("list actions", err)
	}
	return actions, nil
}

// ─── Production data ──────────────────────────────────────────────────────────

func (s *sqliteStore) CreateBatch(ctx context.Context, b *models.Batch) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO data_batches(id, product_name, operator_id, start_time, end_time, status)
        VALUES(?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            product_name = excluded.product_name,
            operator_id  = excluded.operator_id,
            end_time     = excluded.end_time,
            status       = excluded.status
    `, b.ID, b.ProductName, b.OperatorID, fmtTime(b.StartTime), fmtTimePtr(b.EndTime), b.Status)
	if err != nil {
		return storeErr("create batch", err)
	}
	return nil
}

func (s *sqliteStore) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, product_name, operator_id, start_time, end_time, status
        FROM data_batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %q: %w", id, errkind.ErrUnknownEntity)
	}
	if err != nil {
		return nil, storeErr("get batch", err)
	}
	return b, nil
}

func (s *sqliteStore) ListBatches(ctx context.Context, limit int) ([]models.Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, product_name, operator_id, start_time, end_time, status
        FROM data_batches ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("list batches", err)
	}
	defer rows.Close()

	var batches []models.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, storeErr("scan batch", err)
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(r rowScanner) (*models.Batch, error) {
	var b models.Batch
	var start string
	var end sql.NullString
	if err := r.Scan(&b.ID, &b.ProductName, &b.OperatorID, &start, &end, &b.Status); err != nil {
		return nil, err
	}
	t, err := parseTime(start)
	if err != nil {
		return nil, err
	}
	b.StartTime = t
	b.EndTime = parseTimePtr(end)
	return &b, nil
}

func (s *sqliteStore) InsertMeasurement(ctx context.Context, m *models.Measurement) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO data_measurements(batch_id, node_code, param_code, value, timestamp, source)
        VALUES(?,?,?,?,?,?)
    `, m.BatchID, m.NodeCode, m.ParamCode, m.Value, fmtTime(m.Timestamp), m.Source)
	if err != nil {
		return 0, storeErr("insert measurement", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("measurement id", err)
	}
	return id, nil
}

// ListMeasurements fetches the most recent rows matching the filter and
// returns them ordered by timestamp ascending.
func (s *sqliteStore) ListMeasurements(ctx context.Context, f MeasurementFilter) ([]models.Measurement, error) {
	query := `
        SELECT m.id, m.batch_id, m.node_code, m.param_code, m.value, m.timestamp, m.source
        FROM data_measurements m`
	var conds []string
	var args []any

	if f.OperatorID != "" {
		query += ` JOIN data_batches b ON b.id = m.batch_id`
		conds = append(conds, `b.operator_id = ?`)
		args = append(args, f.OperatorID)
	}
	if len(f.BatchIDs) > 0 {
		conds = append(conds, `m.batch_id IN (?)`)
		args = append(args, f.BatchIDs)
	}
	if len(f.NodeCodes) > 0 {
		conds = append(conds, `m.node_code IN (?)`)
		args = append(args, f.NodeCodes)
	}
	if f.ParamCode != "" {
		conds = append(conds, `m.param_code = ?`)
		args = append(args, f.ParamCode)
	}
	if f.Start != nil {
		conds = append(conds, `m.timestamp >= ?`)
		args = append(args, fmtTime(*f.Start))
	}
	if f.End != nil {
		conds = append(conds, `m.timestamp < ?`)
		args = append(args, fmtTime(*f.End))
	}

	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY m.timestamp DESC, m.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	expanded, expArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, storeErr("build measurement query", err)
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(expanded), expArgs...)
	if err != nil {
		return nil, storeErr("list measurements", err)
	}
	defer rows.Close()

	var out []models.Measurement
	for rows.Next() {
		var m models.Measurement
		var ts string
		if err := rows.Scan(&m.ID, &m.BatchID, &m.NodeCode, &m.ParamCode, &m.Value, &ts, &m.Source); err != nil {
			return nil, storeErr("scan measurement", err)
		}
		m.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, storeErr("parse measurement time", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list measurements", err)
	}

	// Fetched newest-first for the LIMIT; callers consume oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ─── Instructions ─────────────────────────────────────────────────────────────

func (s *sqliteStore) InsertInstruction(ctx context.Context, in *models.Instruction) (bool, error) {
	evidence, err := json.Marshal(in.Evidence)
	if err != nil {
		return false, fmt.Errorf("marshal evidence: %w", err)
	}
	if in.Evidence == nil {
		evidence = []byte(`{}`)
	}

	res, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO data_instructions
            (target_date, role, action_code, batch_id, node_code, param_code,
             content, status, priority, evidence, feedback, instruction_type, created_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
    `, in.TargetDate, in.Role, in.ActionCode, in.BatchID, in.NodeCode, in.ParamCode,
		in.Content, in.Status, in.Priority, string(evidence), in.Feedback,
		in.InstructionType, fmtTime(in.CreatedAt))
	if err != nil {
		return false, storeErr("insert instruction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("instruction rows", err)
	}
	if n == 0 {
		return false, nil // dedup index swallowed it
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, storeErr("instruction id", err)
	}
	in.ID = id
	return true, nil
}

const instructionCols = `id, target_date, role, action_code, batch_id, node_code, param_code,
    content, status, priority, evidence, feedback, instruction_type, created_at, read_at, done_at`

func (s *sqliteStore) GetInstruction(ctx context.Context, id int64) (*models.Instruction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instructionCols+` FROM data_instructions WHERE id = ?`, id)
	in, err := scanInstruction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instruction %d: %w", id, errkind.ErrUnknownEntity)
	}
	if err != nil {
		return nil, storeErr("get instruction", err)
	}
	return in, nil
}

func (s *sqliteStore) ListInstructions(ctx context.Context, f InstructionFilter) ([]models.Instruction, error) {
	query := `SELECT ` + instructionCols + ` FROM data_instructions`
	var conds []string
	var args []any
	if f.TargetDate != "" {
		conds = append(conds, `target_date = ?`)
		args = append(args, f.TargetDate)
	}
	if f.Role != "" {
		conds = append(conds, `role = ?`)
		args = append(args, f.Role)
	}
	if f.Status != "" {
		conds = append(conds, `status = ?`)
		args = append(args, f.Status)
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list instructions", err)
	}
	defer rows.Close()

	var out []models.Instruction
	for rows.Next() {
		in, err := scanInstruction(rows)
		if err != nil {
			return nil, storeErr("scan instruction", err)
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func scanInstruction(r rowScanner) (*models.Instruction, error) {
	var in models.Instruction
	var evidence, created string
	var readAt, doneAt sql.NullString
	err := r.Scan(&in.ID, &in.TargetDate, &in.Role, &in.ActionCode, &in.BatchID,
		&in.NodeCode, &in.ParamCode, &in.Content, &in.Status, &in.Priority,
		&evidence, &in.Feedback, &in.InstructionType, &created, &readAt, &doneAt)
	if err != nil {
		return nil, err
	}
	in.CreatedAt, err = parseTime(created)
	if err != nil {
		return nil, err
	}
	in.ReadAt = parseTimePtr(readAt)
	in.DoneAt = parseTimePtr(doneAt)
	if evidence != "" {
		if err := json.Unmarshal([]byte(evidence), &in.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshal evidence: %w", err)
		}
	}
	return &in, nil
}

// The status predicate in the UPDATE keeps the transition atomic: a
// stale caller whose precondition check raced a concurrent transition
// affects zero rows instead of regressing the status.
func (s *sqliteStore) SetInstructionRead(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE data_instructions SET status = ?, read_at = ? WHERE id = ? AND status = ?`,
		models.StatusRead, fmtTime(at), id, models.StatusPending)
	if err != nil {
		return storeErr("mark read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("mark read rows", err)
	}
	if n == 0 {
		return fmt.Errorf("instruction %d is not %s: %w", id, models.StatusPending, errkind.ErrBadTransition)
	}
	return nil
}

func (s *sqliteStore) SetInstructionDone(ctx context.Context, id int64, at time.Time, feedback string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE data_instructions SET status = ?, done_at = ?, feedback = ? WHERE id = ? AND status = ?`,
		models.StatusDone, fmtTime(at), feedback, id, models.StatusRead)
	if err != nil {
		return storeErr("mark done", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("mark done rows", err)
	}
	if n == 0 {
		return fmt.Errorf("instruction %d is not %s: %w", id, models.StatusRead, errkind.ErrBadTransition)
	}
	return nil
}
