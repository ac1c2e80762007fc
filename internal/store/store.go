package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/stau-selection/internal/hist"
	"github.com/danielpatrickdp/stau-selection/internal/selection"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	config_json   TEXT,
	status        TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	finished_at   TEXT
);

CREATE TABLE IF NOT EXISTS cutflows (
	run_id        TEXT NOT NULL,
	dataset       TEXT NOT NULL,
	category      TEXT NOT NULL,
	cat_pos       INTEGER NOT NULL,
	step_pos      INTEGER NOT NULL,
	name          TEXT NOT NULL,
	events_in     INTEGER NOT NULL,
	events_out    INTEGER NOT NULL,
	weight_in     REAL NOT NULL,
	weight_out    REAL NOT NULL,
	PRIMARY KEY (run_id, dataset, category, step_pos),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS histograms (
	run_id        TEXT NOT NULL,
	name          TEXT NOT NULL,
	dataset       TEXT NOT NULL,
	category      TEXT NOT NULL,
	axes_json     TEXT NOT NULL,
	sumw          BLOB NOT NULL,
	sumw2         BLOB NOT NULL,
	entries       INTEGER NOT NULL,
	PRIMARY KEY (run_id, name, dataset, category),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS chunk_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	dataset       TEXT NOT NULL,
	chunk         INTEGER NOT NULL,
	attempt       INTEGER NOT NULL,
	status        TEXT NOT NULL,
	events_in     INTEGER NOT NULL,
	events_out    INTEGER NOT NULL,
	error         TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// #region store-struct
// Store persists runs, merged results and chunk provenance in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// chunk workers log concurrently; one connection serializes the writes
	db.SetMaxOpenConns(1)
	if err := setup(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func setup(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for the chunk provenance writer.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region runs
// CreateRun starts a new run with a fresh id.
func (s *Store) CreateRun(configJSON string) (RunRecord, error) {
	rec := RunRecord{
		RunID:      uuid.New().String(),
		ConfigJSON: configJSON,
		Status:     "running",
		StartedAt:  time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, config_json, status, started_at) VALUES (?, ?, ?, ?)`,
		rec.RunID, nullIfEmpty(configJSON), rec.Status, rec.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}

// FinishRun sets the final status of a run.
func (s *Store) FinishRun(runID, status string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ? WHERE run_id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun reads one run.
func (s *Store) GetRun(runID string) (RunRecord, error) {
	row := s.db.QueryRow(
		`SELECT run_id, config_json, status, started_at, finished_at FROM runs WHERE run_id = ?`, runID,
	)
	rec, err := scanRun(row)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, config_json, status, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(r scanner) (RunRecord, error) {
	var rec RunRecord
	var cfg, finished sql.NullString
	var started string
	if err := r.Scan(&rec.RunID, &cfg, &rec.Status, &started, &finished); err != nil {
		return RunRecord{}, err
	}
	rec.ConfigJSON = cfg.String
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished.Valid {
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
	}
	return rec, nil
}

// #endregion runs

// #region cutflows
// SaveCutflow replaces the stored cutflow of one dataset.
func (s *Store) SaveCutflow(runID, dataset string, cf *selection.Cutflow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cutflows WHERE run_id = ? AND dataset = ?`, runID, dataset); err != nil {
		return fmt.Errorf("clear cutflow: %w", err)
	}
	for ci, cat := range cf.Categories() {
		for si, e := range cf.Entries(cat) {
			_, err := tx.Exec(
				`INSERT INTO cutflows (run_id, dataset, category, cat_pos, step_pos, name, events_in, events_out, weight_in, weight_out)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, dataset, cat, ci, si, e.Name, e.EventsIn, e.EventsOut, e.WeightIn, e.WeightOut,
			)
			if err != nil {
				return fmt.Errorf("insert cutflow %s/%s: %w", dataset, cat, err)
			}
		}
	}
	return tx.Commit()
}

// LoadCutflow rebuilds the stored cutflow of one dataset in its original
// category and step order.
func (s *Store) LoadCutflow(runID, dataset string) (*selection.Cutflow, error) {
	rows, err := s.db.Query(
		`SELECT category, name, events_in, events_out, weight_in, weight_out
		 FROM cutflows WHERE run_id = ? AND dataset = ? ORDER BY cat_pos, step_pos`, runID, dataset,
	)
	if err != nil {
		return nil, fmt.Errorf("load cutflow: %w", err)
	}
	defer rows.Close()

	cf := selection.NewCutflow()
	for rows.Next() {
		var cat string
		var e selection.Entry
		if err := rows.Scan(&cat, &e.Name, &e.EventsIn, &e.EventsOut, &e.WeightIn, &e.WeightOut); err != nil {
			return nil, fmt.Errorf("scan cutflow: %w", err)
		}
		cf.Append(cat, e)
	}
	return cf, rows.Err()
}

// CutflowDatasets lists datasets with a stored cutflow for a run.
func (s *Store) CutflowDatasets(runID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT dataset FROM cutflows WHERE run_id = ? ORDER BY dataset`, runID)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// #endregion cutflows

// #region histograms
// SaveHistograms upserts every bucket of an accumulator.
func (s *Store) SaveHistograms(runID string, acc *hist.Accumulator) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, k := range acc.Keys() {
		h, _ := acc.Get(k)
		axes, err := json.Marshal(h.Axes)
		if err != nil {
			return fmt.Errorf("marshal axes: %w", err)
		}
		_, err = tx.Exec(
			`INSERT INTO histograms (run_id, name, dataset, category, axes_json, sumw, sumw2, entries)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(run_id, name, dataset, category) DO UPDATE SET
			   axes_json = excluded.axes_json, sumw = excluded.sumw,
			   sumw2 = excluded.sumw2, entries = excluded.entries`,
			runID, k.Histogram, k.Dataset, k.Category, string(axes),
			encodeVector(h.SumW), encodeVector(h.SumW2), h.Entries,
		)
		if err != nil {
			return fmt.Errorf("insert histogram %s: %w", k.Histogram, err)
		}
	}
	return tx.Commit()
}

// LoadHistograms returns the stored buckets of a run sorted by key.
func (s *Store) LoadHistograms(runID string) ([]StoredHist, error) {
	rows, err := s.db.Query(
		`SELECT name, dataset, category, axes_json, sumw, sumw2, entries
		 FROM histograms WHERE run_id = ? ORDER BY name, dataset, category`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("load histograms: %w", err)
	}
	defer rows.Close()

	var out []StoredHist
	for rows.Next() {
		var k hist.Key
		var axesJSON string
		var sumw, sumw2 []byte
		var entries int64
		if err := rows.Scan(&k.Histogram, &k.Dataset, &k.Category, &axesJSON, &sumw, &sumw2, &entries); err != nil {
			return nil, fmt.Errorf("scan histogram: %w", err)
		}
		var axes []hist.Axis
		if err := json.Unmarshal([]byte(axesJSON), &axes); err != nil {
			return nil, fmt.Errorf("unmarshal axes of %s: %w", k.Histogram, err)
		}
		h := hist.New(k.Histogram, axes...)
		w, w2 := decodeVector(sumw), decodeVector(sumw2)
		if len(w) != len(h.SumW) || len(w2) != len(h.SumW2) {
			return nil, fmt.Errorf("histogram %s/%s/%s: stored bins do not match axes", k.Histogram, k.Dataset, k.Category)
		}
		h.SumW, h.SumW2, h.Entries = w, w2, entries
		out = append(out, StoredHist{Key: k, Hist: h})
	}
	return out, rows.Err()
}

// #endregion histograms

// #region chunk-log
// ChunkLog reads the chunk provenance of a run in insertion order. With
// failedOnly only failed attempts are returned.
func (s *Store) ChunkLog(runID string, failedOnly bool) ([]ChunkRecord, error) {
	q := `SELECT run_id, dataset, chunk, attempt, status, events_in, events_out, error, created_at
	      FROM chunk_log WHERE run_id = ?`
	if failedOnly {
		q += ` AND status = 'failed'`
	}
	rows, err := s.db.Query(q+` ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("chunk log: %w", err)
	}
	defer rows.Close()

	var out []ChunkRecord
	for rows.Next() {
		var rec ChunkRecord
		var errText sql.NullString
		var created string
		if err := rows.Scan(&rec.RunID, &rec.Dataset, &rec.Chunk, &rec.Attempt, &rec.Status,
			&rec.EventsIn, &rec.EventsOut, &errText, &created); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		rec.Error = errText.String
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion chunk-log

// #region vector-encoding
func encodeVector(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion vector-encoding
