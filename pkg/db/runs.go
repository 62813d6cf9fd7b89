package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dtnitsch/treasury-harvester/internal/common"
	"github.com/dtnitsch/treasury-harvester/models"
)

// Run represents one recorded invocation.
type Run struct {
	RunID        int64
	RunKey       string
	Command      string
	StartURL     string
	Variant      string
	CreatedAt    time.Time
	FinishedAt   sql.NullTime
	UnitCount    int
	SuccessCount int
	PartialCount int
	FailedCount  int
	SkippedCount int
	ExitCode     sql.NullInt64
	RunDir       string
}

// UnitResultRow is a stored unit result.
type UnitResultRow struct {
	ResultID     int64
	Stage        string
	Name         string
	Status       string
	ErrorType    string
	ErrorMessage string
	Rows         int
	Pages        int
	DurationMS   int64
}

// ArtifactInfo describes a written file.
type ArtifactInfo struct {
	ArtifactID  int64
	ResultID    int64
	TypeName    string
	ContentHash string
	FilePath    string
	SizeBytes   int64
	Rows        int
}

// CreateRun inserts a run record and returns its ID.
func (db *DB) CreateRun(runKey, command, startURL, variant, runDir string) (int64, error) {
	result, err := db.Exec(`
		INSERT INTO runs (run_key, command, start_url, variant, run_dir)
		VALUES (?, ?, ?, ?, ?)
	`, runKey, command, NewNullString(startURL), NewNullString(variant), runDir)
	if err != nil {
		return 0, fmt.Errorf("failed to create run: %w", err)
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run ID: %w", err)
	}
	return runID, nil
}

// FinishRun stores the final counts and exit code of a run.
func (db *DB) FinishRun(runID int64, s *models.Summary, exitCode int) error {
	var success, partial, failed, skipped int
	for _, st := range s.Stages {
		success += st.Success
		partial += st.Partial
		failed += st.Failed
		skipped += st.Skipped
	}
	_, err := db.Exec(`
		UPDATE runs
		SET finished_at = ?, unit_count = ?, success_count = ?, partial_count = ?,
		    failed_count = ?, skipped_count = ?, exit_code = ?
		WHERE run_id = ?
	`, time.Now().UTC(), len(s.Results), success, partial, failed, skipped, exitCode, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// RecordResult stores a unit result and an artifact row for every output
// file that still exists.
func (db *DB) RecordResult(runID int64, r models.UnitResult) (int64, error) {
	result, err := db.Exec(`
		INSERT INTO unit_results (run_id, stage, name, status, error_type, error_message, rows, pages, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, string(r.Stage), r.Name, string(r.Status), NewNullString(r.ErrorType), NewNullString(r.ErrorMessage()),
		r.Rows, r.Pages, r.Duration.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("failed to insert unit result: %w", err)
	}
	resultID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get result ID: %w", err)
	}

	if len(r.Outputs) == 0 {
		return resultID, nil
	}
	typeID, err := db.GetArtifactTypeID(ArtifactTypeFor(r.Stage))
	if err != nil {
		return resultID, err
	}
	for _, path := range r.Outputs {
		hash, size, err := common.FileHash(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return resultID, err
		}
		rows := r.Rows
		if len(r.Outputs) > 1 {
			rows = 0 // per-partition counts are not tracked
		}
		if _, err := db.InsertArtifact(resultID, typeID, hash, path, size, rows); err != nil {
			return resultID, err
		}
	}
	return resultID, nil
}

// RecordSummary stores every result of a summary in order.
func (db *DB) RecordSummary(runID int64, s *models.Summary) error {
	for _, r := range s.Results {
		if _, err := db.RecordResult(runID, r); err != nil {
			return err
		}
	}
	return nil
}

// ArtifactTypeFor maps a stage to the artifact type of its outputs.
func ArtifactTypeFor(stage models.Stage) string {
	switch stage {
	case models.StageHarvest:
		return "raw_csv"
	case models.StageClean:
		return "cleaned_csv"
	case models.StageEncode:
		return "jsonl"
	default:
		return "parquet"
	}
}

// InsertArtifact inserts or updates the artifact for a file path, returning
// the artifact_id.
func (db *DB) InsertArtifact(resultID, typeID int64, contentHash, filePath string, sizeBytes int64, rows int) (int64, error) {
	var existingID int64
	err := db.QueryRow("SELECT artifact_id FROM artifacts WHERE file_path = ?", filePath).Scan(&existingID)
	if err == nil {
		_, err = db.Exec(`
			UPDATE artifacts
			SET result_id = ?, type_id = ?, content_hash = ?, size_bytes = ?, rows = ?
			WHERE artifact_id = ?
		`, resultID, typeID, contentHash, sizeBytes, rows, existingID)
		if err != nil {
			return 0, fmt.Errorf("failed to update artifact: %w", err)
		}
		return existingID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to check existing artifact: %w", err)
	}

	result, err := db.Exec(`
		INSERT INTO artifacts (result_id, type_id, content_hash, file_path, size_bytes, rows)
		VALUES (?, ?, ?, ?, ?, ?)
	`, resultID, typeID, contentHash, filePath, sizeBytes, rows)
	if err != nil {
		return 0, fmt.Errorf("failed to insert artifact: %w", err)
	}
	artifactID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get artifact ID: %w", err)
	}
	return artifactID, nil
}

// GetArtifactTypeID returns the type_id for a type name.
func (db *DB) GetArtifactTypeID(typeName string) (int64, error) {
	var typeID int64
	err := db.QueryRow("SELECT type_id FROM artifact_types WHERE type_name = ?", typeName).Scan(&typeID)
	if err != nil {
		return 0, fmt.Errorf("failed to get artifact type %s: %w", typeName, err)
	}
	return typeID, nil
}

const runColumns = `run_id, run_key, command, COALESCE(start_url, ''), COALESCE(variant, ''),
	created_at, finished_at, unit_count, success_count, partial_count, failed_count,
	skipped_count, exit_code, run_dir`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	err := row.Scan(&r.RunID, &r.RunKey, &r.Command, &r.StartURL, &r.Variant,
		&r.CreatedAt, &r.FinishedAt, &r.UnitCount, &r.SuccessCount, &r.PartialCount,
		&r.FailedCount, &r.SkippedCount, &r.ExitCode, &r.RunDir)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRunByID retrieves a run by its ID
func (db *DB) GetRunByID(runID int64) (*Run, error) {
	r, err := scanRun(db.QueryRow("SELECT "+runColumns+" FROM runs WHERE run_id = ?", runID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %d not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// ListRuns retrieves runs, most recent first. failedOnly keeps runs with at
// least one failed or partial unit.
func (db *DB) ListRuns(limit int, failedOnly bool) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	if failedOnly {
		query += " WHERE failed_count > 0 OR partial_count > 0"
	}
	query += " ORDER BY created_at DESC, run_id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRunResults retrieves all unit results of a run in recorded order.
func (db *DB) GetRunResults(runID int64) ([]UnitResultRow, error) {
	rows, err := db.Query(`
		SELECT result_id, stage, name, status, error_type, error_message, rows, pages, duration_ms
		FROM unit_results
		WHERE run_id = ?
		ORDER BY result_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run results: %w", err)
	}
	defer rows.Close()

	var results []UnitResultRow
	for rows.Next() {
		var r UnitResultRow
		var errorType, errorMessage sql.NullString
		if err := rows.Scan(&r.ResultID, &r.Stage, &r.Name, &r.Status, &errorType, &errorMessage,
			&r.Rows, &r.Pages, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.ErrorType = errorType.String
		r.ErrorMessage = errorMessage.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListArtifacts returns the artifacts written by a run.
func (db *DB) ListArtifacts(runID int64) ([]ArtifactInfo, error) {
	rows, err := db.Query(`
		SELECT a.artifact_id, a.result_id, t.type_name, a.content_hash, a.file_path,
		       COALESCE(a.size_bytes, 0), COALESCE(a.rows, 0)
		FROM artifacts a
		JOIN artifact_types t ON a.type_id = t.type_id
		JOIN unit_results u ON a.result_id = u.result_id
		WHERE u.run_id = ?
		ORDER BY a.artifact_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []ArtifactInfo
	for rows.Next() {
		var a ArtifactInfo
		if err := rows.Scan(&a.ArtifactID, &a.ResultID, &a.TypeName, &a.ContentHash, &a.FilePath, &a.SizeBytes, &a.Rows); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// NewNullString converts a string to sql.NullString, empty meaning NULL.
func NewNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
