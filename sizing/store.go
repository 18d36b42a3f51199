package sizing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/rs/zerolog"
)

// Store persists run results to PostgreSQL.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenStore connects to PostgreSQL and makes sure the result tables exist.
func OpenStore(connString string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db, log: log}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sizing_runs (
			run_id      TEXT PRIMARY KEY,
			created_at  TIMESTAMPTZ NOT NULL,
			status      TEXT NOT NULL,
			obj_value   DOUBLE PRECISION,
			elapsed_ms  BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS sizing_installations (
			run_id            TEXT NOT NULL REFERENCES sizing_runs(run_id) ON DELETE CASCADE,
			meter_id          TEXT NOT NULL,
			p_cont            DOUBLE PRECISION,
			p_gn_new          DOUBLE PRECISION,
			p_gn_total        DOUBLE PRECISION,
			e_bn_new          DOUBLE PRECISION,
			e_bn_total        DOUBLE PRECISION,
			individual_cost   DOUBLE PRECISION,
			compensation      DOUBLE PRECISION,
			compensated_cost  DOUBLE PRECISION,
			PRIMARY KEY (run_id, meter_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sizing_dispatch (
			run_id      TEXT NOT NULL REFERENCES sizing_runs(run_id) ON DELETE CASCADE,
			meter_id    TEXT NOT NULL,
			step        INT NOT NULL,
			e_cmet      DOUBLE PRECISION,
			e_g         DOUBLE PRECISION,
			e_bc        DOUBLE PRECISION,
			e_bd        DOUBLE PRECISION,
			e_bat       DOUBLE PRECISION,
			e_sup       DOUBLE PRECISION,
			e_sur       DOUBLE PRECISION,
			e_pur_pool  DOUBLE PRECISION,
			e_sale_pool DOUBLE PRECISION,
			e_slc_pool  DOUBLE PRECISION,
			dual_price  DOUBLE PRECISION,
			PRIMARY KEY (run_id, meter_id, step)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SaveRun persists one run. An existing run with the same id is replaced.
func (s *Store) SaveRun(ctx context.Context, runID string, results *Results) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sizing_runs WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("failed to delete existing run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sizing_runs (run_id, created_at, status, obj_value, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5)`,
		runID, time.Now(), results.Status, results.ObjValue, results.Elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if results.Status != "Optimal" {
		return tx.Commit()
	}

	instStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sizing_installations (
			run_id, meter_id, p_cont, p_gn_new, p_gn_total, e_bn_new, e_bn_total,
			individual_cost, compensation, compensated_cost
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
	if err != nil {
		return fmt.Errorf("failed to prepare installation statement: %w", err)
	}
	defer instStmt.Close()

	dispatchStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sizing_dispatch (
			run_id, meter_id, step, e_cmet, e_g, e_bc, e_bd, e_bat,
			e_sup, e_sur, e_pur_pool, e_sale_pool, e_slc_pool, dual_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`)
	if err != nil {
		return fmt.Errorf("failed to prepare dispatch statement: %w", err)
	}
	defer dispatchStmt.Close()

	for n := range results.PCont {
		var compensation, compensated sql.NullFloat64
		if results.InternalMarket != nil {
			compensation = sql.NullFloat64{Float64: results.InternalMarket.Compensation[n], Valid: true}
			compensated = sql.NullFloat64{Float64: results.InternalMarket.CompensatedCost[n], Valid: true}
		}
		_, err := instStmt.ExecContext(ctx,
			runID, n,
			results.PCont[n], results.PGnNew[n], results.PGnTotal[n],
			results.EBnNew[n], results.EBnTotal[n],
			results.CInd[n], compensation, compensated)
		if err != nil {
			return fmt.Errorf("failed to insert installation %s: %w", n, err)
		}
		for t := range results.ECmet[n] {
			_, err := dispatchStmt.ExecContext(ctx,
				runID, n, t,
				results.ECmet[n][t], results.EG[n][t], results.EBc[n][t],
				results.EBd[n][t], results.EBat[n][t], results.ESup[n][t],
				results.ESur[n][t], results.EPur[n][t], results.ESale[n][t],
				results.ESlc[n][t], results.DualPrices[t])
			if err != nil {
				return fmt.Errorf("failed to insert dispatch for %s step %d: %w", n, t, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info().Str("run_id", runID).Msg("persisted run results")
	return nil
}
