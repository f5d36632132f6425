// Package db persists the ps_data document spec §6 describes: every denom,
// collateral, other coin, in-flight workflow, and scalar config item this
// wallet's mixing core tracks, keyed by a caller-supplied wallet ID so one
// Postgres instance can back several wallets.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/mixcore/pkg/mixtypes"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for ps_data persistence")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file.
func (s *PostgresStore) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("ps_data schema initialized")
	return nil
}

// PSData mirrors the ps_data document spec §6 names, JSON-serializable so
// it round-trips through the single JSONB column schema.sql defines.
// Workflow fields are kept as opaque json.RawMessage: internal/db has no
// need to understand a workflow's shape, only to store and return whatever
// internal/workflow/Manager.Snapshot (its caller) already marshaled.
type PSData struct {
	PSTxs        map[string]string `json:"ps_txs"`
	PSTxsRemoved []string          `json:"ps_txs_removed"`

	PSDenoms           map[string]mixtypes.Denom           `json:"ps_denoms"`
	PSSpentDenoms      map[string]mixtypes.Denom           `json:"ps_spent_denoms"`
	PSCollaterals      map[string]mixtypes.Collateral       `json:"ps_collaterals"`
	PSSpentCollaterals map[string]mixtypes.Collateral       `json:"ps_spent_collaterals"`
	PSOthers           map[string]mixtypes.OtherCoin        `json:"ps_others"`
	PSSpentOthers      map[string]mixtypes.OtherCoin        `json:"ps_spent_others"`

	PSSpendingDenoms      map[string]string                  `json:"ps_spending_denoms"`
	PSSpendingCollaterals map[string]string                  `json:"ps_spending_collaterals"`
	PSReserved            map[string]mixtypes.ReservedAddress `json:"ps_reserved"`

	PayCollateralWfl    json.RawMessage            `json:"pay_collateral_wfl,omitempty"`
	NewCollateralWfl    json.RawMessage            `json:"new_collateral_wfl,omitempty"`
	NewDenomsWfl        json.RawMessage            `json:"new_denoms_wfl,omitempty"`
	DenominateWorkflows map[string]json.RawMessage `json:"denominate_workflows"`

	KeepAmount     int64 `json:"keep_amount"`
	MixRounds      int   `json:"mix_rounds"`
	MaxSessions    int   `json:"max_sessions"`
	KPTimeout      int   `json:"kp_timeout"`
	GroupHistory   bool  `json:"group_history"`
	NotifyPSTxs    bool  `json:"notify_ps_txs"`
	SubscribeSpent bool  `json:"subscribe_spent"`

	LastMixStartTime int64 `json:"last_mix_start_time"`
	LastMixStopTime  int64 `json:"last_mix_stop_time"`
	LastMixedTxTime  int64 `json:"last_mixed_tx_time"`

	PSEnabled bool `json:"ps_enabled"`
}

// SavePSData upserts the full document for walletID in a single statement,
// the crash-atomic unit spec §6 requires ("every mutation must be
// crash-atomic at the wallet-storage layer").
func (s *PostgresStore) SavePSData(ctx context.Context, walletID string, data PSData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal ps_data: %w", err)
	}

	sql := `
		INSERT INTO ps_data (wallet_id, document, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (wallet_id) DO UPDATE
		SET document = EXCLUDED.document, updated_at = NOW();
	`
	_, err = s.pool.Exec(ctx, sql, walletID, payload)
	return err
}

// LoadPSData fetches the persisted document for walletID. Returns
// (zero value, false, nil) when no row exists yet, the brand-new wallet
// case discovery (C9) runs from.
func (s *PostgresStore) LoadPSData(ctx context.Context, walletID string) (PSData, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM ps_data WHERE wallet_id = $1`, walletID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return PSData{}, false, nil
	}
	if err != nil {
		return PSData{}, false, fmt.Errorf("load ps_data: %w", err)
	}

	var data PSData
	if err := json.Unmarshal(raw, &data); err != nil {
		return PSData{}, false, fmt.Errorf("unmarshal ps_data: %w", err)
	}
	return data, true, nil
}

// WarnFlags are the two one-shot warning dialogs axe_ps.py shows until the
// user acknowledges them (spec §6 supplemented feature: warn-electrumx
// trust, warn-hw-keystore mixing caveat).
type WarnFlags struct {
	ElectrumX  bool
	HWKeystore bool
}

// EnsureWallet creates the ps_data row for walletID if absent, seeding
// both warn flags true and an empty document, so Ack/Save always have a
// row to update.
func (s *PostgresStore) EnsureWallet(ctx context.Context, walletID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ps_data (wallet_id, document)
		VALUES ($1, '{}'::jsonb)
		ON CONFLICT (wallet_id) DO NOTHING;
	`, walletID)
	return err
}

// WarnFlagsFor reports walletID's two warning flags, defaulting both true
// for a wallet that hasn't been seen yet.
func (s *PostgresStore) WarnFlagsFor(ctx context.Context, walletID string) (WarnFlags, error) {
	var f WarnFlags
	err := s.pool.QueryRow(ctx, `SELECT show_warn_electrumx, show_warn_ps_ks FROM ps_data WHERE wallet_id = $1`, walletID).
		Scan(&f.ElectrumX, &f.HWKeystore)
	if errors.Is(err, pgx.ErrNoRows) {
		return WarnFlags{ElectrumX: true, HWKeystore: true}, nil
	}
	return f, err
}

// AckElectrumXWarning permanently clears the electrumx trust warning for
// walletID.
func (s *PostgresStore) AckElectrumXWarning(ctx context.Context, walletID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE ps_data SET show_warn_electrumx = FALSE, updated_at = NOW() WHERE wallet_id = $1`, walletID)
	return err
}

// AckHWKeystoreWarning permanently clears the hardware-keystore mixing
// caveat warning for walletID.
func (s *PostgresStore) AckHWKeystoreWarning(ctx context.Context, walletID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE ps_data SET show_warn_ps_ks = FALSE, updated_at = NOW() WHERE wallet_id = $1`, walletID)
	return err
}

// GetPool exposes the connection pool for callers that need it directly
// (migrations, health checks).
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
