package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkicash/pkicashd/internal/coin"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS coins (
	coin_id    TEXT PRIMARY KEY,
	pk_current TEXT NOT NULL,
	coin_data  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS trusted_issuers (
	pk_issuer TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS pending_deliveries (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient_dest TEXT NOT NULL,
	coin_json      TEXT NOT NULL,
	confirmation   TEXT NOT NULL,
	delivered      INTEGER NOT NULL DEFAULT 0
);
`

// store is the embedded relational ledger backing a Engine. It serialises
// every call behind a single mutex, so no two store operations interleave
// — modernc.org/sqlite gives us file-level serialisation for writers
// already, but the mutex makes this a Go-level guarantee instead of an
// incidental property of the driver's locking. "Read pk_current, verify,
// update pk_current" spans several store calls; Engine.txMu makes that
// sequence atomic.
type store struct {
	mu sync.Mutex
	db *sql.DB
}

// openStore opens (or creates) the sqlite-backed ledger at dsn. Pass
// ":memory:" for an ephemeral engine, as tests and the S1-S7 scenarios do.
func openStore(dsn string) (*store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}
	// One physical writer; contention is serialised by the in-process
	// mutex above, this just stops the driver from handing out a second
	// connection that would otherwise see SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("engine: init schema: %w", err)
	}
	return &store{db: db}, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

func (s *store) registerIssuer(ctx context.Context, pkIssuerHex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO trusted_issuers (pk_issuer) VALUES (?)`, pkIssuerHex)
	return err
}

func (s *store) isTrustedIssuer(ctx context.Context, pkIssuerHex string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dummy int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM trusted_issuers WHERE pk_issuer = ?`, pkIssuerHex).Scan(&dummy)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *store) listIssuers(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT pk_issuer FROM trusted_issuers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		out = append(out, pk)
	}
	return out, rows.Err()
}

// coinExists reports whether coin_id is already present, used to reject a
// duplicate register_coin with KindDuplicateCoin instead of relying on the
// driver's primary-key violation to surface as an opaque error.
func (s *store) coinExists(ctx context.Context, coinID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dummy int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM coins WHERE coin_id = ?`, coinID).Scan(&dummy)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *store) insertCoin(ctx context.Context, c coin.Coin, confirmation coin.Confirmation, recipientDest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coinData, err := json.Marshal(c)
	if err != nil {
		return err
	}
	confirmationData, err := json.Marshal(confirmation)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO coins (coin_id, pk_current, coin_data) VALUES (?, ?, ?)`,
		c.CoinID, c.CurrentPK, coinData); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pending_deliveries (recipient_dest, coin_json, confirmation) VALUES (?, ?, ?)`,
		recipientDest, coinData, confirmationData); err != nil {
		return err
	}

	return tx.Commit()
}

// coinRow is the persisted row shape: current owner plus the full coin
// record as it stood the moment it was last written.
type coinRow struct {
	CoinID    string
	PKCurrent string
	Coin      coin.Coin
}

func (s *store) getCoin(ctx context.Context, coinID string) (*coinRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pkCurrent, coinData string
	err := s.db.QueryRowContext(ctx,
		`SELECT pk_current, coin_data FROM coins WHERE coin_id = ?`, coinID).
		Scan(&pkCurrent, &coinData)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var c coin.Coin
	if err := json.Unmarshal([]byte(coinData), &c); err != nil {
		return nil, err
	}
	return &coinRow{CoinID: coinID, PKCurrent: pkCurrent, Coin: c}, nil
}

func (s *store) listCoins(ctx context.Context) ([]coinRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT coin_id, pk_current, coin_data FROM coins`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []coinRow
	for rows.Next() {
		var coinID, pkCurrent, coinData string
		if err := rows.Scan(&coinID, &pkCurrent, &coinData); err != nil {
			return nil, err
		}
		var c coin.Coin
		_ = json.Unmarshal([]byte(coinData), &c)
		out = append(out, coinRow{CoinID: coinID, PKCurrent: pkCurrent, Coin: c})
	}
	return out, rows.Err()
}

// updateOwnerAndEnqueue performs the atomic core of a transfer: it moves
// pk_current to nextPK and enqueues the resulting confirmation for
// delivery, in a single transaction. Callers must already have verified
// the transfer signature against the pk_current they read before calling
// this — see Engine.ProcessTransaction for the full sequencing.
func (s *store) updateOwnerAndEnqueue(ctx context.Context, coinID, nextPK string, confirmation coin.Confirmation, recipientDest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var coinData string
	if err := tx.QueryRowContext(ctx,
		`SELECT coin_data FROM coins WHERE coin_id = ?`, coinID).Scan(&coinData); err != nil {
		return err
	}

	var c coin.Coin
	if err := json.Unmarshal([]byte(coinData), &c); err != nil {
		return err
	}
	c.CurrentPK = nextPK

	updated, err := json.Marshal(c)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE coins SET pk_current = ?, coin_data = ? WHERE coin_id = ?`,
		nextPK, updated, coinID); err != nil {
		return err
	}

	confirmationData, err := json.Marshal(confirmation)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pending_deliveries (recipient_dest, coin_json, confirmation) VALUES (?, ?, ?)`,
		recipientDest, updated, confirmationData); err != nil {
		return err
	}

	return tx.Commit()
}

// pendingRow is one undelivered (or just-delivered) row of the delivery
// queue.
type pendingRow struct {
	ID       int64
	Delivery coin.Delivery
}

// takePendingDeliveries returns every undelivered row for recipientDest and
// marks them delivered in the same transaction, so two concurrent callers
// can never both receive the same row.
func (s *store) takePendingDeliveries(ctx context.Context, recipientDest string) ([]pendingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, coin_json, confirmation FROM pending_deliveries WHERE recipient_dest = ? AND delivered = 0`,
		recipientDest)
	if err != nil {
		return nil, err
	}

	var out []pendingRow
	var ids []int64
	for rows.Next() {
		var id int64
		var coinJSON, confirmationJSON string
		if err := rows.Scan(&id, &coinJSON, &confirmationJSON); err != nil {
			rows.Close()
			return nil, err
		}

		var c coin.Coin
		var conf coin.Confirmation
		if err := json.Unmarshal([]byte(coinJSON), &c); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(confirmationJSON), &conf); err != nil {
			rows.Close()
			return nil, err
		}

		out = append(out, pendingRow{ID: id, Delivery: coin.Delivery{Coin: c, Confirmation: conf}})
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE pending_deliveries SET delivered = 1 WHERE id = ?`, id); err != nil {
			return nil, err
		}
	}

	return out, tx.Commit()
}
