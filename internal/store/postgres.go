package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spikebot/spike/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id     TEXT PRIMARY KEY,
	name   TEXT NOT NULL,
	wallet BIGINT NOT NULL CHECK (wallet >= 0)
);
CREATE TABLE IF NOT EXISTS documents (
	name TEXT PRIMARY KEY,
	body JSONB NOT NULL
);`

// wagersDocument is the documents row holding every open wager.
const wagersDocument = "wagers"

// Migrate creates the tables used by the PostgreSQL stores.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// PostgresLedger implements Ledger using PostgreSQL as the source of truth.
// Each adjustment locks the account row for the duration of its transaction.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgreSQL-backed ledger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (s *PostgresLedger) Balance(ctx context.Context, accountID string) (int64, error) {
	var wallet int64
	err := s.pool.QueryRow(ctx, `SELECT wallet FROM accounts WHERE id = $1`, accountID).Scan(&wallet)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", accountID, err)
	}
	return wallet, nil
}

func (s *PostgresLedger) Adjust(ctx context.Context, accountID string, delta int64, name string, enforce bool) (int64, error) {
	return s.update(ctx, accountID, name, fixed(delta), enforce)
}

func (s *PostgresLedger) AdjustFunc(ctx context.Context, accountID, name string, fn DeltaFunc) (int64, error) {
	return s.update(ctx, accountID, name, fn, true)
}

func (s *PostgresLedger) update(ctx context.Context, accountID, name string, fn DeltaFunc, enforce bool) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin adjust %s: %w", accountID, err)
	}
	defer tx.Rollback(ctx)

	acct := model.Account{ID: accountID, Name: name}
	exists := true
	err = tx.QueryRow(ctx,
		`SELECT name, wallet FROM accounts WHERE id = $1 FOR UPDATE`, accountID).
		Scan(&acct.Name, &acct.Wallet)
	if errors.Is(err, pgx.ErrNoRows) {
		exists = false
	} else if err != nil {
		return 0, fmt.Errorf("lock account %s: %w", accountID, err)
	}

	delta, err := fn(acct.Wallet)
	if err != nil {
		return acct.Wallet, err
	}
	if err := applyAdjust(&acct, exists, delta, enforce); err != nil {
		return acct.Wallet, fmt.Errorf("account %s: %w", accountID, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (id, name, wallet) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET wallet = EXCLUDED.wallet`,
		accountID, acct.Name, acct.Wallet)
	if err != nil {
		return 0, fmt.Errorf("write account %s: %w", accountID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit adjust %s: %w", accountID, err)
	}
	return acct.Wallet, nil
}

func (s *PostgresLedger) Accounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, wallet FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Wallet); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// PostgresWagers keeps the wager document in one JSONB row. Mutations lock
// the row, decode the whole document, change it, and write it back.
type PostgresWagers struct {
	pool *pgxpool.Pool
}

// NewPostgresWagers creates a new PostgreSQL-backed wager store.
func NewPostgresWagers(pool *pgxpool.Pool) *PostgresWagers {
	return &PostgresWagers{pool: pool}
}

func (s *PostgresWagers) All(ctx context.Context) (map[string]*model.Wager, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM documents WHERE name = $1`, wagersDocument).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]*model.Wager{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read wagers: %w", err)
	}
	return decodeWagers(body)
}

func (s *PostgresWagers) Get(ctx context.Context, id string) (*model.Wager, error) {
	doc, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	w, ok := doc[id]
	if !ok {
		return nil, fmt.Errorf("wager %s: %w", id, ErrNotFound)
	}
	return w, nil
}

func (s *PostgresWagers) Put(ctx context.Context, w *model.Wager) error {
	return s.mutate(ctx, func(doc map[string]*model.Wager) error {
		doc[w.ID] = w.Clone()
		return nil
	})
}

func (s *PostgresWagers) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, func(doc map[string]*model.Wager) error {
		if _, ok := doc[id]; !ok {
			return fmt.Errorf("wager %s: %w", id, ErrNotFound)
		}
		delete(doc, id)
		return nil
	})
}

func (s *PostgresWagers) mutate(ctx context.Context, fn func(map[string]*model.Wager) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin wagers: %w", err)
	}
	defer tx.Rollback(ctx)

	var body []byte
	err = tx.QueryRow(ctx,
		`SELECT body FROM documents WHERE name = $1 FOR UPDATE`, wagersDocument).Scan(&body)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lock wagers: %w", err)
	}
	doc, err := decodeWagers(body)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode wagers: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO documents (name, body) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body`,
		wagersDocument, out)
	if err != nil {
		return fmt.Errorf("write wagers: %w", err)
	}
	return tx.Commit(ctx)
}

func decodeWagers(body []byte) (map[string]*model.Wager, error) {
	doc := map[string]*model.Wager{}
	if len(body) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode wagers: %w", err)
	}
	for id, w := range doc {
		if w == nil {
			delete(doc, id)
			continue
		}
		w.ID = id
		if w.Status == "" {
			w.Status = model.StatusOpen
		}
		if w.Options == nil {
			w.Options = map[string]*model.Option{}
		}
	}
	return doc, nil
}
