package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Mindburn-Labs/tiller/pkg/contracts"
)

// StakeLedger is the sqlite-backed fungible balance ledger used when no
// external ledger is wired. Deposit moves balance from the holder's free
// balance into the electorate's custody; Withdraw moves it back. It
// implements election.StakeLedger.
type StakeLedger struct {
	db *sql.DB
}

// Stake returns the stake ledger view over the store's database.
func (s *Store) Stake() *StakeLedger { return &StakeLedger{db: s.db} }

// Credit adds amount to an address's free balance (token issuance).
func (l *StakeLedger) Credit(ctx context.Context, holder contracts.Address, amount uint64) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO balances (address, balance) VALUES (?, ?)
		 ON CONFLICT(address) DO UPDATE SET balance = balance + excluded.balance`,
		string(holder), int64(amount),
	)
	return err
}

// Balance returns an address's free balance.
func (l *StakeLedger) Balance(ctx context.Context, holder contracts.Address) (uint64, error) {
	var balance int64
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM balances WHERE address = ?`, string(holder)).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(balance), nil
}

// Deposit pulls amount from the voter's free balance. It fails when the
// balance does not cover the amount, leaving balances untouched.
func (l *StakeLedger) Deposit(ctx context.Context, voter contracts.Address, amount uint64) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE balances SET balance = balance - ? WHERE address = ? AND balance >= ?`,
		int64(amount), string(voter), int64(amount),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("balance of %s does not cover %d", voter, amount)
	}
	return nil
}

// Withdraw returns amount to the voter's free balance.
func (l *StakeLedger) Withdraw(ctx context.Context, voter contracts.Address, amount uint64) error {
	return l.Credit(ctx, voter, amount)
}
