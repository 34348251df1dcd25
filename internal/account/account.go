// Package account implements the SQLite-backed subscriber account table:
// account-id minting and insert/update/get access, with the Stripe
// customer id sealed via internal/pgpstub before it is written to disk.
package account

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/perr"
	"github.com/gnupg/payproc/internal/pgpstub"
	"github.com/gnupg/payproc/internal/sqlutil"
)

// idCodes is the 31-character alphabet used for the 14 characters that
// follow the "A" prefix of an account id.
const idCodes = "0123456789abcdefghkmnpqrstuwxyz"

const maxIDRetries = 1000

// Store wraps the account SQLite table.
type Store struct {
	db *sql.DB

	insertStmt       *sqlutil.Guard
	updateStmt       *sqlutil.Guard
	updatePayPalStmt *sqlutil.Guard
	selectStmt       *sqlutil.Guard

	enc              pgpstub.Encryptor
	dbKeyFPR         string
	backofficeKeyFPR string
}

// Config configures the encryption keys an account store encrypts to.
type Config struct {
	DSN              string
	Encryptor        pgpstub.Encryptor
	DBKeyFPR         string
	BackofficeKeyFPR string
}

// Open opens (creating if needed) the account database.
func Open(cfg Config) (*Store, error) {
	db, err := sqlutil.OpenSQLite(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("account: open: %w", err)
	}

	const createTable = `CREATE TABLE IF NOT EXISTS account (
		account_id   TEXT NOT NULL PRIMARY KEY,
		email        TEXT,
		verified     INTEGER NOT NULL,
		created      TEXT NOT NULL,
		updated      TEXT NOT NULL,
		stripe_cus   TEXT,
		paypal_payer TEXT,
		meta         TEXT
	)`
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("account: create table: %w", err)
	}

	enc := cfg.Encryptor
	if enc == nil {
		enc = pgpstub.Unconfigured()
	}

	s := &Store{db: db, enc: enc, dbKeyFPR: cfg.DBKeyFPR, backofficeKeyFPR: cfg.BackofficeKeyFPR}

	stmts := []struct {
		dst   **sqlutil.Guard
		query string
	}{
		{&s.insertStmt, `INSERT INTO account (account_id, verified, created, updated) VALUES (?,0,?,?)`},
		{&s.updateStmt, `UPDATE account SET updated = ?, stripe_cus = ?, email = ? WHERE account_id = ?`},
		{&s.updatePayPalStmt, `UPDATE account SET updated = ?, paypal_payer = ?, email = ? WHERE account_id = ?`},
		{&s.selectStmt, `SELECT account_id, email, verified, created, updated, stripe_cus, paypal_payer, meta FROM account WHERE account_id = ?`},
	}
	for _, st := range stmts {
		prepared, err := db.Prepare(st.query)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("account: prepare: %w", err)
		}
		*st.dst = sqlutil.NewGuard(prepared)
	}

	return s, nil
}

// Close releases the database handle and all prepared statements.
func (s *Store) Close() error {
	for _, g := range []*sqlutil.Guard{s.insertStmt, s.updateStmt, s.updatePayPalStmt, s.selectStmt} {
		g.Close()
	}
	return s.db.Close()
}

func makeAccountID() (string, error) {
	nonce := make([]byte, 14)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteByte('A')
	for _, n := range nonce {
		b.WriteByte(idCodes[int(n)%31])
	}
	return b.String(), nil
}

func dbNow() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}

// New creates a new account row and returns its minted account id.
func (s *Store) New() (string, error) {
	now := dbNow()
	for attempt := 0; attempt < maxIDRetries; attempt++ {
		id, err := makeAccountID()
		if err != nil {
			return "", err
		}
		err = s.insertStmt.Do(func(stmt *sql.Stmt) error {
			_, execErr := stmt.Exec(id, now, now)
			return execErr
		})
		if err == nil {
			return id, nil
		}
		if !strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", fmt.Errorf("account: insert: %w", err)
		}
	}
	return "", fmt.Errorf("account: could not allocate a unique account id after %d attempts", maxIDRetries)
}

// Update seals dict's "_stripe_cus" field and writes it, along with Email,
// into the row identified by dict's "account-id".
func (s *Store) Update(dict *keyvalue.Dict) error {
	accountID := dict.GetDefault("account-id", "")
	if accountID == "" {
		return perr.MissingValue.Withf("value for 'account-id' missing")
	}
	stripeCus := dict.GetDefault("_stripe_cus", "")
	if stripeCus == "" {
		return perr.MissingValue.Withf("value for '_stripe_cus' missing")
	}
	email := dict.GetDefault("Email", "")

	encrypted, err := s.enc.EncryptToKeys(stripeCus, pgpstub.TargetDatabase|pgpstub.TargetBackoffice, s.dbKeyFPR, s.backofficeKeyFPR)
	if err != nil {
		return fmt.Errorf("account: encrypting stripe customer id: %w", err)
	}

	now := dbNow()
	var changed int64
	err = s.updateStmt.Do(func(stmt *sql.Stmt) error {
		res, execErr := stmt.Exec(now, encrypted, nullable(email), accountID)
		if execErr != nil {
			return execErr
		}
		changed, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return fmt.Errorf("account: update: %w", err)
	}
	if changed == 0 {
		return perr.NotFound
	}
	return nil
}

// UpdatePayPal records the PayPal payer id (and donor email) confirmed by a
// successful checkout execution against the row identified by accountID.
// The original account table carries a stripe_cus column but nothing for
// PayPal, so its checkout-execute path had no column to write a payer id
// into; this method and the paypal_payer column fill that gap.
func (s *Store) UpdatePayPal(accountID, payerID, email string) error {
	if accountID == "" {
		return perr.MissingValue.Withf("value for 'account-id' missing")
	}
	if payerID == "" {
		return perr.MissingValue.Withf("value for payer id missing")
	}

	now := dbNow()
	var changed int64
	err := s.updatePayPalStmt.Do(func(stmt *sql.Stmt) error {
		res, execErr := stmt.Exec(now, payerID, nullable(email), accountID)
		if execErr != nil {
			return execErr
		}
		changed, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return fmt.Errorf("account: update paypal: %w", err)
	}
	if changed == 0 {
		return perr.NotFound
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Get returns the raw row for accountID. The stripe_cus column is
// returned encrypted; decrypting it is outside payprocd's scope (it
// requires the backoffice key, not the daemon's own).
func (s *Store) Get(accountID string) (*keyvalue.Dict, error) {
	var result *keyvalue.Dict
	err := s.selectStmt.Do(func(stmt *sql.Stmt) error {
		row := stmt.QueryRow(accountID)

		var id string
		var email, stripeCus, paypalPayer, meta sql.NullString
		var verified int
		var created, updated string

		scanErr := row.Scan(&id, &email, &verified, &created, &updated, &stripeCus, &paypalPayer, &meta)
		if scanErr == sql.ErrNoRows {
			return perr.NotFound
		}
		if scanErr != nil {
			return scanErr
		}

		d := keyvalue.New()
		d.Set("account-id", id)
		if email.Valid {
			d.Set("Email", email.String)
		}
		d.Set("Verified", boolToStr(verified != 0))
		d.Set("Created", created)
		d.Set("Updated", updated)
		if stripeCus.Valid {
			d.Set("_stripe_cus_enc", stripeCus.String)
		}
		if paypalPayer.Valid {
			d.Set("_paypal_payer_id", paypalPayer.String)
		}
		if meta.Valid {
			keyvalue.PutMeta(d, meta.String)
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func boolToStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
