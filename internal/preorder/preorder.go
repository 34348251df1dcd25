// Package preorder implements the SQLite-backed SEPA preorder table: minting
// of Sepa-Ref identifiers, and insert/update/get/list access to the ledger
// of preauthorized bank transfers.
package preorder

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/perr"
	"github.com/gnupg/payproc/internal/sqlutil"
)

// refCodes is the 28-character alphabet used for the letter positions of a
// Sepa-Ref. Characters that an OCR pass could confuse are left out.
const refCodes = "ABCDEGHJKLNRSTWXYZ0123456789"

// maxRefRetries bounds how many times Insert retries on a primary-key
// collision before giving up.
const maxRefRetries = 11000

// Store wraps the preorder SQLite table.
type Store struct {
	db *sql.DB

	insertStmt     *sqlutil.Guard
	updateStmt     *sqlutil.Guard
	selectStmt     *sqlutil.Guard
	selectNNStmt   *sqlutil.Guard
	selectListStmt *sqlutil.Guard
}

// Open opens (creating if needed) the preorder database at dsn.
func Open(dsn string) (*Store, error) {
	db, err := sqlutil.OpenSQLite(dsn)
	if err != nil {
		return nil, fmt.Errorf("preorder: open: %w", err)
	}

	const createTable = `CREATE TABLE IF NOT EXISTS preorder (
		ref      TEXT NOT NULL PRIMARY KEY,
		refnn    INTEGER NOT NULL,
		created  TEXT NOT NULL,
		paid     TEXT,
		npaid    INTEGER NOT NULL,
		amount   TEXT NOT NULL,
		currency TEXT NOT NULL,
		desc     TEXT,
		email    TEXT,
		meta     TEXT
	)`
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("preorder: create table: %w", err)
	}

	s := &Store{db: db}
	stmts := []struct {
		dst   **sqlutil.Guard
		query string
	}{
		{&s.insertStmt, `INSERT INTO preorder VALUES (?,?,?,NULL,0,?,?,?,?,?)`},
		{&s.updateStmt, `UPDATE preorder SET paid = ?, npaid = npaid + 1 WHERE ref = ?`},
		{&s.selectStmt, `SELECT ref, refnn, created, paid, npaid, amount, currency, desc, email, meta FROM preorder WHERE ref = ?`},
		{&s.selectNNStmt, `SELECT ref, refnn, created, paid, npaid, amount, currency, desc, email, meta FROM preorder WHERE refnn = ? ORDER BY ref`},
		{&s.selectListStmt, `SELECT ref, refnn, created, paid, npaid, amount, currency, desc, email, meta FROM preorder ORDER BY created DESC, refnn ASC`},
	}
	for _, st := range stmts {
		prepared, err := db.Prepare(st.query)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("preorder: prepare: %w", err)
		}
		*st.dst = sqlutil.NewGuard(prepared)
	}

	return s, nil
}

// Close releases the database handle and all prepared statements.
func (s *Store) Close() error {
	for _, g := range []*sqlutil.Guard{s.insertStmt, s.updateStmt, s.selectStmt, s.selectNNStmt, s.selectListStmt} {
		g.Close()
	}
	return s.db.Close()
}

// makeSepaRef mints a new reference of the form AAAAA-NN: five letters or
// digits (first restricted to a letter), a dash, and a two-digit suffix
// between 10 and 99.
func makeSepaRef() (string, error) {
	nonce := make([]byte, 5)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteByte(refCodes[int(nonce[0])%18])
	for i := 1; i < 5; i++ {
		b.WriteByte(refCodes[int(nonce[i])%28])
	}
	n := uint32(nonce[0])<<24 | uint32(nonce[1])<<16 | uint32(nonce[2])<<8 | uint32(nonce[3])
	suffix := 10 + int(n%90)
	return fmt.Sprintf("%s-%02d", b.String(), suffix), nil
}

func dbNow() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}

// Insert creates a new preorder row from dict (Amount, Desc, Email, and
// any Meta[...] entries are used) and writes the minted "Sepa-Ref" back
// into dict.
func (s *Store) Insert(dict *keyvalue.Dict) (string, error) {
	amount := dict.GetDefault("Amount", "")
	desc := dict.GetDefault("Desc", "")
	email := dict.GetDefault("Email", "")
	meta := keyvalue.EncodeMeta(dict)

	for attempt := 0; attempt < maxRefRetries; attempt++ {
		ref, err := makeSepaRef()
		if err != nil {
			return "", err
		}
		letters := ref[:5]
		nn, _ := strconv.Atoi(ref[6:])

		err = s.insertStmt.Do(func(stmt *sql.Stmt) error {
			_, execErr := stmt.Exec(letters, nn, dbNow(), nullable(amount), "EUR", nullable(desc), nullable(email), nullable(meta))
			return execErr
		})
		if err == nil {
			dict.Set("Sepa-Ref", ref)
			return ref, nil
		}
		if !isPrimaryKeyConstraint(err) {
			return "", fmt.Errorf("preorder: insert: %w", err)
		}
	}
	return "", fmt.Errorf("preorder: could not allocate a unique Sepa-Ref after %d attempts", maxRefRetries)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isPrimaryKeyConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func refLetters(ref string) (string, error) {
	i := strings.IndexByte(ref, '-')
	letters := ref
	if i >= 0 {
		letters = ref[:i]
	}
	if len(letters) != 5 {
		return "", perr.InvLength
	}
	return letters, nil
}

func scanRow(rows interface {
	Scan(dest ...interface{}) error
}) (*keyvalue.Dict, error) {
	var ref string
	var nn int
	var created string
	var paid, amount, currency, desc, email, meta sql.NullString
	var npaid int

	if err := rows.Scan(&ref, &nn, &created, &paid, &npaid, &amount, &currency, &desc, &email, &meta); err != nil {
		return nil, err
	}
	if nn < 0 || nn > 99 {
		return nil, perr.InvValue
	}

	d := keyvalue.New()
	d.Set("Sepa-Ref", fmt.Sprintf("%s-%02d", ref, nn))
	d.Set("Created", created)
	if paid.Valid {
		d.Set("Paid", paid.String)
	}
	d.Set("N-Paid", strconv.Itoa(npaid))
	if amount.Valid {
		d.Set("Amount", amount.String)
	}
	if currency.Valid {
		d.Set("Currency", currency.String)
	}
	if desc.Valid {
		d.Set("Desc", desc.String)
	}
	if email.Valid {
		d.Set("Email", email.String)
	}
	if meta.Valid {
		keyvalue.PutMeta(d, meta.String)
	}
	return d, nil
}

// Get looks up a row by its Sepa-Ref (the "AAAAA-NN" form, or a bare
// "AAAAA") and returns its full record.
func (s *Store) Get(ref string) (*keyvalue.Dict, error) {
	letters, err := refLetters(ref)
	if err != nil {
		return nil, err
	}

	var result *keyvalue.Dict
	err = s.selectStmt.Do(func(stmt *sql.Stmt) error {
		row := stmt.QueryRow(letters)
		d, scanErr := scanRow(row)
		if scanErr == sql.ErrNoRows {
			return perr.NotFound
		}
		if scanErr != nil {
			return scanErr
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// List returns all preorder rows, optionally filtered to a two-digit
// refnn suffix. refnn == "" returns every row, newest first.
func (s *Store) List(refnn string) ([]*keyvalue.Dict, error) {
	if refnn != "" && len(refnn) != 2 {
		return nil, perr.InvLength
	}

	var out []*keyvalue.Dict
	var rows *sql.Rows
	var err error

	if refnn != "" {
		err = s.selectNNStmt.Do(func(stmt *sql.Stmt) error {
			var qErr error
			rows, qErr = stmt.Query(refnn)
			return qErr
		})
	} else {
		err = s.selectListStmt.Do(func(stmt *sql.Stmt) error {
			var qErr error
			rows, qErr = stmt.Query()
			return qErr
		})
	}
	if err != nil {
		return nil, fmt.Errorf("preorder: list: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, scanErr := scanRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Update marks the row for ref as paid again (incrementing N-Paid) and
// returns the new timestamp under "_timestamp" merged into dict.
func (s *Store) Update(ref string, dict *keyvalue.Dict) error {
	letters, err := refLetters(ref)
	if err != nil {
		return err
	}

	now := dbNow()
	var changed int64
	err = s.updateStmt.Do(func(stmt *sql.Stmt) error {
		res, execErr := stmt.Exec(now, letters)
		if execErr != nil {
			return execErr
		}
		changed, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return fmt.Errorf("preorder: update: %w", err)
	}
	if changed == 0 {
		return perr.NotFound
	}
	dict.Set("_timestamp", now)
	return nil
}
