package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"strings"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	"github.com/go-pg/pg/v10/types"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
	"github.com/web3vx/aptos-indexer-processors/model/multisig"
	"github.com/web3vx/aptos-indexer-processors/model/processor"
	"github.com/web3vx/aptos-indexer-processors/schemas"
)

var log = logging.Logger("processor/storage")

// Advisory locks
var (
	SchemaLock AdvisoryLock = 1
)

var (
	ErrSchemaTooOld = errors.New("database schema is too old and requires migration")
	ErrSchemaTooNew = errors.New("database schema is too new for this version of the processor")
	ErrNameTooLong  = errors.New("name exceeds maximum length for postgres application names")
)

const MaxPostgresNameLength = 64

// models is the full set of tables owned by the processor. Used for schema
// verification.
var models = []interface{}{
	(*multisig.MultisigWallet)(nil),
	(*multisig.MultisigOwner)(nil),
	(*multisig.OwnerWalletMembership)(nil),
	(*multisig.MultisigTransaction)(nil),
	(*multisig.MultisigVote)(nil),
	(*multisig.MultisigContact)(nil),
	(*multisig.SpamAsset)(nil),
	(*processor.Status)(nil),
	(*processor.ProcessingReport)(nil),
	(*processor.GapReport)(nil),
}

// conflictPolicy describes how an insert of a model resolves against an
// existing row with the same natural key. Tables not listed here fall back to
// a plain insert, which will surface key collisions as constraint violations.
type conflictPolicy struct {
	target string   // conflict target columns
	update []string // columns overwritten from the excluded row; empty means DO NOTHING
}

// upsertPolicies maps each table to its natural-key conflict resolution.
// Every write the projector emits is an idempotent upsert, so re-applying a
// batch after a failed cursor advance is safe.
var upsertPolicies = map[string]conflictPolicy{
	"multisig_wallets": {
		target: "(wallet_address)",
		update: []string{"required_signatures", "metadata"},
	},
	"multisig_owners": {
		target: "(owner_address)",
	},
	"owners_wallets": {
		target: "(wallet_address, owner_address, version)",
	},
	// payload, payload_hash and the other creation columns are immutable
	// after the proposal; only the lifecycle columns move.
	"multisig_transactions": {
		target: "(wallet_address, sequence_number)",
		update: []string{"status", "executed_at", "executor", "execution_failed"},
	},
	"multisig_voting_transactions": {
		target: "(wallet_address, transaction_sequence, owner_address)",
		update: []string{"value", "created_at"},
	},
	"multisig_contacts": {
		target: "(wallet_address, contact_address)",
		update: []string{"contact_name", "created_at"},
	},
	"spam_assets": {
		target: "(asset)",
		update: []string{"is_spam", "last_updated"},
	},
	"processor_status": {
		target: "(processor)",
		update: []string{"last_success_version", "last_updated"},
	},
	"processing_reports": {
		target: "(start_version, end_version, reporter, started_at)",
		update: []string{"completed_at", "status", "status_information", "errors_detected"},
	},
	"gap_reports": {
		target: "(start_version, end_version, status)",
	},
}

func NewDatabase(ctx context.Context, url string, poolSize int, name string, schemaName string) (*Database, error) {
	opt, err := pg.ParseURL(url)
	if err != nil {
		return nil, xerrors.Errorf("parse database URL: %w", err)
	}
	opt.PoolSize = poolSize
	if opt.ApplicationName == "" {
		opt.ApplicationName = name
	}

	if len(opt.ApplicationName) > MaxPostgresNameLength {
		return nil, ErrNameTooLong
	}

	return &Database{
		opt:        opt,
		Clock:      clock.New(),
		schemaName: schemaName,
	}, nil
}

type Database struct {
	db         *pg.DB
	opt        *pg.Options
	Clock      clock.Clock
	schemaName string
}

// Connect opens a connection to the database and checks that the schema is
// compatible with the version required by this version of the processor.
func (d *Database) Connect(ctx context.Context) error {
	db, err := connect(ctx, d.opt)
	if err != nil {
		return xerrors.Errorf("connect: %w", err)
	}

	// Check if the version of the schema is compatible
	if _, err := validateDatabaseSchemaVersion(ctx, db, d.schemaName); err != nil {
		_ = db.Close()
		return err
	}

	d.db = db
	return nil
}

func connect(ctx context.Context, opt *pg.Options) (*pg.DB, error) {
	db := pg.Connect(opt)
	db = db.WithContext(ctx)

	// Check if connection credentials are valid and PostgreSQL is up and running.
	if err := db.Ping(ctx); err != nil {
		return nil, xerrors.Errorf("ping database: %w", err)
	}

	return db, nil
}

func (d *Database) IsConnected(ctx context.Context) bool {
	if d.db == nil {
		return false
	}
	return d.db.Ping(ctx) == nil
}

func (d *Database) Close(ctx context.Context) error {
	err := d.db.Close()
	d.db = nil
	return err
}

func (d *Database) SchemaConfig() schemas.Config {
	return schemas.Config{
		SchemaName: d.schemaName,
	}
}

// AsORM exposes the underlying connection for ad-hoc queries such as cursor
// reads and gap scans.
func (d *Database) AsORM() *pg.DB {
	return d.db
}

// PersistBatch applies the models in a single transaction: either all rows
// become visible together or none do.
func (d *Database) PersistBatch(ctx context.Context, ps ...model.Persistable) error {
	return d.db.RunInTransaction(ctx, func(tx *pg.Tx) error {
		txs := &TxStorage{
			tx: tx,
		}

		for _, p := range ps {
			if err := p.Persist(ctx, txs); err != nil {
				return err
			}
		}

		return nil
	})
}

type TxStorage struct {
	tx *pg.Tx
}

// PersistModel inserts the model into the database using the conflict policy
// registered for its table.
func (s *TxStorage) PersistModel(ctx context.Context, m interface{}) error {
	value := reflect.ValueOf(m)
	if value.Kind() == reflect.Ptr {
		value = reflect.Indirect(value)
	}
	if value.Kind() == reflect.Slice || value.Kind() == reflect.Array {
		if value.Len() == 0 {
			return nil
		}
		// go-pg expects a pointer to a slice
		if value.CanAddr() {
			m = value.Addr().Interface()
		}
	}

	q := s.tx.ModelContext(ctx, m)
	policy, ok := upsertPolicies[tableNameForModel(m)]
	if !ok {
		if _, err := q.Insert(); err != nil {
			return xerrors.Errorf("persisting %T: %w", m, err)
		}
		return nil
	}

	if len(policy.update) == 0 {
		q = q.OnConflict(policy.target + " DO NOTHING")
	} else {
		set := make([]string, len(policy.update))
		for i, col := range policy.update {
			set[i] = fmt.Sprintf("%q = EXCLUDED.%q", col, col)
		}
		q = q.OnConflict(policy.target + " DO UPDATE").Set(strings.Join(set, ", "))
	}

	if _, err := q.Insert(); err != nil {
		metrics.RecordInc(ctx, metrics.PersistFailure)
		return xerrors.Errorf("persisting %T: %w", m, err)
	}
	return nil
}

func tableNameForModel(m interface{}) string {
	q := orm.NewQuery(nil, m)
	return stripQuotes(q.TableModel().Table().SQLNameForSelects)
}

func stripQuotes(s types.Safe) string {
	return strings.Trim(string(s), `"`)
}

// IsTransientError reports whether the error is likely to resolve on retry:
// connectivity loss or a serialization/deadlock conflict. Constraint
// violations and other integrity errors are not transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr pg.Error
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected, class 08 connection exceptions
		code := pgErr.Field('C')
		if code == "40001" || code == "40P01" || strings.HasPrefix(code, "08") {
			return true
		}
	}
	return false
}

// VerifyCurrentSchema compares the tables in the database with the models
// used by the processor and reports any discrepancies.
func (d *Database) VerifyCurrentSchema(ctx context.Context) error {
	// If we're already connected then use that connection
	if d.db != nil {
		return verifyCurrentSchema(ctx, d.db, d.schemaName)
	}

	// Temporarily connect
	db, err := connect(ctx, d.opt)
	if err != nil {
		return xerrors.Errorf("connect: %w", err)
	}
	defer db.Close() // nolint: errcheck
	return verifyCurrentSchema(ctx, db, d.schemaName)
}

func verifyCurrentSchema(ctx context.Context, db *pg.DB, schemaName string) error {
	valid := true
	for _, m := range models {
		q := db.Model(m)
		tm := q.TableModel()
		tbl := tm.Table()
		name := stripQuotes(tbl.SQLNameForSelects)
		exists, err := tableExists(ctx, db, schemaName, name)
		if err != nil {
			return xerrors.Errorf("checking if table %s exists: %w", name, err)
		}
		if !exists {
			valid = false
			log.Errorf("table %s does not exist", name)
			continue
		}

		for _, fld := range tbl.Fields {
			hasCol, err := columnExists(ctx, db, schemaName, name, fld.SQLName)
			if err != nil {
				return xerrors.Errorf("checking if column %s.%s exists: %w", name, fld.SQLName, err)
			}
			if !hasCol {
				valid = false
				log.Errorf("table %s does not have column %s", name, fld.SQLName)
			}
		}
	}

	if !valid {
		return xerrors.Errorf("database schema does not match the models used by this version of the processor")
	}
	return nil
}

func tableExists(ctx context.Context, db *pg.DB, schemaName string, tableName string) (bool, error) {
	var exists bool
	_, err := db.QueryOneContext(ctx, pg.Scan(&exists),
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema=? AND table_name=?)`,
		schemaName, tableName)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func columnExists(ctx context.Context, db *pg.DB, schemaName string, tableName string, columnName string) (bool, error) {
	var exists bool
	_, err := db.QueryOneContext(ctx, pg.Scan(&exists),
		`SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_schema=? AND table_name=? AND column_name=?)`,
		schemaName, tableName, columnName)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// WaitUntilReady blocks until the database can be pinged or the context is done.
func (d *Database) WaitUntilReady(ctx context.Context, interval time.Duration) error {
	for {
		db, err := connect(ctx, d.opt)
		if err == nil {
			_ = db.Close()
			return nil
		}
		log.Warnw("database not ready", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.Clock.After(interval):
		}
	}
}
