package storage

import (
	"context"
	"strconv"

	"github.com/go-pg/migrations/v8"
	"github.com/go-pg/pg/v10"
	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/model"
	"github.com/web3vx/aptos-indexer-processors/schemas"
	v1 "github.com/web3vx/aptos-indexer-processors/schemas/v1"
)

// GetSchemaVersions returns the schema version in the database and the latest
// schema version defined by the available migrations.
func (d *Database) GetSchemaVersions(ctx context.Context) (model.Version, model.Version, error) {
	latest := LatestSchemaVersion()

	// If we're already connected then use that connection
	if d.db != nil {
		dbVersion, _, err := getDatabaseSchemaVersion(ctx, d.db, d.schemaName)
		return dbVersion, latest, err
	}

	// Temporarily connect
	db, err := connect(ctx, d.opt)
	if err != nil {
		return model.Version{}, model.Version{}, xerrors.Errorf("connect: %w", err)
	}
	defer db.Close() // nolint: errcheck
	dbVersion, _, err := getDatabaseSchemaVersion(ctx, db, d.schemaName)
	return dbVersion, latest, err
}

// getDatabaseSchemaVersion returns the schema version in use by the database
// and whether the schema versioning tables have been initialized. An
// uninitialized database reports a zero version and false.
func getDatabaseSchemaVersion(ctx context.Context, db *pg.DB, schemaName string) (model.Version, bool, error) {
	migExists, err := tableExists(ctx, db, schemaName, "gopg_migrations")
	if err != nil {
		return model.Version{}, false, xerrors.Errorf("checking if gopg_migrations exists: %w", err)
	}
	if !migExists {
		return model.Version{}, false, nil
	}

	coll, err := v1.GetPatches(schemas.Config{SchemaName: schemaName})
	if err != nil {
		return model.Version{}, false, err
	}

	migration, err := coll.Version(db)
	if err != nil {
		return model.Version{}, false, xerrors.Errorf("unable to determine schema version: %w", err)
	}

	if migration == 0 {
		// Database has the version table but it is unpopulated so the schema is not installed
		return model.Version{}, false, nil
	}

	return model.Version{Major: v1.MajorVersion, Patch: int(migration)}, true, nil
}

// initDatabaseSchema initializes the tables for tracking the schema version
// installed in the database.
func initDatabaseSchema(ctx context.Context, db *pg.DB, schemaName string) error {
	if schemaName != "public" {
		if _, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS ?`, pg.SafeQuery(schemaName)); err != nil {
			return xerrors.Errorf("ensure schema exists: %w", err)
		}
	}

	migTableName := schemaName + ".gopg_migrations"
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ? (
			id serial,
			version bigint,
			created_at timestamptz
		)
	`, pg.SafeQuery(migTableName))
	if err != nil {
		return xerrors.Errorf("ensure gopg_migrations exists: %w", err)
	}

	return nil
}

func validateDatabaseSchemaVersion(ctx context.Context, db *pg.DB, schemaName string) (model.Version, error) {
	dbVersion, initialized, err := getDatabaseSchemaVersion(ctx, db, schemaName)
	if err != nil {
		return model.Version{}, xerrors.Errorf("get schema version: %w", err)
	}

	if !initialized {
		return model.Version{}, xerrors.Errorf("schema not installed in database, run the migrate command")
	}

	latestVersion := LatestSchemaVersion()
	switch {
	case latestVersion.Before(dbVersion):
		return model.Version{}, ErrSchemaTooNew
	case dbVersion.Before(OldestSupportedSchemaVersion):
		return model.Version{}, ErrSchemaTooOld
	default:
		return dbVersion, nil
	}
}

// OldestSupportedSchemaVersion is the oldest schema version that can be read
// and written by this version of the processor.
var OldestSupportedSchemaVersion = model.Version{Major: v1.MajorVersion, Patch: 1}

// LatestSchemaVersion returns the most recent version of the model schema,
// based on the highest registered migration.
func LatestSchemaVersion() model.Version {
	return v1.Version()
}

// MigrateSchema migrates the database schema to the latest version based on
// the list of migrations available.
func (d *Database) MigrateSchema(ctx context.Context) error {
	return d.MigrateSchemaTo(ctx, LatestSchemaVersion())
}

// MigrateSchemaTo migrates the database schema to a specific version. Note
// that downgrading a schema to an earlier version is destructive and may
// result in the loss of data.
func (d *Database) MigrateSchemaTo(ctx context.Context, target model.Version) error {
	db, err := connect(ctx, d.opt)
	if err != nil {
		return xerrors.Errorf("connect: %w", err)
	}
	defer db.Close() // nolint: errcheck

	dbVersion, initialized, err := getDatabaseSchemaVersion(ctx, db, d.schemaName)
	if err != nil {
		return xerrors.Errorf("get schema versions: %w", err)
	}
	log.Infof("current database schema is version %s", dbVersion)

	if target.Major != v1.MajorVersion {
		return xerrors.Errorf("unsupported major schema version: %d", target.Major)
	}

	latestVersion := LatestSchemaVersion()
	if latestVersion.Patch < target.Patch {
		return xerrors.Errorf("no migrations found for version %s", target)
	}

	if initialized && dbVersion == target {
		return xerrors.Errorf("database schema is already at version %s", dbVersion)
	}

	cfg := schemas.Config{SchemaName: d.schemaName}
	coll, err := v1.GetPatches(cfg)
	if err != nil {
		return xerrors.Errorf("no schema definition corresponds to version %s: %w", target, err)
	}

	if err := checkMigrationSequence(coll, dbVersion.Patch, target.Patch); err != nil {
		return xerrors.Errorf("check migration sequence: %w", err)
	}

	// Acquire an exclusive lock on the schema so we know no other instances are running
	if err := SchemaLock.LockExclusive(ctx, db); err != nil {
		return xerrors.Errorf("acquiring schema lock: %w", err)
	}
	defer func() {
		if err := SchemaLock.UnlockExclusive(ctx, db); err != nil {
			log.Errorf("failed to release exclusive lock: %v", err)
		}
	}()

	if err := initDatabaseSchema(ctx, db, d.schemaName); err != nil {
		return xerrors.Errorf("initializing schema version tables: %w", err)
	}

	// Check if we need to create the base schema
	if dbVersion.Patch == 0 {
		log.Info("creating base schema")

		base, err := v1.GetBase(cfg)
		if err != nil {
			return xerrors.Errorf("no base schema defined: %w", err)
		}

		if _, err := db.Exec(base); err != nil {
			return xerrors.Errorf("creating base schema: %w", err)
		}
	}

	// Do we need to rollback the schema version
	if dbVersion.Patch > target.Patch {
		for dbVersion.Patch > target.Patch {
			log.Warnf("running destructive schema migration from patch %d to patch %d", dbVersion.Patch, dbVersion.Patch-1)
			_, newDBPatch, err := coll.Run(db, "down")
			if err != nil {
				return xerrors.Errorf("run migration: %w", err)
			}
			dbVersion.Patch = int(newDBPatch)
			log.Infof("current database schema is now version %s", dbVersion)
		}
		return nil
	}

	log.Infof("running schema migration from version %s to version %s", dbVersion, target)
	_, newDBPatch, err := coll.Run(db, "up", strconv.Itoa(target.Patch))
	if err != nil {
		return xerrors.Errorf("run migration: %w", err)
	}

	dbVersion.Patch = int(newDBPatch)
	log.Infof("current database schema is now version %s", dbVersion)

	return nil
}

func checkMigrationSequence(coll *migrations.Collection, from, to int) error {
	versions := map[int64]bool{}
	for _, m := range coll.Migrations() {
		if versions[m.Version] {
			return xerrors.Errorf("duplicate migration for schema version %d", m.Version)
		}
		versions[m.Version] = true
	}

	if from > to {
		to, from = from, to
	}

	for i := from; i <= to; i++ {
		// Migration 0 is always a no-op since it's the base schema
		if i == 0 {
			continue
		}
		if !versions[int64(i)] {
			return xerrors.Errorf("missing migration for schema version %d", i)
		}
	}

	return nil
}
