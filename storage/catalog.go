package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	plverrors "github.com/Ginden/plv8/pkg/errors"
	"github.com/Ginden/plv8/pkg/log"
)

// Fingerprint is the freshness token for a cached compiled function:
// definition version, physical location and the principal the callable was
// compiled for. Any component changing means the cached callable is stale.
type Fingerprint struct {
	Version  int64
	Location int64
	Owner    string
}

// Equal reports whether two fingerprints match exactly.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Version == other.Version &&
		f.Location == other.Location &&
		f.Owner == other.Owner
}

// FunctionMeta is one catalog entry for a user-defined function.
type FunctionMeta struct {
	OID      int64
	Name     string
	Source   string
	ArgNames []string
	ArgTypes []TypeID
	RetType  TypeID
	RetSet   bool
	Owner    string

	Version  int64
	Location int64
}

// IsTrigger reports whether the function is declared as a row trigger.
func (m *FunctionMeta) IsTrigger() bool {
	return m.RetType == TypeTrigger
}

// FunctionDef is the input shape for Define and Replace.
type FunctionDef struct {
	Name     string
	Source   string
	ArgNames []string
	ArgTypes []TypeID
	RetType  TypeID
	RetSet   bool
	Owner    string
}

// Catalog stores function definitions in the host database. One catalog per
// backend session, sharing the session's DB.
type Catalog struct {
	db     *DB
	logger *log.Logger
}

// NewCatalog creates a catalog over the given host database and ensures its
// backing table exists.
func NewCatalog(ctx context.Context, db *DB, logger *log.Logger) (*Catalog, error) {
	if logger == nil {
		logger = log.Default()
	}
	c := &Catalog{db: db, logger: logger}
	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) ensureSchema(ctx context.Context) error {
	var ddl []string
	if c.db.Dialect() == "postgres" {
		ddl = []string{
			`CREATE TABLE IF NOT EXISTS plv8_functions (
				oid       BIGSERIAL PRIMARY KEY,
				name      TEXT NOT NULL UNIQUE,
				source    TEXT NOT NULL,
				arg_names TEXT NOT NULL,
				arg_types TEXT NOT NULL,
				ret_type  TEXT NOT NULL,
				ret_set   BOOLEAN NOT NULL DEFAULT FALSE,
				owner     TEXT NOT NULL,
				version   BIGINT NOT NULL DEFAULT 1,
				location  BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS plv8_catalog_state (
				id  INTEGER PRIMARY KEY,
				seq BIGINT NOT NULL
			)`,
		}
	} else {
		ddl = []string{
			`CREATE TABLE IF NOT EXISTS plv8_functions (
				oid       INTEGER PRIMARY KEY AUTOINCREMENT,
				name      TEXT NOT NULL UNIQUE,
				source    TEXT NOT NULL,
				arg_names TEXT NOT NULL,
				arg_types TEXT NOT NULL,
				ret_type  TEXT NOT NULL,
				ret_set   INTEGER NOT NULL DEFAULT 0,
				owner     TEXT NOT NULL,
				version   INTEGER NOT NULL DEFAULT 1,
				location  INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS plv8_catalog_state (
				id  INTEGER PRIMARY KEY,
				seq INTEGER NOT NULL
			)`,
		}
	}

	for _, stmt := range ddl {
		if _, err := c.db.Exec(ctx, stmt); err != nil {
			return plverrors.Wrap(err, plverrors.ErrCodeCatalogWrite,
				"failed to create catalog schema").
				WithOp("Catalog.ensureSchema").
				Err()
		}
	}

	_, err := c.db.Exec(ctx,
		"INSERT INTO plv8_catalog_state (id, seq) SELECT 1, 0 WHERE NOT EXISTS (SELECT 1 FROM plv8_catalog_state WHERE id = 1)")
	if err != nil {
		return plverrors.Wrap(err, plverrors.ErrCodeCatalogWrite,
			"failed to seed catalog state").
			WithOp("Catalog.ensureSchema").
			Err()
	}
	return nil
}

// ph returns the dialect-appropriate placeholder for position i (1-based).
func (c *Catalog) ph(i int) string {
	if c.db.Dialect() == "postgres" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// nextLocation bumps and returns the catalog's write sequence. It stands in
// for the physical-location token a real heap would provide.
func (c *Catalog) nextLocation(ctx context.Context) (int64, error) {
	if _, err := c.db.Exec(ctx, "UPDATE plv8_catalog_state SET seq = seq + 1 WHERE id = 1"); err != nil {
		return 0, err
	}
	rs, err := c.db.Query(ctx, "SELECT seq FROM plv8_catalog_state WHERE id = 1")
	if err != nil {
		return 0, err
	}
	if len(rs.Rows) == 0 {
		return 0, plverrors.Internal("catalog state row missing").WithOp("Catalog.nextLocation").Err()
	}
	return toInt64(rs.Rows[0][0]), nil
}

// Define inserts a new function definition and returns its OID.
func (c *Catalog) Define(ctx context.Context, def FunctionDef) (int64, error) {
	argNames, argTypes, err := encodeArgs(def.ArgNames, def.ArgTypes)
	if err != nil {
		return 0, err
	}

	loc, err := c.nextLocation(ctx)
	if err != nil {
		return 0, plverrors.Wrap(err, plverrors.ErrCodeCatalogWrite,
			"failed to advance catalog sequence").
			WithOp("Catalog.Define").
			Err()
	}

	stmt := fmt.Sprintf(
		"INSERT INTO plv8_functions (name, source, arg_names, arg_types, ret_type, ret_set, owner, version, location) VALUES (%s, %s, %s, %s, %s, %s, %s, 1, %s)",
		c.ph(1), c.ph(2), c.ph(3), c.ph(4), c.ph(5), c.ph(6), c.ph(7), c.ph(8))

	if _, err := c.db.Exec(ctx, stmt,
		def.Name, def.Source, argNames, argTypes,
		def.RetType.String(), def.RetSet, def.Owner, loc); err != nil {
		return 0, plverrors.Wrap(err, plverrors.ErrCodeCatalogWrite,
			"failed to define function").
			WithOp("Catalog.Define").
			WithField("name", def.Name).
			Err()
	}

	oid, err := c.oidByName(ctx, def.Name)
	if err != nil {
		return 0, err
	}

	c.logger.Execution().Debug("function defined",
		"name", def.Name,
		"oid", oid,
	)
	return oid, nil
}

// Replace updates an existing definition in place, bumping its version and
// location tokens. The OID is preserved.
func (c *Catalog) Replace(ctx context.Context, def FunctionDef) (int64, error) {
	oid, err := c.oidByName(ctx, def.Name)
	if err != nil {
		if plverrors.IsCode(err, plverrors.ErrCodeCatalogNotFound) {
			return c.Define(ctx, def)
		}
		return 0, err
	}

	argNames, argTypes, err := encodeArgs(def.ArgNames, def.ArgTypes)
	if err != nil {
		return 0, err
	}

	loc, err := c.nextLocation(ctx)
	if err != nil {
		return 0, plverrors.Wrap(err, plverrors.ErrCodeCatalogWrite,
			"failed to advance catalog sequence").
			WithOp("Catalog.Replace").
			Err()
	}

	stmt := fmt.Sprintf(
		"UPDATE plv8_functions SET source = %s, arg_names = %s, arg_types = %s, ret_type = %s, ret_set = %s, owner = %s, version = version + 1, location = %s WHERE oid = %s",
		c.ph(1), c.ph(2), c.ph(3), c.ph(4), c.ph(5), c.ph(6), c.ph(7), c.ph(8))

	if _, err := c.db.Exec(ctx, stmt,
		def.Source, argNames, argTypes,
		def.RetType.String(), def.RetSet, def.Owner, loc, oid); err != nil {
		return 0, plverrors.Wrap(err, plverrors.ErrCodeCatalogWrite,
			"failed to replace function").
			WithOp("Catalog.Replace").
			WithField("name", def.Name).
			Err()
	}

	c.logger.Execution().Debug("function replaced",
		"name", def.Name,
		"oid", oid,
	)
	return oid, nil
}

// Drop removes a function definition by name.
func (c *Catalog) Drop(ctx context.Context, name string) error {
	stmt := fmt.Sprintf("DELETE FROM plv8_functions WHERE name = %s", c.ph(1))
	if _, err := c.db.Exec(ctx, stmt, name); err != nil {
		return plverrors.Wrap(err, plverrors.ErrCodeCatalogWrite,
			"failed to drop function").
			WithOp("Catalog.Drop").
			WithField("name", name).
			Err()
	}
	return nil
}

// Lookup fetches the catalog entry for an OID.
func (c *Catalog) Lookup(ctx context.Context, oid int64) (*FunctionMeta, error) {
	stmt := fmt.Sprintf(
		"SELECT oid, name, source, arg_names, arg_types, ret_type, ret_set, owner, version, location FROM plv8_functions WHERE oid = %s",
		c.ph(1))

	rs, err := c.db.Query(ctx, stmt, oid)
	if err != nil {
		return nil, plverrors.Wrap(err, plverrors.ErrCodeCatalogLookup,
			"catalog lookup failed").
			WithOp("Catalog.Lookup").
			WithField("oid", oid).
			Err()
	}
	if len(rs.Rows) == 0 {
		return nil, plverrors.Newf(plverrors.ErrCodeCatalogNotFound,
			"cache lookup failed for function %d", oid).
			WithOp("Catalog.Lookup").
			Err()
	}
	return scanFunctionMeta(rs.Rows[0])
}

// LookupByName resolves a function by name. The name may carry a trailing
// signature in parentheses, which is ignored.
func (c *Catalog) LookupByName(ctx context.Context, name string) (*FunctionMeta, error) {
	if idx := strings.IndexByte(name, '('); idx >= 0 {
		name = strings.TrimSpace(name[:idx])
	}

	oid, err := c.oidByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return c.Lookup(ctx, oid)
}

func (c *Catalog) oidByName(ctx context.Context, name string) (int64, error) {
	stmt := fmt.Sprintf("SELECT oid FROM plv8_functions WHERE name = %s", c.ph(1))
	rs, err := c.db.Query(ctx, stmt, name)
	if err != nil {
		return 0, plverrors.Wrap(err, plverrors.ErrCodeCatalogLookup,
			"catalog lookup failed").
			WithOp("Catalog.oidByName").
			WithField("name", name).
			Err()
	}
	if len(rs.Rows) == 0 {
		return 0, plverrors.NotFound("function", name).Err()
	}
	return toInt64(rs.Rows[0][0]), nil
}

func encodeArgs(names []string, types []TypeID) (string, string, error) {
	if len(names) != 0 && len(names) != len(types) {
		return "", "", plverrors.New(plverrors.ErrCodeCatalogWrite,
			"argument name and type counts differ").
			WithOp("Catalog.encodeArgs").
			Err()
	}

	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = t.String()
	}

	encNames, err := json.Marshal(names)
	if err != nil {
		return "", "", err
	}
	encTypes, err := json.Marshal(typeNames)
	if err != nil {
		return "", "", err
	}
	return string(encNames), string(encTypes), nil
}

func scanFunctionMeta(row []Datum) (*FunctionMeta, error) {
	meta := &FunctionMeta{
		OID:      toInt64(row[0]),
		Name:     asString(row[1]),
		Source:   asString(row[2]),
		Owner:    asString(row[7]),
		Version:  toInt64(row[8]),
		Location: toInt64(row[9]),
	}

	var argNames []string
	if err := json.Unmarshal([]byte(asString(row[3])), &argNames); err != nil {
		return nil, plverrors.Wrap(err, plverrors.ErrCodeCatalogCorrupt,
			"malformed argument names in catalog").
			WithOp("Catalog.scanFunctionMeta").
			Err()
	}
	meta.ArgNames = argNames

	var argTypeNames []string
	if err := json.Unmarshal([]byte(asString(row[4])), &argTypeNames); err != nil {
		return nil, plverrors.Wrap(err, plverrors.ErrCodeCatalogCorrupt,
			"malformed argument types in catalog").
			WithOp("Catalog.scanFunctionMeta").
			Err()
	}
	meta.ArgTypes = make([]TypeID, len(argTypeNames))
	for i, tn := range argTypeNames {
		t, err := ParseTypeID(tn)
		if err != nil {
			return nil, plverrors.Wrap(err, plverrors.ErrCodeCatalogCorrupt,
				"unknown argument type in catalog").
				WithOp("Catalog.scanFunctionMeta").
				Err()
		}
		meta.ArgTypes[i] = t
	}

	retType, err := ParseTypeID(asString(row[5]))
	if err != nil {
		return nil, plverrors.Wrap(err, plverrors.ErrCodeCatalogCorrupt,
			"unknown return type in catalog").
			WithOp("Catalog.scanFunctionMeta").
			Err()
	}
	meta.RetType = retType
	meta.RetSet = toBool(row[6])

	return meta, nil
}

// CurrentFingerprint computes the freshness fingerprint for a catalog entry
// as seen by the given calling principal.
func (m *FunctionMeta) CurrentFingerprint(principal string) Fingerprint {
	return Fingerprint{
		Version:  m.Version,
		Location: m.Location,
		Owner:    principal,
	}
}

// Scan conversion helpers. database/sql drivers disagree on concrete types
// for integers and booleans.

func toInt64(v Datum) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		return int64(x)
	case []byte:
		var n int64
		fmt.Sscanf(string(x), "%d", &n)
		return n
	case string:
		var n int64
		fmt.Sscanf(x, "%d", &n)
		return n
	default:
		return 0
	}
}

func toBool(v Datum) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case int:
		return x != 0
	default:
		return false
	}
}

func asString(v Datum) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}
