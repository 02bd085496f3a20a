package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Ginden/plv8/bridge"
	"github.com/Ginden/plv8/config"
	"github.com/Ginden/plv8/modlib"
	"github.com/Ginden/plv8/pkg/log"
	"github.com/Ginden/plv8/pkg/version"
	"github.com/Ginden/plv8/storage"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("plv8call", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configFile  = fs.String("c", "", "Configuration file path")
		configFileL = fs.String("config", "", "Configuration file path")

		// Function definition
		defineFile = fs.String("f", "", "Define a function from a JavaScript source file")
		defineSig  = fs.String("signature", "", "Signature for -f, e.g. 'concat(a text, b text) returns text'")

		// Invocation
		callName   = fs.String("call", "", "Invoke a defined function by name; positional args follow flags")
		evalSource = fs.String("e", "", "Run an anonymous code block")
		principal  = fs.String("principal", "default", "Principal to run as")

		// Bridge options
		startProc = fs.String("start-proc", "", "Function run once per namespace on creation")
		moduleDir = fs.String("modules", "", "Directory of JavaScript module files")
		watchMods = fs.Bool("watch", false, "Reload module files when they change")

		// Storage
		storageType = fs.String("storage", "", "Storage backend: sqlite, postgres")
		storageDSN  = fs.String("dsn", "", "Storage DSN (for sqlite: file path or :memory:)")

		// Logging
		logLevel  = fs.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat = fs.String("log-format", "", "Log format (text, json)")

		showHelp     = fs.Bool("h", false, "Show help")
		showHelpL    = fs.Bool("help", false, "Show help")
		showVersion  = fs.Bool("v", false, "Show version")
		showVersionL = fs.Bool("version", false, "Show version")
	)

	fs.Usage = func() {
		printUsage(stderr)
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	// Coalesce short and long flags
	if *configFileL != "" {
		*configFile = *configFileL
	}
	if *showHelpL {
		*showHelp = true
	}
	if *showVersionL {
		*showVersion = true
	}

	if *showHelp {
		printUsage(stdout)
		return 0
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.Full())
		return 0
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "error loading config: %v\n", err)
		return 1
	}
	if *storageType != "" {
		cfg.Storage.Backend = *storageType
	}
	if *storageDSN != "" {
		cfg.Storage.DSN = *storageDSN
	}
	if *startProc != "" {
		cfg.Bridge.StartProc = *startProc
	}
	if *moduleDir != "" {
		cfg.Modules.Dir = *moduleDir
	}
	if *watchMods {
		cfg.Modules.Watch = true
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	logger := newLogger(cfg)
	ctx := context.Background()

	db, err := openDB(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "error opening storage: %v\n", err)
		return 1
	}
	defer db.Close()

	catalog, err := storage.NewCatalog(ctx, db, logger)
	if err != nil {
		fmt.Fprintf(stderr, "error opening catalog: %v\n", err)
		return 1
	}

	opts := []bridge.Option{}
	if cfg.Modules.Dir != "" {
		lib, err := modlib.New(cfg.Modules.Dir, logger)
		if err != nil {
			fmt.Fprintf(stderr, "error opening module library: %v\n", err)
			return 1
		}
		if cfg.Modules.Watch {
			if err := lib.Watch(); err != nil {
				fmt.Fprintf(stderr, "error watching modules: %v\n", err)
				return 1
			}
			defer lib.Close()
		}
		opts = append(opts, bridge.WithModules(lib))
	}

	br := bridge.New(db, catalog, logger, bridge.Config{StartProc: cfg.Bridge.StartProc}, opts...)

	if *defineFile != "" {
		if err := defineFunction(ctx, catalog, br, *defineFile, *defineSig, *principal, stdout); err != nil {
			fmt.Fprintf(stderr, "error defining function: %v\n", err)
			return 1
		}
	}

	if *evalSource != "" {
		cc := bridge.CallContext{Principal: *principal}
		if err := br.CallInline(ctx, cc, *evalSource); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
	}

	if *callName != "" {
		if err := invoke(ctx, catalog, br, *callName, *principal, fs.Args(), stdout); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
	}

	if *defineFile == "" && *evalSource == "" && *callName == "" {
		printUsage(stderr)
		return 2
	}
	return 0
}

func newLogger(cfg *config.Config) *log.Logger {
	lc := log.DefaultConfig()
	if lv, err := log.ParseLevel(cfg.Log.Level); err == nil {
		lc.DefaultLevel = lv
	}
	if f, err := log.ParseFormat(cfg.Log.Format); err == nil {
		lc.Format = f
	}
	return log.New(lc)
}

func openDB(cfg *config.Config, logger *log.Logger) (*storage.DB, error) {
	if cfg.Storage.Backend == "postgres" {
		pc := storage.PostgresConfig{DSN: cfg.Storage.DSN}
		return storage.NewPostgresDB(pc, logger)
	}
	sc := storage.DefaultSQLiteConfig()
	sc.Path = cfg.Storage.DSN
	return storage.NewSQLiteDB(sc, logger)
}

// defineFunction creates or replaces a function from a source file, using
// the declared signature, then validates it.
func defineFunction(ctx context.Context, catalog *storage.Catalog, br *bridge.Bridge, path, sig, principal string, stdout io.Writer) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	def, err := parseSignature(sig)
	if err != nil {
		return err
	}
	def.Source = string(src)
	def.Owner = principal

	oid, err := catalog.Replace(ctx, def)
	if err != nil {
		return err
	}
	if err := br.Validate(ctx, oid, bridge.CallContext{Principal: principal}); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "defined %s (oid %d)\n", def.Name, oid)
	return nil
}

// parseSignature parses "name(arg type, ...) returns [setof] type". A bare
// name defaults to no arguments returning json.
func parseSignature(sig string) (storage.FunctionDef, error) {
	var def storage.FunctionDef
	def.RetType = storage.TypeJSON

	sig = strings.TrimSpace(sig)
	if sig == "" {
		return def, fmt.Errorf("missing -signature")
	}

	rest := sig
	if i := strings.Index(rest, "("); i >= 0 {
		def.Name = strings.TrimSpace(rest[:i])
		j := strings.Index(rest, ")")
		if j < i {
			return def, fmt.Errorf("malformed signature: %q", sig)
		}
		for _, part := range strings.Split(rest[i+1:j], ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			fields := strings.Fields(part)
			var name, typeName string
			if len(fields) == 1 {
				typeName = fields[0]
			} else {
				name, typeName = fields[0], fields[1]
			}
			typ, err := storage.ParseTypeID(typeName)
			if err != nil {
				return def, err
			}
			def.ArgNames = append(def.ArgNames, name)
			def.ArgTypes = append(def.ArgTypes, typ)
		}
		rest = rest[j+1:]
	} else {
		fields := strings.Fields(rest)
		def.Name = fields[0]
		rest = strings.TrimPrefix(rest, fields[0])
	}

	rest = strings.TrimSpace(rest)
	if rest != "" {
		low := strings.ToLower(rest)
		low = strings.TrimSpace(strings.TrimPrefix(low, "returns"))
		if strings.HasPrefix(low, "setof ") {
			def.RetSet = true
			low = strings.TrimSpace(strings.TrimPrefix(low, "setof"))
		}
		typ, err := storage.ParseTypeID(low)
		if err != nil {
			return def, err
		}
		def.RetType = typ
	}
	return def, nil
}

// invoke calls a defined function with text arguments and prints the
// result. Set-returning functions print one line per row.
func invoke(ctx context.Context, catalog *storage.Catalog, br *bridge.Bridge, name, principal string, args []string, stdout io.Writer) error {
	meta, err := catalog.LookupByName(ctx, name)
	if err != nil {
		return err
	}
	if len(args) != len(meta.ArgTypes) {
		return fmt.Errorf("%s expects %d arguments, got %d", meta.Name, len(meta.ArgTypes), len(args))
	}

	datums := make([]storage.Datum, len(args))
	nulls := make([]bool, len(args))
	for i, a := range args {
		if a == "null" {
			nulls[i] = true
			continue
		}
		datums[i] = a
	}

	cc := bridge.CallContext{Principal: principal}

	if meta.RetSet {
		col := storage.ColumnDesc{Name: meta.Name, Type: meta.RetType}
		desc := &storage.RelationDesc{Name: meta.Name, Columns: []storage.ColumnDesc{col}}
		store := storage.NewMemoryRowStore(desc)
		if err := br.CallSetReturning(ctx, meta.OID, cc, datums, nulls, store); err != nil {
			return err
		}
		for _, row := range store.Rows() {
			printRow(stdout, desc, row)
		}
		fmt.Fprintf(stdout, "(%d rows)\n", store.Len())
		return nil
	}

	result, isNull, err := br.Call(ctx, meta.OID, cc, datums, nulls)
	if err != nil {
		return err
	}
	if isNull {
		fmt.Fprintln(stdout, "null")
	} else {
		fmt.Fprintf(stdout, "%v\n", result)
	}
	return nil
}

func printRow(w io.Writer, desc *storage.RelationDesc, row *storage.Tuple) {
	parts := make([]string, len(desc.Columns))
	for i := range desc.Columns {
		if row.Nulls[i] {
			parts[i] = "null"
			continue
		}
		parts[i] = fmt.Sprintf("%v", row.Values[i])
	}
	fmt.Fprintln(w, strings.Join(parts, " | "))
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `plv8call - define and invoke JavaScript functions against a database

Usage:
  plv8call [options] [call arguments...]

Options:
  -c, --config <path>     Configuration file (YAML)
  -f <path>               Define a function from a JavaScript source file
  -signature <sig>        Signature for -f, e.g. 'concat(a text, b text) returns text'
  -call <name>            Invoke a defined function; arguments follow flags
  -e <source>             Run an anonymous code block
  -principal <name>       Principal to run as (default "default")
  -start-proc <name>      Function run once per namespace on creation
  -modules <dir>          Directory of JavaScript module files
  -watch                  Reload module files when they change
  -storage <backend>      sqlite or postgres
  -dsn <dsn>              Storage DSN (sqlite path or postgres URL)
  -log-level <level>      debug, info, warn, error
  -log-format <format>    text, json
  -h, --help              Show help
  -v, --version           Show version

Examples:
  plv8call -f concat.js -signature 'concat(a text, b text) returns text'
  plv8call -call concat hello world
  plv8call -e 'plv8.elog(NOTICE, "hi")'
`)
}
