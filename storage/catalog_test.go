package storage

import (
	"context"
	"strings"
	"testing"
)

func newTestCatalog(t *testing.T) (*Catalog, *DB) {
	t.Helper()
	db, err := NewInMemoryDB(nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cat, err := NewCatalog(context.Background(), db, nil)
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	return cat, db
}

func TestCatalogDefineAndLookup(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	oid, err := cat.Define(ctx, FunctionDef{
		Name:     "add",
		Source:   "return a + b;",
		ArgNames: []string{"a", "b"},
		ArgTypes: []TypeID{TypeInt4, TypeInt4},
		RetType:  TypeInt4,
		Owner:    "alice",
	})
	if err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	if oid <= 0 {
		t.Fatalf("Define returned oid %d", oid)
	}

	meta, err := cat.Lookup(ctx, oid)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if meta.Name != "add" || meta.RetType != TypeInt4 {
		t.Errorf("unexpected meta: %+v", meta)
	}
	if len(meta.ArgNames) != 2 || meta.ArgNames[0] != "a" {
		t.Errorf("arg names not preserved: %v", meta.ArgNames)
	}
	if meta.Version != 1 {
		t.Errorf("new definition should have version 1, got %d", meta.Version)
	}
}

func TestCatalogLookupMissing(t *testing.T) {
	cat, _ := newTestCatalog(t)

	_, err := cat.Lookup(context.Background(), 9999)
	if err == nil {
		t.Fatal("expected lookup failure")
	}
	if !strings.Contains(err.Error(), "cache lookup failed for function 9999") {
		t.Errorf("unexpected error text: %v", err)
	}
}

func TestCatalogReplaceBumpsFingerprint(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	def := FunctionDef{
		Name:    "f",
		Source:  "return 1;",
		RetType: TypeInt4,
		Owner:   "alice",
	}
	oid, err := cat.Define(ctx, def)
	if err != nil {
		t.Fatalf("Define failed: %v", err)
	}

	before, err := cat.Lookup(ctx, oid)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	def.Source = "return 2;"
	oid2, err := cat.Replace(ctx, def)
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if oid2 != oid {
		t.Fatalf("Replace changed oid: %d -> %d", oid, oid2)
	}

	after, err := cat.Lookup(ctx, oid)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if after.Source != "return 2;" {
		t.Errorf("source not replaced: %q", after.Source)
	}
	if after.Version <= before.Version {
		t.Errorf("version should advance: %d -> %d", before.Version, after.Version)
	}
	if after.Location <= before.Location {
		t.Errorf("location should advance: %d -> %d", before.Location, after.Location)
	}

	fpBefore := before.CurrentFingerprint("alice")
	fpAfter := after.CurrentFingerprint("alice")
	if fpBefore.Equal(fpAfter) {
		t.Error("fingerprints should differ after replace")
	}
}

func TestCatalogFingerprintOwnerIsPrincipal(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	oid, err := cat.Define(ctx, FunctionDef{Name: "g", Source: "return 0;", RetType: TypeInt4})
	if err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	meta, err := cat.Lookup(ctx, oid)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	if meta.CurrentFingerprint("alice").Equal(meta.CurrentFingerprint("bob")) {
		t.Error("fingerprints for different principals should differ")
	}
}

func TestCatalogLookupByNameStripsSignature(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	if _, err := cat.Define(ctx, FunctionDef{Name: "concat", Source: "return a + b;", RetType: TypeText}); err != nil {
		t.Fatalf("Define failed: %v", err)
	}

	for _, name := range []string{"concat", "concat(text, text)"} {
		meta, err := cat.LookupByName(ctx, name)
		if err != nil {
			t.Fatalf("LookupByName(%q) failed: %v", name, err)
		}
		if meta.Name != "concat" {
			t.Errorf("LookupByName(%q) = %q", name, meta.Name)
		}
	}
}

func TestCatalogDrop(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	oid, err := cat.Define(ctx, FunctionDef{Name: "gone", Source: "return 0;", RetType: TypeInt4})
	if err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	if err := cat.Drop(ctx, "gone"); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	if _, err := cat.Lookup(ctx, oid); err == nil {
		t.Error("lookup after drop should fail")
	}
}

func TestCatalogTriggerDetection(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	oid, err := cat.Define(ctx, FunctionDef{Name: "audit", Source: "return;", RetType: TypeTrigger})
	if err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	meta, err := cat.Lookup(ctx, oid)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !meta.IsTrigger() {
		t.Error("trigger-returning function should report IsTrigger")
	}
}
