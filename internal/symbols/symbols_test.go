package symbols

import (
	"os"
	"path/filepath"
	"testing"
)

func mustWrite(t *testing.T, dir, name, data string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSortAndFormatEntries(t *testing.T) {
	entries := []Entry{
		{File: "b.go", Line: 10, Name: "Beta", Kind: "function", Language: "Go"},
		{File: "a.go", Line: 5, Name: "Alpha", Kind: "struct", Language: "Go"},
		{File: "a.go", Line: 1, Name: "pkg", Kind: "package"},
	}
	sortEntries(entries)
	if entries[0].Name != "pkg" || entries[1].Name != "Alpha" || entries[2].Name != "Beta" {
		t.Fatalf("unexpected order: %+v", entries)
	}

	out := formatEntries(entries)
	want := "a.go:\n  - package pkg (line 1)\n  - struct [Go] Alpha (line 5)\n\nb.go:\n  - function [Go] Beta (line 10)"
	if out != want {
		t.Fatalf("unexpected formatting:\n%s", out)
	}
}

func TestParseCtagsLine(t *testing.T) {
	raw := `{"_type":"tag","name":"Run","path":"exec.go","kind":"func","line":42,"language":"Go"}`
	e, ok := parseCtagsLine(raw, "/tmp/ws")
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if e.Name != "Run" || e.Kind != "func" || e.Line != 42 || e.Language != "Go" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestParseCtagsLineRejectsNonTags(t *testing.T) {
	if _, ok := parseCtagsLine(`{"_type":"ptag","name":"x","path":"y"}`, "/tmp"); ok {
		t.Fatal("ptag records should be skipped")
	}
	if _, ok := parseCtagsLine(`not json`, "/tmp"); ok {
		t.Fatal("garbage should be skipped")
	}
	if _, ok := parseCtagsLine(`{"_type":"tag","name":"","path":"y"}`, "/tmp"); ok {
		t.Fatal("empty name should be skipped")
	}
}

func TestFingerprintChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, dir, "a.go", "package a")
	first := computeFingerprint(dir, []string{"a.go"})
	if first == "" {
		t.Fatal("empty fingerprint")
	}
	mustWrite(t, dir, "b.go", "package b")
	second := computeFingerprint(dir, []string{"a.go", "b.go"})
	if first == second {
		t.Fatal("fingerprint should change when files are added")
	}
	// Order of the input list must not matter.
	if second != computeFingerprint(dir, []string{"b.go", "a.go"}) {
		t.Fatal("fingerprint should be order independent")
	}
}

func TestQueryFilters(t *testing.T) {
	entries := []Entry{
		{File: "api/server.go", Line: 1, Name: "Server", Kind: "struct", Language: "Go"},
		{File: "api/server.go", Line: 20, Name: "ListenAndServe", Kind: "function", Language: "Go"},
		{File: "store/store.go", Line: 3, Name: "Store", Kind: "struct", Language: "Go"},
	}
	got := filterEntries(entries, "serve", "", "function", "", 10)
	if len(got) != 1 || got[0].Name != "ListenAndServe" {
		t.Fatalf("unexpected query result: %+v", got)
	}
	got = filterEntries(entries, "", "store/*", "", "", 10)
	if len(got) != 1 || got[0].Name != "Store" {
		t.Fatalf("unexpected glob result: %+v", got)
	}
	got = filterEntries(entries, "", "", "", "", 2)
	if len(got) != 2 {
		t.Fatalf("max results not honored: %+v", got)
	}
}
