package assistant

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cexll/assisthub-go/pkg/model"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	backend, err := NewFileBackend(root)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	store, err := NewStore(backend, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return store, root
}

func TestStoreLoadMissingFile(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	agents, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if agents != nil {
		t.Fatalf("expected empty collection, got %v", agents)
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	a := New("Travel Planner", "You plan trips.")
	a.Turns = []Turn{{
		Display:    DisplayMessage{Role: "user", Content: "hi"},
		Completion: model.Message{Role: model.RoleUser, Content: "hi"},
	}}
	if err := store.Save([]*Assistant{a}); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != a.ID || loaded[0].Title != "Travel Planner" {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if len(loaded[0].Turns) != 1 || loaded[0].Turns[0].Completion.Content != "hi" {
		t.Fatalf("turns lost: %+v", loaded[0].Turns)
	}
}

func TestStoreRejectsIncompatibleVersion(t *testing.T) {
	t.Parallel()
	store, root := newTestStore(t)
	doc := `{"version":"v2.0.0","agents":[]}`
	if err := os.WriteFile(filepath.Join(root, collectionFile), []byte(doc), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestStoreRoundTripsTitleSettings(t *testing.T) {
	t.Parallel()
	store, root := newTestStore(t)
	doc := `{"version":"v1.2.0","agents":[],"titleSettings":{"color":"teal"}}`
	if err := os.WriteFile(filepath.Join(root, collectionFile), []byte(doc), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := store.Save(nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, collectionFile))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(data), `"color": "teal"`) {
		t.Fatalf("titleSettings dropped:\n%s", data)
	}
}

func TestStoreExportStripsHistory(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	a := New("Coder", "You write code.")
	a.Turns = []Turn{{Display: DisplayMessage{Role: "user", Content: "secret chat"}}}

	var partial bytes.Buffer
	if err := store.Export(&partial, []*Assistant{a}, false); err != nil {
		t.Fatalf("export: %v", err)
	}
	if strings.Contains(partial.String(), "secret chat") {
		t.Fatal("partial export must strip turns")
	}
	if len(a.Turns) != 1 {
		t.Fatal("export must not mutate the live assistant")
	}

	var full bytes.Buffer
	if err := store.Export(&full, []*Assistant{a}, true); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(full.String(), "secret chat") {
		t.Fatal("full export must keep turns")
	}
}

func TestStoreDeleteCascadesKnowledge(t *testing.T) {
	t.Parallel()
	store, root := newTestStore(t)
	a := New("Reader", "")
	src := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(src, []byte("facts"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	stored, err := store.CopyKnowledgeFile(a.ID, src)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	a.KnowledgeFiles = []string{stored}
	b := New("Keeper", "")
	kept, err := store.Delete([]*Assistant{a, b}, a.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(kept) != 1 || kept[0].ID != b.ID {
		t.Fatalf("wrong survivors: %+v", kept)
	}
	if _, err := os.Stat(filepath.Join(root, stored)); !os.IsNotExist(err) {
		t.Fatalf("knowledge file must be gone, stat err = %v", err)
	}
	if _, err := store.Delete(kept, "nope"); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestStoreSaveImage(t *testing.T) {
	t.Parallel()
	store, root := newTestStore(t)
	p, err := store.SaveImage([]byte{0x89, 0x50, 0x4e, 0x47})
	if err != nil {
		t.Fatalf("save image: %v", err)
	}
	if !strings.HasPrefix(p, "images/") || !strings.HasSuffix(p, ".png") {
		t.Fatalf("unexpected stored path %q", p)
	}
	if _, err := os.Stat(filepath.Join(root, p)); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
}

func TestKnowledgeFileBase64(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	src := filepath.Join(t.TempDir(), "doc.md")
	if err := os.WriteFile(src, []byte("# heading"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	stored, err := store.CopyKnowledgeFile("id-1", src)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	encoded, err := store.ReadKnowledgeFile(stored)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if encoded != "IyBoZWFkaW5n" {
		t.Fatalf("base64 mismatch: %q", encoded)
	}
}

func TestBackendRejectsEscapingPaths(t *testing.T) {
	t.Parallel()
	backend, err := NewFileBackend(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	if err := backend.Write("../outside.json", []byte("x")); err == nil {
		t.Fatal("expected path escape rejection")
	}
	// A sibling directory sharing the root as a name prefix is still an
	// escape.
	if err := backend.Write("../storec/data.json", []byte("x")); err == nil {
		t.Fatal("expected sibling-prefix rejection")
	}
	if err := backend.Write("collection.json", []byte("{}")); err != nil {
		t.Fatalf("in-root write must succeed: %v", err)
	}
}

func TestAssistantCloneIsDeep(t *testing.T) {
	t.Parallel()
	a := New("Base", "prompt")
	a.Turns = []Turn{{Display: DisplayMessage{Role: "user", Content: "one"}}}
	cp := a.Clone()
	cp.Turns[0].Display.Content = "changed"
	cp.Turns = append(cp.Turns, Turn{})
	if a.Turns[0].Display.Content != "one" || len(a.Turns) != 1 {
		t.Fatalf("clone aliases the original: %+v", a.Turns)
	}
}

func TestRosterFind(t *testing.T) {
	t.Parallel()
	first := New("Travel Planner", "")
	dupe := New("travel planner", "")
	roster := Roster{first, dupe, New("Coder", "")}
	if got := roster.Find("  TRAVEL PLANNER "); got != first {
		t.Fatalf("expected first collection-order match, got %+v", got)
	}
	if roster.Find("unknown") != nil {
		t.Fatal("unknown title must miss")
	}
	if roster.ByID(dupe.ID) != dupe {
		t.Fatal("ByID miss")
	}
}

func TestCollectionJSONShape(t *testing.T) {
	t.Parallel()
	store, root := newTestStore(t)
	if err := store.Save([]*Assistant{New("A", "p")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, collectionFile))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := doc["agents"]; !ok {
		t.Fatalf("missing agents key:\n%s", data)
	}
	if string(doc["version"]) != `"v1.0.0"` {
		t.Fatalf("version: %s", doc["version"])
	}
}
