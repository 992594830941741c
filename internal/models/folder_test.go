package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestFolderPath_RoundTrip(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	t.Run("string form is slash joined", func(t *testing.T) {
		path := FolderPath{a, b}
		want := a.String() + "/" + b.String()
		if got := path.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})

	t.Run("empty path is the empty string", func(t *testing.T) {
		if got := FolderPath(nil).String(); got != "" {
			t.Errorf("expected empty string, got %q", got)
		}
	})

	t.Run("parse inverts string", func(t *testing.T) {
		original := FolderPath{a, b}
		parsed, err := ParseFolderPath(original.String())
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if len(parsed) != 2 || parsed[0] != a || parsed[1] != b {
			t.Errorf("round trip lost data: %v", parsed)
		}
	})

	t.Run("parse rejects garbage segments", func(t *testing.T) {
		if _, err := ParseFolderPath("not-a-uuid/also-bad"); err == nil {
			t.Error("expected an error for invalid segments")
		}
	})

	t.Run("scan handles string bytes and nil", func(t *testing.T) {
		var p FolderPath
		if err := p.Scan(a.String()); err != nil || len(p) != 1 {
			t.Errorf("string scan failed: %v %v", err, p)
		}
		if err := p.Scan([]byte(a.String() + "/" + b.String())); err != nil || len(p) != 2 {
			t.Errorf("bytes scan failed: %v %v", err, p)
		}
		if err := p.Scan(nil); err != nil || p != nil {
			t.Errorf("nil scan failed: %v %v", err, p)
		}
		if err := p.Scan(42); err == nil {
			t.Error("expected an error scanning an int")
		}
	})
}

func TestFolderPath_Child(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	parent := FolderPath{a}
	child := parent.Child(b)

	if len(child) != 2 || child[0] != a || child[1] != b {
		t.Fatalf("unexpected child path %v", child)
	}
	if len(parent) != 1 {
		t.Errorf("child must not mutate the parent path, got %v", parent)
	}
	if !child.Contains(a) || !child.Contains(b) || child.Contains(uuid.New()) {
		t.Error("contains gave wrong answers")
	}
}

func TestFolder_SubtreePrefix(t *testing.T) {
	a := uuid.New()
	folder := Folder{BaseModel: BaseModel{ID: uuid.New()}, Path: FolderPath{a}}

	want := a.String() + "/" + folder.ID.String()
	if got := folder.SubtreePrefix(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	root := Folder{BaseModel: BaseModel{ID: uuid.New()}}
	if got := root.SubtreePrefix(); got != root.ID.String() {
		t.Errorf("expected bare id for a root, got %q", got)
	}
	if !root.IsRoot() {
		t.Error("folder without parent should be a root")
	}
}
