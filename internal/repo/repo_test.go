package repo_test

import (
	"testing"

	"github.com/flashing/seafile/internal/repo"
)

func TestHasHead(t *testing.T) {
	var nilRepo *repo.Repo
	if nilRepo.HasHead() {
		t.Fatal("nil repo reports a head")
	}
	r := &repo.Repo{ID: "r1"}
	if r.HasHead() {
		t.Fatal("headless repo reports a head")
	}
	r.HeadID = "c1"
	if !r.HasHead() {
		t.Fatal("repo with head reports none")
	}
}

func TestNewCrypt(t *testing.T) {
	if c := repo.NewCrypt(nil); c != nil {
		t.Fatal("expected nil crypt for nil repo")
	}
	if c := repo.NewCrypt(&repo.Repo{}); c != nil {
		t.Fatal("expected nil crypt for unencrypted repo")
	}

	r := &repo.Repo{
		Encrypted:  true,
		EncVersion: 2,
		EncKey:     []byte("key"),
		EncIV:      []byte("iv"),
	}
	c := repo.NewCrypt(r)
	if c == nil || c.Version != 2 || string(c.Key) != "key" || string(c.IV) != "iv" {
		t.Fatalf("unexpected crypt %+v", c)
	}
}

func TestEmptyTreeID(t *testing.T) {
	if len(repo.EmptyTreeID) != 40 {
		t.Fatalf("empty tree id must be 40 chars, got %d", len(repo.EmptyTreeID))
	}
}
