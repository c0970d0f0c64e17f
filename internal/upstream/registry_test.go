package upstream_test

import (
	"testing"
	"time"

	"github.com/tbury/scatter/internal/search"
	"github.com/tbury/scatter/internal/token"
	"github.com/tbury/scatter/internal/upstream"
)

func staticReplica(value string) search.ReplicaFunc {
	return func(_ *token.Token, _ string) ([]byte, error) {
		return []byte(value), nil
	}
}

func TestRegisterAndResolve(t *testing.T) {
	reg := upstream.NewRegistry()
	reg.Register("web", staticReplica("a"), staticReplica("b"))

	b, err := reg.Resolve("web")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.Name != "web" {
		t.Errorf("Name = %q, want web", b.Name)
	}
	if len(b.Replicas) != 2 {
		t.Errorf("len(Replicas) = %d, want 2", len(b.Replicas))
	}
}

func TestResolveUnknownGroup(t *testing.T) {
	reg := upstream.NewRegistry()

	if _, err := reg.Resolve("nonexistent"); err == nil {
		t.Error("Resolve of unknown group should fail")
	}
}

func TestBranchesAllGroupsInRegistrationOrder(t *testing.T) {
	reg := upstream.NewRegistry()
	reg.Register("web", staticReplica("w"))
	reg.Register("images", staticReplica("i"))
	reg.Register("news", staticReplica("n"))

	branches, err := reg.Branches()
	if err != nil {
		t.Fatalf("Branches: %v", err)
	}
	got := make([]string, len(branches))
	for i, b := range branches {
		got[i] = b.Name
	}
	want := []string{"web", "images", "news"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("branch order = %v, want %v", got, want)
		}
	}
}

func TestBranchesSubset(t *testing.T) {
	reg := upstream.NewRegistry()
	reg.Register("web", staticReplica("w"))
	reg.Register("news", staticReplica("n"))

	branches, err := reg.Branches("news")
	if err != nil {
		t.Fatalf("Branches: %v", err)
	}
	if len(branches) != 1 || branches[0].Name != "news" {
		t.Errorf("branches = %v, want [news]", branches)
	}

	if _, err := reg.Branches("news", "bogus"); err == nil {
		t.Error("Branches with unknown name should fail")
	}
}

func TestRegisterReplacesKeepsOrder(t *testing.T) {
	reg := upstream.NewRegistry()
	reg.Register("web", staticReplica("w"))
	reg.Register("news", staticReplica("n"))
	reg.Register("web", staticReplica("w1"), staticReplica("w2"))

	infos := reg.List()
	if len(infos) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(infos))
	}
	if infos[0].Name != "web" || infos[0].Replicas != 2 {
		t.Errorf("List()[0] = %+v, want web with 2 replicas", infos[0])
	}
	if infos[1].Name != "news" {
		t.Errorf("List()[1] = %+v, want news", infos[1])
	}
}

func TestResolvedBranchRacesUnderOrchestrator(t *testing.T) {
	reg := upstream.NewRegistry()
	reg.Register("web", staticReplica("hello"))

	branches, err := reg.Branches()
	if err != nil {
		t.Fatalf("Branches: %v", err)
	}

	root := token.NewRoot(time.Now().Add(time.Second))
	defer root.Cancel(token.ReasonExplicit)

	value, err := branches[0].Replicas[0](root, "term")
	if err != nil {
		t.Fatalf("replica call: %v", err)
	}
	if string(value) != "hello" {
		t.Errorf("value = %q, want hello", value)
	}
}
