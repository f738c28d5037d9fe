package devservice

import (
	"context"
	"errors"
	"testing"

	"github.com/greatliontech/integresql-dev/internal/container/containertest"
)

func TestResolvePrivate(t *testing.T) {
	ctx := context.Background()
	eng := containertest.New()
	labels := RunLabels("it", "run-1")

	topo, err := ResolveTopology(ctx, eng, TopologyRequest{ServiceName: "it", Labels: labels})
	if err != nil {
		t.Fatalf("ResolveTopology failed: %v", err)
	}
	if topo.Mode != Private || !topo.Owned() {
		t.Fatalf("expected owned private network, got %s owned=%v", topo.Mode, topo.Owned())
	}
	if topo.CompanionAlias != "it" || topo.DatabaseAlias != "it-db" {
		t.Errorf("unexpected aliases %q %q", topo.CompanionAlias, topo.DatabaseAlias)
	}
	if topo.SharedAlias("it") != "" {
		t.Error("private topology has no shared alias")
	}

	inv, _ := eng.Inventory(ctx, labels)
	if len(inv.Networks) != 1 || inv.Networks[0] != topo.Network {
		t.Errorf("network not labelled: %+v", inv)
	}

	if err := topo.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := topo.Release(ctx); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}
	if n := eng.Count(containertest.NetworkRemove, topo.Network); n != 1 {
		t.Errorf("expected one removal, got %d", n)
	}
}

func TestResolveShared(t *testing.T) {
	ctx := context.Background()
	eng := containertest.New()
	eng.SharedNetworks = []string{"devnet"}

	topo, err := ResolveTopology(ctx, eng, TopologyRequest{Shared: true, SharedNetwork: "devnet", ServiceName: "it"})
	if err != nil {
		t.Fatalf("ResolveTopology failed: %v", err)
	}
	if topo.Mode != Shared || topo.Owned() || topo.Network != "devnet" {
		t.Fatalf("unexpected topology %+v", topo)
	}
	if topo.SharedAlias("it") != "it" {
		t.Error("shared topology reports the alias")
	}
	if err := topo.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if len(eng.Events()) != 0 {
		t.Errorf("shared network must not be touched: %v", eng.Kinds())
	}
}

func TestResolveErrors(t *testing.T) {
	ctx := context.Background()
	eng := containertest.New()
	eng.CreateNetworkErr = errors.New("address pool exhausted")

	if _, err := ResolveTopology(ctx, eng, TopologyRequest{}); err == nil {
		t.Error("expected error without service name")
	}
	if _, err := ResolveTopology(ctx, eng, TopologyRequest{ServiceName: "it", Shared: true, SharedNetwork: "missing"}); err == nil {
		t.Error("expected error for missing shared network")
	}
	if _, err := ResolveTopology(ctx, eng, TopologyRequest{ServiceName: "it"}); !errors.Is(err, eng.CreateNetworkErr) {
		t.Errorf("expected create error, got %v", err)
	}
}
