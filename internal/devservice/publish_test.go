package devservice

import (
	"context"
	"errors"
	"testing"

	"github.com/greatliontech/integresql-dev/internal/container"
	"github.com/greatliontech/integresql-dev/internal/container/containertest"
	"github.com/greatliontech/integresql-dev/internal/util"
)

func startPair(t *testing.T, eng *containertest.Engine) (db, companion *container.Handle) {
	t.Helper()
	ctx := context.Background()
	opt := container.WithLogger(discard)
	db = container.NewHandle(eng, container.Spec{Name: "postgres", Image: "postgres", Port: PostgresPort}, opt)
	companion = container.NewHandle(eng, container.Spec{Name: "integresql", Image: "integresql", Port: IntegreSQLPort}, opt)
	if err := db.Start(ctx); err != nil {
		t.Fatalf("db Start failed: %v", err)
	}
	if err := companion.Start(ctx); err != nil {
		t.Fatalf("companion Start failed: %v", err)
	}
	return db, companion
}

var creds = Credentials{Username: "dbuser", Password: "dbpass", Database: "integresql-db"}

func TestPublish(t *testing.T) {
	db, companion := startPair(t, containertest.New())

	conf, err := Publish(db, companion, Facts{Credentials: creds})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if conf.BaseURL() != "http://localhost:32769/api" {
		t.Errorf("unexpected base-url %q", conf.BaseURL())
	}
	if conf.APIVersion() != "v1" || conf.DBHost() != "localhost" || conf.DBPort() != 32768 {
		t.Errorf("unexpected config %v", conf.Map())
	}
	if conf.Credentials() != creds {
		t.Errorf("unexpected credentials %+v", conf.Credentials())
	}

	m := conf.Map()
	m[KeyDBHost] = "changed"
	if conf.DBHost() != "localhost" {
		t.Error("Map must return a copy")
	}
}

func TestPublishHostOverride(t *testing.T) {
	db, companion := startPair(t, containertest.New())

	conf, err := Publish(db, companion, Facts{HostOverride: util.Some("db.example"), Credentials: creds})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if conf.DBHost() != "db.example" {
		t.Errorf("expected override, got %q", conf.DBHost())
	}
}

func TestPublishIPv6Host(t *testing.T) {
	eng := containertest.New()
	eng.HostName = "::1"
	db, companion := startPair(t, eng)

	conf, err := Publish(db, companion, Facts{Credentials: creds})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if conf.BaseURL() != "http://[::1]:32769/api" {
		t.Errorf("unexpected base-url %q", conf.BaseURL())
	}
}

func TestPublishRequiresReadyContainers(t *testing.T) {
	eng := containertest.New()
	db, companion := startPair(t, eng)
	if err := companion.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	conf, err := Publish(db, companion, Facts{Credentials: creds})
	if !errors.Is(err, ErrConfigPublication) {
		t.Fatalf("expected ErrConfigPublication, got %v", err)
	}
	if len(conf.Map()) != 0 {
		t.Error("no partial config may be returned")
	}
}

func TestPublishRequiresCredentials(t *testing.T) {
	db, companion := startPair(t, containertest.New())
	if _, err := Publish(db, companion, Facts{}); !errors.Is(err, ErrConfigPublication) {
		t.Fatalf("expected ErrConfigPublication, got %v", err)
	}
}
