package consul

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/testcontainers/testcontainers-go"
	tcconsul "github.com/testcontainers/testcontainers-go/modules/consul"

	"github.com/zoobzio/vigil"
)

func setupConsul(t *testing.T) *api.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcconsul.Run(ctx, "consul:1.15")
	if err != nil {
		t.Fatalf("failed to start consul container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ApiEndpoint(ctx)
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	client, err := api.NewClient(&api.Config{
		Address: endpoint,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	return client
}

func put(t *testing.T, client *api.Client, key, value string) {
	t.Helper()
	if _, err := client.KV().Put(&api.KVPair{Key: key, Value: []byte(value)}, nil); err != nil {
		t.Fatalf("failed to put %s: %v", key, err)
	}
}

func TestWatcher_EmitsInitialBatch(t *testing.T) {
	client := setupConsul(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	put(t, client, "config/app/name", "orders")
	put(t, client, "config/app/port", "8080")

	watcher := New(client, "config/app/")
	sess, err := watcher.Open(ctx)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer sess.Close()

	select {
	case c := <-sess.Changes():
		batch, ok := c.Data.([]any)
		if !ok || len(batch) != 2 {
			t.Fatalf("expected a 2-record batch, got %v", c.Data)
		}
		if c.Meta["X-Consul-Index"] == "" || c.Meta["X-Consul-Index"] == "0" {
			t.Errorf("expected a consul index header, got %v", c.Meta)
		}
		if sess.UpdateTime().IsZero() {
			t.Error("expected the update time stamped")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for initial batch")
	}
}

func TestWatcher_EmitsOnChange(t *testing.T) {
	client := setupConsul(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	put(t, client, "config/app/port", "8080")

	watcher := New(client, "config/app/", WithWait(10*time.Second))
	sess, err := watcher.Open(ctx)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer sess.Close()

	select {
	case <-sess.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for initial batch")
	}

	put(t, client, "config/app/port", "9090")

	select {
	case c := <-sess.Changes():
		batch := c.Data.([]any)
		rec := batch[0].(map[string]any)
		if rec["Value"] != "9090" {
			t.Errorf("expected the updated value, got %v", rec["Value"])
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for change")
	}
}

func TestWatcher_CloseEndsSession(t *testing.T) {
	client := setupConsul(t)

	watcher := New(client, "config/app/")
	sess, err := watcher.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	sess.Close()
	sess.Close()

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for session termination")
	}
}

func TestWatcher_EmptyPrefix(t *testing.T) {
	watcher := New(nil, "")
	if _, err := watcher.Open(context.Background()); err == nil {
		t.Fatal("expected an error for an empty prefix")
	}
}

func TestWatcher_KeeperIntegration(t *testing.T) {
	client := setupConsul(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	put(t, client, "config/app/name", `"orders"`)
	put(t, client, "config/app/settings", `{"port": 8080}`)

	changed := make(chan vigil.Snapshot, 4)
	keeper := vigil.New(New(client, "config/app/", WithWait(10*time.Second)), nil).
		DecodeValues(vigil.JSONCodec{}).
		StartupTimeout(15 * time.Second).
		OnChanged(func(_ context.Context, snap vigil.Snapshot) {
			changed <- snap
		})
	defer keeper.Stop()

	snap, err := keeper.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !snap.Has("config/app/name") {
		t.Errorf("expected the seeded keys, got %v", snap.Keys())
	}
	settings, _ := snap.Value("config/app/settings")
	if decoded, ok := settings.(map[string]any); !ok || decoded["port"] != float64(8080) {
		t.Errorf("expected decoded settings, got %v", settings)
	}
	if keeper.Headers()["x-consul-index"] == "" {
		t.Errorf("expected the consul index header captured, got %v", keeper.Headers())
	}

	put(t, client, "config/app/settings", `{"port": 9090}`)

	select {
	case snap := <-changed:
		settings, _ := snap.Value("config/app/settings")
		if decoded, ok := settings.(map[string]any); !ok || decoded["port"] != float64(9090) {
			t.Errorf("expected the updated settings, got %v", settings)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("timeout waiting for the change")
	}
}
