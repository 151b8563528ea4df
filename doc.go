// Package vigil maintains a locally cached, continuously refreshed view of a
// hierarchical key-value namespace exposed over long-poll watch sessions,
// and surfaces change notifications plus a health signal to application
// code.
//
// # Keeper
//
// The core type is Keeper. It opens a Session against a Source, builds an
// immutable Snapshot from every fetch, and runs the watch lifecycle:
//
//	Start → initial fetch (deadline-bounded) → changes rebuild the snapshot
//	      → errors degrade health, a probe detects silent recovery
//	      → session end restarts the watch until Stop
//
// "Data changed" and "the watch is degraded" are independent signals: a
// session can be active, initialized, and unhealthy at once while the
// recovery probe runs.
//
// # Snapshots
//
// A Snapshot maps record keys to values plus the full metadata the service
// attached to each record. Snapshots are immutable; every change produces a
// new one. Malformed records and, when value decoding is enabled,
// undecodable values are dropped and reported as diagnostics through error
// listeners, never fatally.
//
// # Sources
//
// The Source interface abstracts the watched service. The consul
// sub-package implements it over Consul KV blocking queries; FileSource
// watches a local JSON batch file; ChannelSession scripts sessions for
// tests.
//
// # Notifications
//
// Listeners register before Start: OnChanged, OnHealthy, OnUnhealthy,
// OnError. The change callback given to New runs inside a pipz pipeline and
// can be wrapped with WithRetry, WithTimeout, WithCircuitBreaker, and
// friends. Every transition also emits a capitan signal for unbounded
// observability fan-out.
//
// # Example
//
//	client, _ := api.NewClient(api.DefaultConfig())
//
//	keeper := vigil.New(
//	    consul.New(client, "config/myapp/"),
//	    func(ctx context.Context, prev, curr vigil.Snapshot) error {
//	        log.Printf("config changed: %d keys", curr.Len())
//	        return app.Reconfigure(curr)
//	    },
//	).DecodeValues(vigil.JSONCodec{}).
//	    OnUnhealthy(func(context.Context) { log.Println("watch degraded") })
//
//	snap, err := keeper.Start(ctx)
//	if err != nil {
//	    log.Fatalf("initial fetch failed: %v", err)
//	}
//	defer keeper.Stop()
package vigil
