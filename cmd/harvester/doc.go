// Package main hosts the harvester entrypoint.
//
// On start the binary loads configuration (file via -config, overridden by
// HARVESTER_* environment variables), opens the store (Postgres when db.dsn is
// set, running embedded migrations first unless db.migrate=false; otherwise an
// in-memory store), and starts the polling loop plus the read-only HTTP server.
//
// Each cycle reads the results feed, persists every new meet, and starts one
// ingestion task per meet after a random delay within the first twenty-fourth
// of the polling interval. Ingestion tasks schedule per-athlete follow-ups on
// the same pool with delays bounded by the next poll. The next poll waits for
// all of them.
//
// SIGINT/SIGTERM stop the loop: tasks still waiting out their delay are
// dropped, tasks already running finish, then the process exits.
//
// Run locally:
//
//	go run ./cmd/harvester -config config.yaml
package main
