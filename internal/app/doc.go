// Package app composes the slot pool services into a running application.
//
// # Architecture Role
//
// The app package wires domain services to storage and manages their
// lifecycle. It is NOT a business logic layer - business logic belongs in
// internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, lifecycle, seeding
//	├── domain/             # Domain models (pure data structures)
//	│   ├── slot/           # Numbered slot reservations
//	│   ├── pool/           # Pool configuration singleton
//	│   └── snapshot/       # Snapshot generation metadata
//	├── storage/            # Store interfaces, change feed, group partitioning
//	│   ├── memory/         # In-memory implementation (default, tests)
//	│   ├── postgres/       # PostgreSQL implementation
//	│   └── redis/          # Redis implementation (keyed-string layout)
//	├── services/           # Business logic
//	│   ├── allocation/     # Atomic multi-slot reservation, toggle, release
//	│   ├── bulkops/        # Group-bounded bulk mutations
//	│   ├── winner/         # Random draw over the paid subset
//	│   ├── archive/        # Snapshot generation, browsing, CSV export, cron
//	│   ├── poolview/       # Stats and listings from a change-fed projection
//	│   └── poolconfig/     # Validated configuration saves
//	├── httpapi/            # REST handlers, middleware, audit trail
//	├── system/             # Service lifecycle manager
//	├── runtime/            # Config-to-server composition for cmd/server
//	└── metrics/            # Prometheus registry and instruments
//
// # Dependency Direction
//
//	cmd/server/
//	      │
//	      ▼
//	internal/app/runtime (composition)
//	      │
//	      ├──► internal/app (wiring, lifecycle)
//	      │           │
//	      │           ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/app/storage/ (persistence)
//	      │
//	      ├──► internal/config (environment, seed file)
//	      │
//	      └──► internal/platform/ (database handle, migrations)
//
// Services depend on store interfaces, never on concrete backends; the
// backends are selected in runtime from configuration.
package app
