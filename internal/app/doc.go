// Package app composes the booking service layer into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── user/           # Registered users
//	│   ├── booking/        # Bookings owned by users
//	│   └── session/        # Login sessions
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # UserStore, BookingStore, SessionStore
//	│   ├── memory/         # In-memory implementation for tests and local runs
//	│   ├── postgres/       # PostgreSQL implementation (sqlx + lib/pq)
//	│   └── redis/          # Redis session store
//	├── services/           # Business rules (users, bookings, sessions)
//	├── httpapi/            # HTTP handlers, routing and auth
//	├── system/             # Lifecycle manager for background services
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/bookly/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/app/storage/ (interfaces)
//	      │
//	      └──► internal/app/storage/{memory,postgres,redis}
//
// # Adding a New Domain
//
//  1. Create the model in internal/app/domain/<name>/
//  2. Add a store interface to internal/app/storage/interfaces.go
//  3. Implement it in storage/memory and storage/postgres
//  4. Create the service in internal/app/services/<name>/
//  5. Wire it in application.go
//  6. Add routes in internal/app/httpapi/
package app
