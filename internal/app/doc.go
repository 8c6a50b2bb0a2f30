// Package app composes the mutual-aid services into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models and pure rules
//	│   ├── post/           # Posts, feed filter/sort, enum catalogs
//	│   ├── exchange/       # Exchange roles and the transition table
//	│   ├── profile/        # Profiles and profile patches
//	│   └── verification/   # Verification requests
//	├── storage/            # Store interfaces and the gateway-backed Store
//	├── services/           # Operations over stores, cache and logging
//	├── cache/              # Read-through cache (memory, redis)
//	├── watch/              # Change feed to cache invalidation
//	├── jobs/               # Cron maintenance jobs
//	├── httpapi/            # gorilla/mux routes and handlers
//	├── system/             # Service lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/mutualaid/ ──► httpapi
//	      │               │
//	      ▼               ▼
//	internal/app/ (composition)
//	      │
//	      ├──► services ──► domain
//	      │        │
//	      │        └──► storage ──► internal/gateway (supabase, postgres, memory)
//	      │
//	      └──► watch, jobs ──► system
//
// Domain packages import nothing from storage or services. Services never
// retry gateway failures; they surface them as gateway errors.
package app
