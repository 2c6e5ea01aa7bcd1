// Package app composes the avatar registry services into a running
// application.
//
// The layers stack bottom-up:
//
//	internal/app/
//	├── application.go      # wiring and lifecycle
//	├── domain/             # pure data models (component, avatar, subaccount, payment)
//	├── storage/            # store interfaces plus memory and postgres backends
//	├── services/           # business logic (templates, components, avatars, ...)
//	├── httpapi/            # REST handlers and the audit trail
//	├── system/             # service lifecycle manager and health snapshot
//	└── metrics/            # prometheus registry and instrumentation
//
// Domain models carry no behavior beyond trivial accessors; validation and
// authorization live in the services. Storage backends implement the compound
// operations (supply reservation, equip change-sets, balance transfers)
// atomically so services stay free of locking concerns.
package app
