// Package burrow offers query, persist, group and stream helpers for plain
// Go structs stored through Bun. Each model type is routed to a database
// configuration by the database package; unbound models use a local sqlite
// file.
package burrow
