// Package database routes model types to database configurations and owns
// one connection manager per configuration, together with its query hooks,
// change notifier, logging facade and SQL error classification. All of it is
// built on top of Bun.
package database
