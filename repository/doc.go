// Package repository provides generic helpers built on Bun for querying,
// persisting, deleting and grouping models, auto-increment key assignment,
// one-shot asynchronous callbacks and change streams.
package repository
