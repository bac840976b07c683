// Package history keeps a SQLite record of finished jobs: file name, size
// class, plan, measured output and status. Uploaded and encoded media are
// never written here.
//
// The database runs in WAL mode and creates its schema on Open. Records are
// pruned by age with Prune.
package history
