/*
Package wal implements the write-ahead log and redo-only recovery
contract of spec.md §4.4: an append-only NDJSON file of START/OP/COMMIT/
ABORT/CHECKPOINT records with monotonic LSNs, fsync'd on Flush, and a
Recover function that redoes OP records since the last checkpoint for
every transaction that committed and was never later aborted.
*/
package wal
