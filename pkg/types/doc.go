/*
Package types defines the core data structures shared across ledger.

This package holds the domain model that every other package depends on:
the scalar Value representation, row sets, transaction bookkeeping, WAL
log records and the table schema/column types used by the storage facade
and the SQL dialect.

# Core Types

Values:
  - Value: a tagged union over Int, Float, Text and Null, the only scalar
    types the dialect supports.
  - Rows: an ordered column list plus an ordered list of ordered Value rows.

Transactions:
  - Transaction: identity, timestamp, status and read/write sets. Owned
    and mutated exclusively by a pkg/ccm manager; other packages only read
    it through the manager's API.
  - TransactionStatus: the six-state DAG from ACTIVE to TERMINATED.

Write-ahead log:
  - LogRecord: one WAL entry (START/OP/COMMIT/ABORT/CHECKPOINT).

Schema:
  - Column, ColumnKind: the four supported column types (INT, FLOAT,
    CHAR(n), VARCHAR(n)) and the table schema they compose into.

# See Also

  - pkg/ccm for the concurrency-control protocols that own Transaction
  - pkg/storage for how Column/ColumnKind map onto the packed row encoding
  - pkg/wal for LogRecord persistence
*/
package types
