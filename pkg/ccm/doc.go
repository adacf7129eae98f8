/*
Package ccm implements the three pluggable concurrency-control protocols
(spec.md §4.1): Lock-Based 2PL with Wait-Die (lock.go), Timestamp-Ordering
with the Thomas Write Rule (timestamp.go), and Backward-Validation OCC
(validation.go). All three satisfy the Manager interface in base.go and
share a transaction table and Wait/Wake Registry (waitevent.go).

New selects one variant at process start via --protocol; ledger never
mixes protocols within a single server instance.
*/
package ccm
