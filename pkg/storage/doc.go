/*
Package storage implements the Storage Facade of spec.md §4: CreateTable,
DropTable, ReadTable, InsertRow, UpdateRow and DeleteRow over a single
embedded bbolt database, one bucket per table plus a JSON catalog bucket.
Row values are packed per spec.md §6 (INT/FLOAT as 4-byte LE, CHAR(n)
NUL-padded, VARCHAR(n) length-prefixed) behind a leading delete-flag byte;
Update and Delete never mutate a row's bytes in place — they tombstone the
old version and, for Update, append a replacement under a fresh row id.
*/
package storage
