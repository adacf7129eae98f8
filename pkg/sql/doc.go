/*
Package sql is the "out-of-scope-but-necessary" lexer/parser collaborator
of SPEC_FULL.md §5: a hand-rolled recursive-descent parser over spec.md
§6's restricted dialect (CREATE TABLE, DROP TABLE, INSERT, UPDATE, DELETE,
SELECT with JOIN/WHERE/ORDER BY/LIMIT), producing pkg/plan trees with no
cost-based optimization.
*/
package sql
