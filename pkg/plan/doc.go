/*
Package plan defines the query plan algebra of spec.md §4.2 — TableScan,
Filter, Project, Sort, NestedLoopJoin, Insert, Update, Delete, CreateTable,
DropTable — and the boolean condition tree (WhereCondition,
LogicalCondition, ColumnReference) pkg/sql builds and pkg/executor walks.
Condition semantics are grounded on original_source's
QueryProcessor/models/conditions.py.
*/
package plan
