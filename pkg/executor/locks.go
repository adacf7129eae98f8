package executor

import (
	"sort"

	"github.com/cuemby/ledger/pkg/ccm"
	"github.com/cuemby/ledger/pkg/plan"
)

// collectTables walks node, returning the set of tables it touches mapped
// to the strongest Action required (Write dominates Read). Used ahead of
// execution to acquire locks in the deterministic order spec.md §4.2
// mandates: "sorted alphabetically by table name, irrespective of the
// order they appear in the query."
func collectTables(node plan.Node) map[string]ccm.Action {
	tables := make(map[string]ccm.Action)
	collectTablesInto(node, tables)
	return tables
}

func collectTablesInto(node plan.Node, tables map[string]ccm.Action) {
	switch n := node.(type) {
	case plan.TableScan:
		requireAction(tables, n.Table, ccm.Read)
	case plan.Filter:
		collectTablesInto(n.Child, tables)
	case plan.Project:
		collectTablesInto(n.Child, tables)
	case plan.Sort:
		collectTablesInto(n.Child, tables)
	case plan.Limit:
		collectTablesInto(n.Child, tables)
	case plan.NestedLoopJoin:
		collectTablesInto(n.Left, tables)
		collectTablesInto(n.Right, tables)
	case plan.Insert:
		requireAction(tables, n.Table, ccm.Write)
	case plan.Update:
		requireAction(tables, n.Table, ccm.Write)
	case plan.Delete:
		requireAction(tables, n.Table, ccm.Write)
	case plan.CreateTable:
		requireAction(tables, n.Schema.Table, ccm.Write)
	case plan.DropTable:
		requireAction(tables, n.Table, ccm.Write)
	}
}

func requireAction(tables map[string]ccm.Action, table string, action ccm.Action) {
	if existing, ok := tables[table]; ok && existing == ccm.Write {
		return
	}
	tables[table] = action
}

// sortedTableNames returns tables' keys in lexical order.
func sortedTableNames(tables map[string]ccm.Action) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// acquireLocks queries the CCM for every table touched by node, in
// alphabetical order, short-circuiting on the first Waiting or Failed
// response (spec.md §4.2). The returned set names tables whose write came
// back GrantedIgnored (the Timestamp protocol's Thomas Write Rule): the
// caller may proceed, but must not apply or log a mutation against them.
func acquireLocks(manager ccm.Manager, txid int64, node plan.Node) (map[string]bool, error) {
	tables := collectTables(node)
	var ignored map[string]bool
	for _, table := range sortedTableNames(tables) {
		result := manager.Query(txid, tables[table], table)
		switch result.Outcome {
		case ccm.Waiting:
			return nil, &WaitingError{Resource: table, BlockedBy: result.BlockedBy}
		case ccm.Failed:
			return nil, result.Err
		case ccm.GrantedIgnored:
			if ignored == nil {
				ignored = make(map[string]bool)
			}
			ignored[table] = true
		}
	}
	return ignored, nil
}
