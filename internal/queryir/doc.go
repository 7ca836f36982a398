// Package queryir is a small query representation for the run ledger.
//
// Callers describe what they want (a table, explicit columns, a filter
// and an ordering) and a backend turns it into something executable. The
// only backend is internal/querysql, which emits parameterized SQLite.
//
//	[history flags] → [Query IR] → [querysql] → SQL + params
//
// Query, Predicate and Value are sealed interfaces using the marker method
// pattern, so backends can switch over them exhaustively.
//
// Identifiers (tables, columns) are written into the generated SQL and are
// therefore restricted to lower-case snake_case names; values are never
// written into SQL, they always become parameters.
package queryir
