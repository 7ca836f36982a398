package queryir

// Query is a complete query. Only Select implements it.
type Query interface {
	queryNode()
}

// Predicate is a filter condition.
//
// Predicate types:
//   - Equals: field = value
//   - And: all predicates must be true
type Predicate interface {
	predicateNode()
}

// Value is a literal compared against a column.
type Value interface {
	valueNode()
}

// String is a text literal.
type String string

// Int is an integer literal.
type Int int64

func (String) valueNode() {}
func (Int) valueNode() {}

// Select reads rows of one table.
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <order> LIMIT <limit>
//
// Example:
//
//	Select{
//	  From:    "runs",
//	  Columns: []string{"id", "status"},
//	  Filter: And{Predicates: []Predicate{
//	    Equals{Field: "program_hash", Value: String("3f9a...")},
//	    Equals{Field: "status", Value: String("failed")},
//	  }},
//	  OrderBy: []Order{{Field: "seq", Desc: true}},
//	  Limit:   10,
//	}
//
// Columns must be explicit; there is no SELECT *.
type Select struct {
	From    string    // table name
	Columns []string  // selected columns, in output order
	Filter  Predicate // WHERE conditions (nil = no filter)
	OrderBy []Order   // sort keys; backends append a tiebreaker
	Limit   int       // maximum rows, 0 = unlimited
}

func (Select) queryNode() {}

// Order is one sort key.
type Order struct {
	Field string
	Desc  bool
}

// Equals is true when Field equals Value.
type Equals struct {
	Field string
	Value Value
}

func (Equals) predicateNode() {}

// And is true when every predicate is true. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Where combines predicates, dropping nils. It returns nil for no
// predicates and the predicate itself for exactly one.
func Where(preds ...Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Predicates: kept}
	}
}
