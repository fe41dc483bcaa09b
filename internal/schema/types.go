package schema

// Table represents a database table as seen by the schema checks
type Table struct {
	Name    string
	Exists  bool
	Columns []Column
}

// Column represents a table column
type Column struct {
	Name         string
	Type         string
	Nullable     bool
	DefaultValue *string
	IsUnique     bool
	IsPrimaryKey bool
}

// HasColumn reports whether the table has a column with the given name
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// MissingColumns returns the names in want that the table does not have,
// in the order given.
func (t *Table) MissingColumns(want []string) []string {
	var missing []string
	for _, name := range want {
		if !t.HasColumn(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
