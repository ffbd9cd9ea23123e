package schema

import "fmt"

// Table describes one synchronized table: its business columns (in SQL
// order) and the tables it depends on through foreign keys.
type Table struct {
	Name      string
	DependsOn []string
	Columns   []string
	NewFields func() Fields
}

// syncOrder lists all synchronized tables, parents before dependents, so
// pushes never violate a remote foreign-key constraint. Soft delete makes a
// reverse order on delete unnecessary.
var syncOrder = []string{
	TableCategories,
	TableBooks,
	TableBookCopies,
	TableStudents,
	TableStaff,
	TableBorrowings,
	TableFines,
}

// Table names.
const (
	TableCategories = "categories"
	TableBooks      = "books"
	TableBookCopies = "book_copies"
	TableStudents   = "students"
	TableStaff      = "staff"
	TableBorrowings = "borrowings"
	TableFines      = "fines"
)

var registry = map[string]Table{
	TableCategories: {
		Name:      TableCategories,
		Columns:   []string{"name", "description"},
		NewFields: func() Fields { return &CategoryFields{} },
	},
	TableBooks: {
		Name:      TableBooks,
		DependsOn: []string{TableCategories},
		Columns: []string{
			"title", "author", "isbn", "publisher", "publication_year",
			"category_id", "total_copies", "available_copies",
			"shelf_location", "description",
		},
		NewFields: func() Fields { return &BookFields{} },
	},
	TableBookCopies: {
		Name:      TableBookCopies,
		DependsOn: []string{TableBooks},
		Columns:   []string{"book_id", "tracking_code", "condition", "status"},
		NewFields: func() Fields { return &BookCopyFields{} },
	},
	TableStudents: {
		Name: TableStudents,
		Columns: []string{
			"admission_number", "first_name", "last_name", "email", "phone",
			"class_grade", "academic_year", "status",
		},
		NewFields: func() Fields { return &StudentFields{} },
	},
	TableStaff: {
		Name: TableStaff,
		Columns: []string{
			"staff_number", "first_name", "last_name", "email", "phone",
			"department", "position", "status",
		},
		NewFields: func() Fields { return &StaffFields{} },
	},
	TableBorrowings: {
		Name:      TableBorrowings,
		DependsOn: []string{TableStudents, TableStaff, TableBookCopies},
		Columns: []string{
			"student_id", "book_copy_id", "issued_by", "borrowed_at",
			"due_date", "returned_at", "status",
		},
		NewFields: func() Fields { return &BorrowingFields{} },
	},
	TableFines: {
		Name:      TableFines,
		DependsOn: []string{TableBorrowings, TableStudents},
		Columns:   []string{"borrowing_id", "student_id", "amount", "reason", "status", "paid_at"},
		NewFields: func() Fields { return &FineFields{} },
	},
}

// SyncOrder returns all synchronized tables in dependency order: a table
// always follows the tables its foreign keys reference.
func SyncOrder() []Table {
	tables := make([]Table, 0, len(syncOrder))
	for _, name := range syncOrder {
		tables = append(tables, registry[name])
	}
	return tables
}

// Lookup returns the table descriptor for name.
func Lookup(name string) (Table, error) {
	t, ok := registry[name]
	if !ok {
		return Table{}, fmt.Errorf("unknown table: %s", name)
	}
	return t, nil
}

// Known reports whether name is a synchronized table.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}
