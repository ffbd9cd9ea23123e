package schema

import "fmt"

// Business payloads for each synchronized table. Date-valued business fields
// (borrowed_at, paid_at, ...) are carried as strings: they are opaque to the
// sync engine, which only interprets the envelope timestamps.

// CategoryFields holds the business columns of the categories table.
type CategoryFields struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (f *CategoryFields) Table() string { return TableCategories }

func (f *CategoryFields) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("category name is required")
	}
	return nil
}

func (f *CategoryFields) Values() []any {
	return []any{f.Name, f.Description}
}

func (f *CategoryFields) Pointers() []any {
	return []any{&f.Name, &f.Description}
}

// BookFields holds the business columns of the books table.
type BookFields struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn,omitempty"`
	Publisher       string `json:"publisher,omitempty"`
	PublicationYear int64  `json:"publication_year,omitempty"`
	CategoryID      string `json:"category_id,omitempty"`
	TotalCopies     int64  `json:"total_copies"`
	AvailableCopies int64  `json:"available_copies"`
	ShelfLocation   string `json:"shelf_location,omitempty"`
	Description     string `json:"description,omitempty"`
}

func (f *BookFields) Table() string { return TableBooks }

func (f *BookFields) Validate() error {
	if f.Title == "" {
		return fmt.Errorf("book title is required")
	}
	if f.Author == "" {
		return fmt.Errorf("book author is required")
	}
	if f.TotalCopies < 0 || f.AvailableCopies < 0 {
		return fmt.Errorf("copy counts cannot be negative")
	}
	return nil
}

func (f *BookFields) Values() []any {
	return []any{
		f.Title, f.Author, f.ISBN, f.Publisher, f.PublicationYear,
		f.CategoryID, f.TotalCopies, f.AvailableCopies,
		f.ShelfLocation, f.Description,
	}
}

func (f *BookFields) Pointers() []any {
	return []any{
		&f.Title, &f.Author, &f.ISBN, &f.Publisher, &f.PublicationYear,
		&f.CategoryID, &f.TotalCopies, &f.AvailableCopies,
		&f.ShelfLocation, &f.Description,
	}
}

// BookCopyFields holds the business columns of the book_copies table.
type BookCopyFields struct {
	BookID       string `json:"book_id"`
	TrackingCode string `json:"tracking_code"`
	Condition    string `json:"condition,omitempty"`
	Status       string `json:"status,omitempty"`
}

func (f *BookCopyFields) Table() string { return TableBookCopies }

func (f *BookCopyFields) Validate() error {
	if f.BookID == "" {
		return fmt.Errorf("book copy requires book_id")
	}
	if f.TrackingCode == "" {
		return fmt.Errorf("book copy requires tracking_code")
	}
	return nil
}

func (f *BookCopyFields) Values() []any {
	return []any{f.BookID, f.TrackingCode, f.Condition, f.Status}
}

func (f *BookCopyFields) Pointers() []any {
	return []any{&f.BookID, &f.TrackingCode, &f.Condition, &f.Status}
}

// StudentFields holds the business columns of the students table.
type StudentFields struct {
	AdmissionNumber string `json:"admission_number"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email,omitempty"`
	Phone           string `json:"phone,omitempty"`
	ClassGrade      string `json:"class_grade,omitempty"`
	AcademicYear    string `json:"academic_year,omitempty"`
	Status          string `json:"status,omitempty"`
}

func (f *StudentFields) Table() string { return TableStudents }

func (f *StudentFields) Validate() error {
	if f.AdmissionNumber == "" {
		return fmt.Errorf("student admission_number is required")
	}
	if f.FirstName == "" || f.LastName == "" {
		return fmt.Errorf("student name is required")
	}
	return nil
}

func (f *StudentFields) Values() []any {
	return []any{
		f.AdmissionNumber, f.FirstName, f.LastName, f.Email, f.Phone,
		f.ClassGrade, f.AcademicYear, f.Status,
	}
}

func (f *StudentFields) Pointers() []any {
	return []any{
		&f.AdmissionNumber, &f.FirstName, &f.LastName, &f.Email, &f.Phone,
		&f.ClassGrade, &f.AcademicYear, &f.Status,
	}
}

// StaffFields holds the business columns of the staff table.
type StaffFields struct {
	StaffNumber string `json:"staff_number"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Department  string `json:"department,omitempty"`
	Position    string `json:"position,omitempty"`
	Status      string `json:"status,omitempty"`
}

func (f *StaffFields) Table() string { return TableStaff }

func (f *StaffFields) Validate() error {
	if f.StaffNumber == "" {
		return fmt.Errorf("staff_number is required")
	}
	if f.FirstName == "" || f.LastName == "" {
		return fmt.Errorf("staff name is required")
	}
	return nil
}

func (f *StaffFields) Values() []any {
	return []any{
		f.StaffNumber, f.FirstName, f.LastName, f.Email, f.Phone,
		f.Department, f.Position, f.Status,
	}
}

func (f *StaffFields) Pointers() []any {
	return []any{
		&f.StaffNumber, &f.FirstName, &f.LastName, &f.Email, &f.Phone,
		&f.Department, &f.Position, &f.Status,
	}
}

// BorrowingFields holds the business columns of the borrowings table.
type BorrowingFields struct {
	StudentID  string `json:"student_id"`
	BookCopyID string `json:"book_copy_id"`
	IssuedBy   string `json:"issued_by,omitempty"`
	BorrowedAt string `json:"borrowed_at"`
	DueDate    string `json:"due_date"`
	ReturnedAt string `json:"returned_at,omitempty"`
	Status     string `json:"status,omitempty"`
}

func (f *BorrowingFields) Table() string { return TableBorrowings }

func (f *BorrowingFields) Validate() error {
	if f.StudentID == "" || f.BookCopyID == "" {
		return fmt.Errorf("borrowing requires student_id and book_copy_id")
	}
	if f.BorrowedAt == "" || f.DueDate == "" {
		return fmt.Errorf("borrowing requires borrowed_at and due_date")
	}
	return nil
}

func (f *BorrowingFields) Values() []any {
	return []any{
		f.StudentID, f.BookCopyID, f.IssuedBy, f.BorrowedAt,
		f.DueDate, f.ReturnedAt, f.Status,
	}
}

func (f *BorrowingFields) Pointers() []any {
	return []any{
		&f.StudentID, &f.BookCopyID, &f.IssuedBy, &f.BorrowedAt,
		&f.DueDate, &f.ReturnedAt, &f.Status,
	}
}

// FineFields holds the business columns of the fines table.
type FineFields struct {
	BorrowingID string  `json:"borrowing_id"`
	StudentID   string  `json:"student_id"`
	Amount      float64 `json:"amount"`
	Reason      string  `json:"reason,omitempty"`
	Status      string  `json:"status,omitempty"`
	PaidAt      string  `json:"paid_at,omitempty"`
}

func (f *FineFields) Table() string { return TableFines }

func (f *FineFields) Validate() error {
	if f.BorrowingID == "" || f.StudentID == "" {
		return fmt.Errorf("fine requires borrowing_id and student_id")
	}
	if f.Amount < 0 {
		return fmt.Errorf("fine amount cannot be negative")
	}
	return nil
}

func (f *FineFields) Values() []any {
	return []any{f.BorrowingID, f.StudentID, f.Amount, f.Reason, f.Status, f.PaidAt}
}

func (f *FineFields) Pointers() []any {
	return []any{&f.BorrowingID, &f.StudentID, &f.Amount, &f.Reason, &f.Status, &f.PaidAt}
}
