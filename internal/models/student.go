package models

import "time"

// Student is identified by the natural key MatricNumber.
type Student struct {
	ID           string    `db:"id" json:"id"`
	FullName     string    `db:"full_name" json:"full_name"`
	MatricNumber string    `db:"matric_number" json:"matric_number"`
	Department   string    `db:"department" json:"department"`
	Level        string    `db:"level" json:"level"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
