package models

import "time"

// CaseStatusOpen is assigned to newly filed cases.
const CaseStatusOpen = "open"

// Case is a disciplinary incident filed against a student.
type Case struct {
	ID             string    `db:"id" json:"id"`
	StudentID      string    `db:"student_id" json:"student_id"`
	Title          string    `db:"title" json:"title"`
	Description    string    `db:"description" json:"description"`
	OffenceType    string    `db:"offence_type" json:"offence_type"`
	IncidentDate   time.Time `db:"incident_date" json:"incident_date"`
	IncidentTime   string    `db:"incident_time" json:"incident_time"`
	Location       string    `db:"location" json:"location"`
	Priority       string    `db:"priority" json:"priority"`
	ReportedBy     string    `db:"reported_by" json:"reported_by"`
	ReporterMail   string    `db:"reporter_mail" json:"reporter_mail"`
	ReportersPhone string    `db:"reporters_phone" json:"reporters_phone"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// CaseWithStudent is returned by case creation.
type CaseWithStudent struct {
	Case    Case    `json:"case"`
	Student Student `json:"student"`
}
