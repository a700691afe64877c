package dto

// Payload shapes per request type. Reviewers' approval replays these through the
// same mutators the direct super_admin routes use.

// AddUserPayload is the ADD_USER request body.
type AddUserPayload struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"omitempty,min=6"`
	FullName   string `json:"fullName" validate:"required"`
	Role       string `json:"role" validate:"required,oneof=super_admin admin board_member viewer"`
	Department string `json:"department"`
}

// UpdateUserPayload is the UPDATE_USER request body. At least one optional field must be set.
type UpdateUserPayload struct {
	ID       string  `json:"id" validate:"required"`
	FullName *string `json:"full_name" validate:"omitempty,min=1"`
	PhoneNo  *string `json:"phone_no" validate:"omitempty,max=32"`
	Role     *string `json:"role" validate:"omitempty,oneof=super_admin admin board_member viewer"`
}

// StudentPayload is the student nested in ADD_CASE.
type StudentPayload struct {
	FullName     string `json:"full_name" validate:"required"`
	MatricNumber string `json:"matric_number" validate:"required"`
	Department   string `json:"department"`
	Level        string `json:"level"`
}

// AddCasePayload is the ADD_CASE request body. Only the first student is used.
type AddCasePayload struct {
	Title          string           `json:"title" validate:"required"`
	Description    string           `json:"description" validate:"required"`
	OffenceType    string           `json:"offence_type" validate:"required"`
	IncidentDate   string           `json:"incident_date" validate:"required,datetime=2006-01-02"`
	IncidentTime   string           `json:"incident_time" validate:"required"`
	Location       string           `json:"location" validate:"required"`
	Priority       string           `json:"priority" validate:"required,oneof=low medium high"`
	ReportedBy     string           `json:"reported_by" validate:"required"`
	ReporterMail   string           `json:"reporter_mail" validate:"required,email"`
	ReportersPhone string           `json:"reporters_phone" validate:"required"`
	Students       []StudentPayload `json:"students" validate:"dive"`
}

// AddPunishmentPayload is the ADD_PUNISHMENT request body. Status is advisory.
type AddPunishmentPayload struct {
	CaseID         string `json:"case_id" validate:"required,uuid"`
	StudentID      string `json:"student_id" validate:"required,uuid"`
	PunishmentType string `json:"punishment_type" validate:"required"`
	Description    string `json:"description"`
	StartDate      string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate        string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Status         string `json:"status"`
	IssuedBy       string `json:"issued_by"`
}
