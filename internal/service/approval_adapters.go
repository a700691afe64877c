package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/discipline-portal-api/internal/dto"
	"github.com/noah-isme/discipline-portal-api/internal/models"
	appErrors "github.com/noah-isme/discipline-portal-api/pkg/errors"
)

const payloadDateLayout = "2006-01-02"

// ApprovalAdapter turns an approved payload into a call on its domain mutator.
type ApprovalAdapter interface {
	Materialize(ctx context.Context, payload json.RawMessage, actorID string) (interface{}, error)
}

// ApprovalAdapterFunc allows plain functions to act as adapters.
type ApprovalAdapterFunc func(ctx context.Context, payload json.RawMessage, actorID string) (interface{}, error)

// Materialize implements ApprovalAdapter.
func (f ApprovalAdapterFunc) Materialize(ctx context.Context, payload json.RawMessage, actorID string) (interface{}, error) {
	return f(ctx, payload, actorID)
}

type userMutator interface {
	CreateOrUpdateUser(ctx context.Context, m UserMutation) (*models.Profile, error)
}

type caseCreator interface {
	CreateCase(ctx context.Context, fields models.Case, student models.Student, actorID string) (*models.CaseWithStudent, error)
}

type punishmentCreator interface {
	CreatePunishment(ctx context.Context, record models.Punishment, actorID string) (*models.Punishment, error)
}

// DefaultApprovalAdapters wires one adapter per request type.
func DefaultApprovalAdapters(users userMutator, cases caseCreator, punishments punishmentCreator, validate *validator.Validate) map[models.RequestType]ApprovalAdapter {
	if validate == nil {
		validate = validator.New()
	}
	return map[models.RequestType]ApprovalAdapter{
		models.RequestTypeAddUser:       addUserAdapter(users, validate),
		models.RequestTypeUpdateUser:    updateUserAdapter(users, validate),
		models.RequestTypeAddCase:       addCaseAdapter(cases, validate),
		models.RequestTypeAddPunishment: addPunishmentAdapter(punishments, validate),
	}
}

func decodePayload(raw json.RawMessage, dest interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "request data is empty")
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request data")
	}
	return nil
}

func validatePayload(validate *validator.Validate, payload interface{}) error {
	if err := validate.Struct(payload); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request data")
	}
	return nil
}

func parsePayloadDate(field, value string) (time.Time, error) {
	parsed, err := time.Parse(payloadDateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, field+" must be formatted as YYYY-MM-DD")
	}
	return parsed, nil
}

func addUserAdapter(users userMutator, validate *validator.Validate) ApprovalAdapter {
	return ApprovalAdapterFunc(func(ctx context.Context, raw json.RawMessage, actorID string) (interface{}, error) {
		var payload dto.AddUserPayload
		if err := decodePayload(raw, &payload); err != nil {
			return nil, err
		}
		if err := validatePayload(validate, payload); err != nil {
			return nil, err
		}
		role, _ := models.ParseRole(payload.Role)
		return users.CreateOrUpdateUser(ctx, UserMutation{
			Mode: UserMutationCreate,
			Create: &NewUser{
				Email:      payload.Email,
				Password:   payload.Password,
				FullName:   payload.FullName,
				Role:       role,
				Department: payload.Department,
			},
			ActorID: actorID,
		})
	})
}

func updateUserAdapter(users userMutator, validate *validator.Validate) ApprovalAdapter {
	return ApprovalAdapterFunc(func(ctx context.Context, raw json.RawMessage, actorID string) (interface{}, error) {
		var payload dto.UpdateUserPayload
		if err := decodePayload(raw, &payload); err != nil {
			return nil, err
		}
		if err := validatePayload(validate, payload); err != nil {
			return nil, err
		}
		update := models.ProfileUpdate{
			ID:       strings.TrimSpace(payload.ID),
			FullName: payload.FullName,
			PhoneNo:  payload.PhoneNo,
		}
		if payload.Role != nil {
			role, _ := models.ParseRole(*payload.Role)
			update.Role = &role
		}
		return users.CreateOrUpdateUser(ctx, UserMutation{
			Mode:    UserMutationUpdate,
			Update:  &update,
			ActorID: actorID,
		})
	})
}

func addCaseAdapter(cases caseCreator, validate *validator.Validate) ApprovalAdapter {
	return ApprovalAdapterFunc(func(ctx context.Context, raw json.RawMessage, actorID string) (interface{}, error) {
		var payload dto.AddCasePayload
		if err := decodePayload(raw, &payload); err != nil {
			return nil, err
		}
		if len(payload.Students) == 0 {
			return nil, appErrors.Clone(appErrors.ErrMissingStudent, "")
		}
		if err := validatePayload(validate, payload); err != nil {
			return nil, err
		}
		incidentDate, err := parsePayloadDate("incident_date", payload.IncidentDate)
		if err != nil {
			return nil, err
		}

		first := payload.Students[0]
		return cases.CreateCase(ctx, models.Case{
			Title:          payload.Title,
			Description:    payload.Description,
			OffenceType:    payload.OffenceType,
			IncidentDate:   incidentDate,
			IncidentTime:   payload.IncidentTime,
			Location:       payload.Location,
			Priority:       payload.Priority,
			ReportedBy:     payload.ReportedBy,
			ReporterMail:   payload.ReporterMail,
			ReportersPhone: payload.ReportersPhone,
		}, models.Student{
			FullName:     strings.TrimSpace(first.FullName),
			MatricNumber: first.MatricNumber,
			Department:   first.Department,
			Level:        first.Level,
		}, actorID)
	})
}

func addPunishmentAdapter(punishments punishmentCreator, validate *validator.Validate) ApprovalAdapter {
	return ApprovalAdapterFunc(func(ctx context.Context, raw json.RawMessage, actorID string) (interface{}, error) {
		var payload dto.AddPunishmentPayload
		if err := decodePayload(raw, &payload); err != nil {
			return nil, err
		}
		if err := validatePayload(validate, payload); err != nil {
			return nil, err
		}
		start, err := parsePayloadDate("start_date", payload.StartDate)
		if err != nil {
			return nil, err
		}
		var end *time.Time
		if strings.TrimSpace(payload.EndDate) != "" {
			parsed, err := parsePayloadDate("end_date", payload.EndDate)
			if err != nil {
				return nil, err
			}
			end = &parsed
		}
		issuedBy := strings.TrimSpace(payload.IssuedBy)
		if issuedBy == "" {
			issuedBy = actorID
		}

		// Approved punishments take effect immediately whatever status was submitted.
		return punishments.CreatePunishment(ctx, models.Punishment{
			CaseID:         payload.CaseID,
			StudentID:      payload.StudentID,
			PunishmentType: payload.PunishmentType,
			Description:    payload.Description,
			StartDate:      start,
			EndDate:        end,
			Status:         models.PunishmentStatusActive,
			IssuedBy:       issuedBy,
		}, actorID)
	})
}
