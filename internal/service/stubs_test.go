package service

import (
	"context"
	"database/sql"
	"sync"

	"github.com/noah-isme/discipline-portal-api/internal/models"
)

type auditRecorder struct {
	mu   sync.Mutex
	logs []*models.AuditLog
	err  error
}

func (a *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return a.err
}

func (a *auditRecorder) entries() []*models.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.AuditLog(nil), a.logs...)
}

type roleWrite struct {
	id   string
	role models.UserRole
}

type stubProfileRoles struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile
	findErr  error
	writeErr error
	writes   []roleWrite
	written  chan roleWrite
}

func (s *stubProfileRoles) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *profile
	return &copied, nil
}

func (s *stubProfileRoles) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	s.mu.Lock()
	s.writes = append(s.writes, roleWrite{id: id, role: role})
	err := s.writeErr
	s.mu.Unlock()
	if s.written != nil {
		s.written <- roleWrite{id: id, role: role}
	}
	return err
}

func (s *stubProfileRoles) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}
