package loan

import (
	"context"
	"strings"
)

// UnknownProfile is shown when an applicant has no profile row.
const UnknownProfile = "Unknown"

// DashboardEntry is an application joined with its applicant profile.
type DashboardEntry struct {
	Application
	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`
}

// Dashboard lists every application in the requested order, merged with
// profile data and filtered by search over id, sector, status, applicant
// email and name.
func (s *Service) Dashboard(ctx context.Context, sort, order, search string) ([]DashboardEntry, error) {
	q, err := NormalizeListQuery(sort, order)
	if err != nil {
		return nil, err
	}
	apps, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(apps))
	seen := make(map[string]bool, len(apps))
	for _, a := range apps {
		if !seen[a.UserID] {
			seen[a.UserID] = true
			ids = append(ids, a.UserID)
		}
	}
	profiles, err := s.profiles.Lookup(ctx, ids)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]DashboardEntry, 0, len(apps))
	for _, a := range apps {
		e := DashboardEntry{Application: a, UserEmail: UnknownProfile, UserName: UnknownProfile}
		if p, ok := profiles[a.UserID]; ok {
			if p.Email != "" {
				e.UserEmail = p.Email
			}
			if p.FullName != "" {
				e.UserName = p.FullName
			}
		}
		if needle != "" && !e.matches(needle) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (e DashboardEntry) matches(needle string) bool {
	for _, field := range []string{e.ID, e.Sector, string(e.Status), e.UserEmail, e.UserName} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// Stats returns the dashboard counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}
