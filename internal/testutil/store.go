// Package testutil holds in-memory stand-ins for the Postgres repositories and
// the external collaborators, shared by package tests.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
	"github.com/openhelpdesk/ai-helpdesk/internal/repository"
	"github.com/openhelpdesk/ai-helpdesk/internal/skills"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Store is a single in-memory database backing both repositories, so tickets
// can resolve creator and assignee emails the way the SQL joins do.
type Store struct {
	mu      sync.Mutex
	clock   int
	users   []*domain.User
	tickets []*domain.Ticket
	// Writes counts successful mutations of either table.
	Writes int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) tick() time.Time {
	s.clock++
	return epoch.Add(time.Duration(s.clock) * time.Second)
}

// Users returns a UserRepository over the store.
func (s *Store) Users() repository.UserRepository { return &userRepo{s} }

// Tickets returns a TicketRepository over the store.
func (s *Store) Tickets() repository.TicketRepository { return &ticketRepo{s} }

// AddUser inserts a user directly and returns it.
func (s *Store) AddUser(email string, role domain.Role, skillTags ...string) *domain.User {
	u := &domain.User{Email: email, PasswordHash: "x", Role: role, Skills: skillTags}
	_ = s.Users().Create(context.Background(), u)
	return u
}

// Ticket returns a copy of the stored ticket, or nil.
func (s *Store) Ticket(id string) *domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findTicket(id)
	if t == nil {
		return nil
	}
	return s.hydrate(t)
}

func (s *Store) findUser(match func(*domain.User) bool) *domain.User {
	for _, u := range s.users {
		if match(u) {
			return u
		}
	}
	return nil
}

func (s *Store) findTicket(id string) *domain.Ticket {
	for _, t := range s.tickets {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *Store) hydrate(t *domain.Ticket) *domain.Ticket {
	out := *t
	out.RelatedSkills = append([]string{}, t.RelatedSkills...)
	if u := s.findUser(func(u *domain.User) bool { return u.ID == t.CreatedBy.ID }); u != nil {
		out.CreatedBy.Email = u.Email
	}
	if t.AssignedTo != nil {
		ref := *t.AssignedTo
		if u := s.findUser(func(u *domain.User) bool { return u.ID == ref.ID }); u != nil {
			ref.Email = u.Email
		}
		out.AssignedTo = &ref
	}
	return &out
}

func copyUser(u *domain.User) *domain.User {
	out := *u
	out.Skills = append([]string{}, u.Skills...)
	return &out
}

type userRepo struct{ s *Store }

func (r *userRepo) Create(_ context.Context, user *domain.User) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findUser(func(u *domain.User) bool { return strings.EqualFold(u.Email, user.Email) }) != nil {
		return repository.ErrDuplicateEmail
	}
	user.ID = uuid.NewString()
	user.CreatedAt = s.tick()
	user.UpdatedAt = user.CreatedAt
	if user.Skills == nil {
		user.Skills = []string{}
	}
	s.users = append(s.users, copyUser(user))
	s.Writes++
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u := r.s.findUser(func(u *domain.User) bool { return u.ID == id }); u != nil {
		return copyUser(u), nil
	}
	return nil, pgx.ErrNoRows
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u := r.s.findUser(func(u *domain.User) bool { return strings.EqualFold(u.Email, email) }); u != nil {
		return copyUser(u), nil
	}
	return nil, pgx.ErrNoRows
}

func (r *userRepo) List(context.Context) ([]domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		out = append(out, *copyUser(u))
	}
	return out, nil
}

func (r *userRepo) UpdateRoleSkills(_ context.Context, email string, role domain.Role, skillTags []string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findUser(func(u *domain.User) bool { return strings.EqualFold(u.Email, email) })
	if u == nil {
		return pgx.ErrNoRows
	}
	u.Role = role
	u.Skills = append([]string{}, skillTags...)
	u.UpdatedAt = s.tick()
	s.Writes++
	return nil
}

func (r *userRepo) FindFirstByRole(_ context.Context, role domain.Role) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u := r.s.findUser(func(u *domain.User) bool { return u.Role == role }); u != nil {
		return copyUser(u), nil
	}
	return nil, pgx.ErrNoRows
}

func (r *userRepo) FindModeratorBySkills(_ context.Context, pattern string) (*domain.User, error) {
	re, err := skills.Compile(pattern)
	if err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u := r.s.findUser(func(u *domain.User) bool {
		return u.Role == domain.RoleModerator && skills.Matches(re, u.Skills)
	})
	if u == nil {
		return nil, pgx.ErrNoRows
	}
	return copyUser(u), nil
}

type ticketRepo struct{ s *Store }

func (r *ticketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = s.tick()
	ticket.UpdatedAt = ticket.CreatedAt
	if ticket.RelatedSkills == nil {
		ticket.RelatedSkills = []string{}
	}
	stored := *ticket
	s.tickets = append(s.tickets, &stored)
	s.Writes++
	return nil
}

func (r *ticketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t := r.s.findTicket(id); t != nil {
		return r.s.hydrate(t), nil
	}
	return nil, pgx.ErrNoRows
}

func (r *ticketRepo) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []domain.Ticket{}
	for i := len(r.s.tickets) - 1; i >= 0; i-- {
		t := r.s.tickets[i]
		if filter.CreatedBy != nil && t.CreatedBy.ID != *filter.CreatedBy {
			continue
		}
		out = append(out, *r.s.hydrate(t))
	}
	return out, nil
}

func (r *ticketRepo) DeleteOwned(_ context.Context, id, ownerID string) (*domain.Ticket, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tickets {
		if t.ID == id && t.CreatedBy.ID == ownerID {
			deleted := s.hydrate(t)
			s.tickets = append(s.tickets[:i], s.tickets[i+1:]...)
			s.Writes++
			return deleted, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *ticketRepo) update(id string, fn func(t *domain.Ticket)) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findTicket(id)
	if t == nil {
		return pgx.ErrNoRows
	}
	fn(t)
	t.UpdatedAt = s.tick()
	s.Writes++
	return nil
}

func (r *ticketRepo) MarkTodo(_ context.Context, id string) error {
	return r.update(id, func(t *domain.Ticket) {
		if t.Status != domain.TicketStatusInProgress && t.Status != domain.TicketStatusDone {
			t.Status = domain.TicketStatusTodo
		}
	})
}

func (r *ticketRepo) ApplyClassification(_ context.Context, id string, c domain.Classification) error {
	return r.update(id, func(t *domain.Ticket) {
		t.Priority = c.Priority
		t.HelpfulNotes = c.HelpfulNotes
		t.RelatedSkills = append([]string{}, c.RelatedSkills...)
		t.Status = domain.TicketStatusInProgress
	})
}

func (r *ticketRepo) SetRelatedSkills(_ context.Context, id string, skillTags []string) error {
	return r.update(id, func(t *domain.Ticket) {
		t.RelatedSkills = append([]string{}, skillTags...)
	})
}

func (r *ticketRepo) SetAssignee(_ context.Context, id string, assigneeID *string) error {
	return r.update(id, func(t *domain.Ticket) {
		if assigneeID == nil {
			t.AssignedTo = nil
			return
		}
		t.AssignedTo = &domain.UserRef{ID: *assigneeID}
	})
}
