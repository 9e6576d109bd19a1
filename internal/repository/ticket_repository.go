package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
)

// TicketFilter narrows ticket listings. A nil CreatedBy lists every ticket.
type TicketFilter struct {
	CreatedBy *string
	Limit     int
	Offset    int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	DeleteOwned(ctx context.Context, id, ownerID string) (*domain.Ticket, error)
	MarkTodo(ctx context.Context, id string) error
	ApplyClassification(ctx context.Context, id string, c domain.Classification) error
	SetRelatedSkills(ctx context.Context, id string, skills []string) error
	SetAssignee(ctx context.Context, id string, assigneeID *string) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketSelect = `
        SELECT t.id, t.title, t.description, t.status, t.priority, t.deadline, t.helpful_notes, t.related_skills,
               t.created_by, c.email, t.assigned_to, a.email, t.created_at, t.updated_at
        FROM tickets t
        JOIN users c ON c.id = t.created_by
        LEFT JOIN users a ON a.id = t.assigned_to`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, status, priority, created_by, related_skills)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`
	skills := ticket.RelatedSkills
	if skills == nil {
		skills = []string{}
	}
	return r.pool.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.CreatedBy.ID,
		skills,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	row := r.pool.QueryRow(ctx, ticketSelect+` WHERE t.id=$1`, id)
	return scanTicket(row)
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	query := ticketSelect
	args := []any{}
	if filter.CreatedBy != nil {
		args = append(args, *filter.CreatedBy)
		query += ` WHERE t.created_by=$1`
	}
	query += ` ORDER BY t.created_at DESC, t.id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, max(filter.Offset, 0))
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

// DeleteOwned removes the ticket only when ownerID created it. It returns
// pgx.ErrNoRows both for a missing ticket and for a foreign one.
func (r *ticketRepository) DeleteOwned(ctx context.Context, id, ownerID string) (*domain.Ticket, error) {
	ticket, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.CreatedBy.ID != ownerID {
		return nil, pgx.ErrNoRows
	}
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE id=$1 AND created_by=$2`, id, ownerID)
	if err != nil {
		return nil, err
	}
	if cmd.RowsAffected() == 0 {
		return nil, pgx.ErrNoRows
	}
	return ticket, nil
}

// MarkTodo re-affirms the initial status. A ticket that already moved past
// TODO is left alone so a replayed step cannot downgrade it.
func (r *ticketRepository) MarkTodo(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `
        UPDATE tickets SET status='TODO', updated_at=NOW()
        WHERE id=$1 AND status NOT IN ('IN_PROGRESS','DONE')`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return r.ensureExists(ctx, id)
	}
	return nil
}

func (r *ticketRepository) ApplyClassification(ctx context.Context, id string, c domain.Classification) error {
	skills := c.RelatedSkills
	if skills == nil {
		skills = []string{}
	}
	return r.exec(ctx, `
        UPDATE tickets SET priority=$1, helpful_notes=$2, related_skills=$3, status='IN_PROGRESS', updated_at=NOW()
        WHERE id=$4`, c.Priority, c.HelpfulNotes, skills, id)
}

func (r *ticketRepository) SetRelatedSkills(ctx context.Context, id string, skills []string) error {
	if skills == nil {
		skills = []string{}
	}
	return r.exec(ctx, `UPDATE tickets SET related_skills=$1, updated_at=NOW() WHERE id=$2`, skills, id)
}

func (r *ticketRepository) SetAssignee(ctx context.Context, id string, assigneeID *string) error {
	return r.exec(ctx, `UPDATE tickets SET assigned_to=$1, updated_at=NOW() WHERE id=$2`, assigneeID, id)
}

func (r *ticketRepository) exec(ctx context.Context, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) ensureExists(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return pgx.ErrNoRows
	}
	return nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket        domain.Ticket
		notes         *string
		assigneeID    *string
		assigneeEmail *string
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Deadline,
		&notes,
		&ticket.RelatedSkills,
		&ticket.CreatedBy.ID,
		&ticket.CreatedBy.Email,
		&assigneeID,
		&assigneeEmail,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if notes != nil {
		ticket.HelpfulNotes = *notes
	}
	if assigneeID != nil {
		ticket.AssignedTo = &domain.UserRef{ID: *assigneeID}
		if assigneeEmail != nil {
			ticket.AssignedTo.Email = *assigneeEmail
		}
	}
	if ticket.RelatedSkills == nil {
		ticket.RelatedSkills = []string{}
	}
	return &ticket, nil
}
