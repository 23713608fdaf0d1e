package group

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

type Repository interface {
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error
	CreateGroup(ctx context.Context, g Group) (Group, error)
	GetGroup(ctx context.Context, id string) (Group, error)
	// AddMember is idempotent and returns the stored membership.
	AddMember(ctx context.Context, m Membership) (Membership, error)
	// RemoveMember deletes the membership together with its calendar token.
	RemoveMember(ctx context.Context, groupId string, userId string) error
	GetMembership(ctx context.Context, groupId string, userId string) (Membership, error)
	// SetCalendarToken stores token on the membership. An empty token revokes the subscription.
	SetCalendarToken(ctx context.Context, groupId string, userId string, token string) error
	FindByCalendarToken(ctx context.Context, token string) (Membership, error)
}

type repositoryImpl struct {
	db *pgxpool.Pool
	tx pgx.Tx
}

func NewRepo(db *pgxpool.Pool) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) getQueryer() interface {
	Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row
} {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *repositoryImpl) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Errorf("rollback error: %v", rbErr)
		}
	}()

	if err := fn(&repositoryImpl{db: r.db, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *repositoryImpl) CreateGroup(ctx context.Context, g Group) (Group, error) {
	query := `INSERT INTO groups (id, name, public, last_modified_at) VALUES ($1, $2, $3, $4)
			  RETURNING id, name, public, last_modified_at`
	var created Group
	err := r.getQueryer().QueryRow(ctx, query, g.Id, g.Name, g.Public, g.LastModifiedAt).
		Scan(&created.Id, &created.Name, &created.Public, &created.LastModifiedAt)
	if err != nil {
		log.Errorf("failed to create group: %v", err)
		return Group{}, fmt.Errorf("failed to create group: %w", err)
	}
	created.LastModifiedAt = created.LastModifiedAt.UTC()
	return created, nil
}

func (r *repositoryImpl) GetGroup(ctx context.Context, id string) (Group, error) {
	var g Group
	err := r.getQueryer().QueryRow(ctx,
		`SELECT id, name, public, last_modified_at FROM groups WHERE id = $1`, id,
	).Scan(&g.Id, &g.Name, &g.Public, &g.LastModifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, ErrGroupNotFound
		}
		log.Errorf("failed to get group %s: %v", id, err)
		return Group{}, fmt.Errorf("failed to get group: %w", err)
	}
	g.LastModifiedAt = g.LastModifiedAt.UTC()
	return g, nil
}

func (r *repositoryImpl) AddMember(ctx context.Context, m Membership) (Membership, error) {
	_, err := r.getQueryer().Exec(ctx,
		`INSERT INTO group_membership (group_id, user_id, joined_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		m.GroupId, m.UserId, m.JoinedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Membership{}, ErrGroupNotFound
		}
		log.Errorf("failed to add member %s to group %s: %v", m.UserId, m.GroupId, err)
		return Membership{}, fmt.Errorf("failed to add member: %w", err)
	}
	return r.GetMembership(ctx, m.GroupId, m.UserId)
}

func (r *repositoryImpl) RemoveMember(ctx context.Context, groupId string, userId string) error {
	result, err := r.getQueryer().Exec(ctx,
		`DELETE FROM group_membership WHERE group_id = $1 AND user_id = $2`, groupId, userId)
	if err != nil {
		log.Errorf("failed to remove member %s from group %s: %v", userId, groupId, err)
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

const membershipColumns = `group_id, user_id, joined_at, COALESCE(calendar_token, '')`

func scanMembership(row pgx.Row) (Membership, error) {
	var m Membership
	if err := row.Scan(&m.GroupId, &m.UserId, &m.JoinedAt, &m.CalendarToken); err != nil {
		return Membership{}, err
	}
	m.JoinedAt = m.JoinedAt.UTC()
	return m, nil
}

func (r *repositoryImpl) GetMembership(ctx context.Context, groupId string, userId string) (Membership, error) {
	m, err := scanMembership(r.getQueryer().QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM group_membership WHERE group_id = $1 AND user_id = $2`,
		groupId, userId))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Membership{}, ErrMembershipNotFound
		}
		return Membership{}, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

func (r *repositoryImpl) SetCalendarToken(ctx context.Context, groupId string, userId string, token string) error {
	result, err := r.getQueryer().Exec(ctx,
		`UPDATE group_membership SET calendar_token = NULLIF($3, '') WHERE group_id = $1 AND user_id = $2`,
		groupId, userId, token)
	if err != nil {
		log.Errorf("failed to set calendar token for %s in group %s: %v", userId, groupId, err)
		return fmt.Errorf("failed to set calendar token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

func (r *repositoryImpl) FindByCalendarToken(ctx context.Context, token string) (Membership, error) {
	m, err := scanMembership(r.getQueryer().QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM group_membership WHERE calendar_token = $1`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Membership{}, ErrTokenNotFound
		}
		return Membership{}, fmt.Errorf("failed to resolve calendar token: %w", err)
	}
	return m, nil
}
