package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/placelinkhq/placelink-backend/internal/models"
)

// IdentityResolver answers "who is this user id" for message pushes and
// history listings: display name plus portal role.
type IdentityResolver struct {
	db *sql.DB
}

func NewIdentityResolver(db *sql.DB) *IdentityResolver {
	return &IdentityResolver{db: db}
}

// Resolve returns the display identity for a single user.
func (r *IdentityResolver) Resolve(ctx context.Context, userID string) (models.Identity, error) {
	var ident models.Identity
	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, role FROM users WHERE id = $1 AND is_active = TRUE
	`, userID).Scan(&ident.UserID, &ident.DisplayName, &ident.Role)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Identity{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return models.Identity{}, err
	}
	return ident, nil
}

// ResolveMany batch-resolves identities in a single query. The direct send
// path uses it to check the receiver exists and fetch the sender's display
// identity in one round trip. Unknown or inactive ids are simply absent
// from the result.
func (r *IdentityResolver) ResolveMany(ctx context.Context, userIDs []string) (map[string]models.Identity, error) {
	out := make(map[string]models.Identity, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, display_name, role FROM users WHERE id = ANY($1) AND is_active = TRUE
	`, pq.Array(userIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ident models.Identity
		if err := rows.Scan(&ident.UserID, &ident.DisplayName, &ident.Role); err != nil {
			return nil, err
		}
		out[ident.UserID] = ident
	}
	return out, rows.Err()
}
