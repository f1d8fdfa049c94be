package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/hospiverse/clinic-engine/generic"
)

// ProfileRepository stores identities in the "profiles" collection.
type ProfileRepository struct {
	store generic.Store
}

func NewProfileRepository(store generic.Store) *ProfileRepository {
	return &ProfileRepository{store: store}
}

// Profile returns the identity for id, or generic.ErrNotFound.
func (r *ProfileRepository) Profile(ctx context.Context, id string) (*Identity, error) {
	rec, err := r.store.Get(ctx, generic.CollectionProfiles, id)
	if err != nil {
		return nil, err
	}
	ident := FromRecord(rec)
	return &ident, nil
}

// List returns profiles matching where, ordered by full name.
func (r *ProfileRepository) List(ctx context.Context, where ...generic.Predicate) ([]Identity, error) {
	rows, err := r.store.Find(ctx, generic.Query{
		Collection: generic.CollectionProfiles,
		Where:      where,
		OrderBy:    []generic.Order{generic.Asc("full_name"), generic.Asc("id")},
	})
	if err != nil {
		return nil, err
	}
	out := make([]Identity, 0, len(rows))
	for _, rec := range rows {
		out = append(out, FromRecord(rec))
	}
	return out, nil
}

// InsertProfile writes a new profile through store, which may be a transaction view.
func InsertProfile(ctx context.Context, store generic.Store, ident Identity) error {
	rec := ToRecord(ident)
	rec["created_at"] = time.Now().UTC().Format(time.RFC3339)
	return store.Insert(ctx, generic.CollectionProfiles, rec)
}

// Update applies fields to the profile id. Zero matched rows is ErrNotFound.
func (r *ProfileRepository) Update(ctx context.Context, id string, fields generic.Record) error {
	n, err := r.store.Update(ctx, generic.CollectionProfiles, []generic.Predicate{generic.Eq("id", id)}, fields)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: profile %s", generic.ErrNotFound, id)
	}
	return nil
}

func FromRecord(rec generic.Record) Identity {
	status, ok := ParseStatus(rec.String("status"))
	if !ok {
		status = StatusActive
	}
	return Identity{
		ID:         rec.ID(),
		Email:      rec.String("email"),
		FullName:   rec.String("full_name"),
		Role:       ParseRole(rec.String("role")),
		Department: rec.String("department"),
		Status:     status,
	}
}

func ToRecord(ident Identity) generic.Record {
	return generic.Record{
		"id":         ident.ID,
		"email":      ident.Email,
		"full_name":  ident.FullName,
		"role":       string(ident.Role),
		"department": ident.Department,
		"status":     string(ident.Status),
	}
}
