package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Group validation constants
const (
	MaxGroupNameLength = 100
)

// groupNameForbidden are filesystem-special characters rejected in names.
const groupNameForbidden = `/\:*?"<>|`

// GroupColors is the fixed color palette for group tags.
var GroupColors = []string{
	"blue", "green", "red", "yellow", "purple", "orange", "teal", "pink", "gray",
}

// DefaultGroupColor is assigned when no color is given.
const DefaultGroupColor = "blue"

// Group errors
var (
	ErrGroupNotFound      = errors.New("store: group not found")
	ErrGroupNameRequired  = errors.New("store: group name is required")
	ErrGroupNameTooLong   = errors.New("store: group name is too long")
	ErrGroupNameForbidden = errors.New("store: group name contains forbidden characters")
	ErrGroupNameTaken     = errors.New("store: a sibling group already has this name")
	ErrGroupColorInvalid  = errors.New("store: group color is not in the palette")
	ErrGroupCycle         = errors.New("store: group parent assignment would create a cycle")
	ErrGroupParentMissing = errors.New("store: parent group not found")
)

// Group is a hierarchical container for credentials or notes.
// Name is unique among siblings (NULL parent is its own scope),
// SortOrder determines display order within a parent.
type Group struct {
	ID        int64
	Name      string
	ParentID  *int64
	Color     string
	SortOrder int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GroupNode is a group with its resolved children, ordered by sort.
type GroupNode struct {
	Group
	Children []*GroupNode
}

// GroupStore manages one group table. Two independent instances exist,
// one per entity family (credential groups and note groups).
type GroupStore struct {
	db    *sql.DB
	table string
}

// NewCredentialGroupStore returns the store for credential groups.
func NewCredentialGroupStore(db *DB) *GroupStore {
	return &GroupStore{db: db.SQL(), table: "credential_groups"}
}

// NewNoteGroupStore returns the store for note groups.
func NewNoteGroupStore(db *DB) *GroupStore {
	return &GroupStore{db: db.SQL(), table: "note_groups"}
}

// Table returns the underlying table name.
func (s *GroupStore) Table() string {
	return s.table
}

func validateGroupName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrGroupNameRequired
	}
	if len(name) > MaxGroupNameLength {
		return ErrGroupNameTooLong
	}
	if strings.ContainsAny(name, groupNameForbidden) {
		return fmt.Errorf("%w: %q", ErrGroupNameForbidden, name)
	}
	return nil
}

func validateGroupColor(color string) error {
	for _, c := range GroupColors {
		if c == color {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrGroupColorInvalid, color)
}

// Get retrieves a group by id.
func (s *GroupStore) Get(id int64) (*Group, error) {
	row := s.db.QueryRow(fmt.Sprintf(`
		SELECT id, name, parent_id, color, sort_order, created_at, updated_at
		FROM %s WHERE id = ?`, s.table), id)
	return scanGroup(row)
}

// GetByName retrieves a group by name within a parent scope.
func (s *GroupStore) GetByName(name string, parentID *int64) (*Group, error) {
	var row *sql.Row
	if parentID == nil {
		row = s.db.QueryRow(fmt.Sprintf(`
			SELECT id, name, parent_id, color, sort_order, created_at, updated_at
			FROM %s WHERE name = ? AND parent_id IS NULL`, s.table), name)
	} else {
		row = s.db.QueryRow(fmt.Sprintf(`
			SELECT id, name, parent_id, color, sort_order, created_at, updated_at
			FROM %s WHERE name = ? AND parent_id = ?`, s.table), name, *parentID)
	}
	return scanGroup(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*Group, error) {
	g := &Group{}
	var parentID sql.NullInt64
	err := row.Scan(&g.ID, &g.Name, &parentID, &g.Color, &g.SortOrder, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to scan group: %w", err)
	}
	if parentID.Valid {
		g.ParentID = &parentID.Int64
	}
	return g, nil
}

// List returns all groups ordered by parent scope then sort.
func (s *GroupStore) List() ([]*Group, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, name, parent_id, color, sort_order, created_at, updated_at
		FROM %s
		ORDER BY parent_id NULLS FIRST, sort_order, id`, s.table))
	if err != nil {
		return nil, fmt.Errorf("store: failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating groups: %w", err)
	}
	return groups, nil
}

// Tree builds the full parent-to-children structure from the flat list.
// Children are ordered by sort ascending within each parent. Nodes whose
// parent id is dangling surface as roots so they are never silently lost.
func (s *GroupStore) Tree() ([]*GroupNode, error) {
	groups, err := s.List()
	if err != nil {
		return nil, err
	}

	nodes := make(map[int64]*GroupNode, len(groups))
	for _, g := range groups {
		nodes[g.ID] = &GroupNode{Group: *g}
	}

	var roots []*GroupNode
	for _, g := range groups {
		node := nodes[g.ID]
		if g.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*g.ParentID]
		if !ok || *g.ParentID == g.ID {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	return roots, nil
}

// Save inserts the group when ID is zero, otherwise updates it.
//
// Sort maintenance: an insert without an explicit sort (SortOrder == 0)
// gets max(sibling sort) + 1; an update that moves the group to a new
// parent without changing SortOrder gets the new parent's next value.
func (s *GroupStore) Save(g *Group) error {
	if err := validateGroupName(g.Name); err != nil {
		return err
	}
	if g.Color == "" {
		g.Color = DefaultGroupColor
	}
	if err := validateGroupColor(g.Color); err != nil {
		return err
	}

	if g.ParentID != nil {
		if _, err := s.Get(*g.ParentID); err != nil {
			if errors.Is(err, ErrGroupNotFound) {
				return fmt.Errorf("%w: id %d", ErrGroupParentMissing, *g.ParentID)
			}
			return err
		}
	}

	if err := s.checkSiblingName(g); err != nil {
		return err
	}

	now := time.Now().UTC()

	if g.ID == 0 {
		if g.SortOrder == 0 {
			next, err := s.nextSortOrder(g.ParentID)
			if err != nil {
				return err
			}
			g.SortOrder = next
		}
		res, err := s.db.Exec(fmt.Sprintf(`
			INSERT INTO %s (name, parent_id, color, sort_order, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`, s.table),
			g.Name, nullableID(g.ParentID), g.Color, g.SortOrder, now, now)
		if err != nil {
			return fmt.Errorf("store: failed to create group: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: failed to get group id: %w", err)
		}
		g.ID = id
		g.CreatedAt = now
		g.UpdatedAt = now
		return nil
	}

	existing, err := s.Get(g.ID)
	if err != nil {
		return err
	}

	if g.ParentID != nil {
		if *g.ParentID == g.ID {
			return ErrGroupCycle
		}
		if err := s.checkCycle(g.ID, *g.ParentID); err != nil {
			return err
		}
	}

	// Reparenting without an explicit sort gets the new parent's next slot.
	if !sameParent(existing.ParentID, g.ParentID) && g.SortOrder == existing.SortOrder {
		next, err := s.nextSortOrder(g.ParentID)
		if err != nil {
			return err
		}
		g.SortOrder = next
	}

	_, err = s.db.Exec(fmt.Sprintf(`
		UPDATE %s SET name = ?, parent_id = ?, color = ?, sort_order = ?, updated_at = ?
		WHERE id = ?`, s.table),
		g.Name, nullableID(g.ParentID), g.Color, g.SortOrder, now, g.ID)
	if err != nil {
		return fmt.Errorf("store: failed to update group: %w", err)
	}
	g.UpdatedAt = now
	return nil
}

// Delete removes a group. Children and member entities keep existing via
// the schema's ON DELETE SET NULL; afterwards every parent scope's sort
// sequence is recomputed densely in creation order.
func (s *GroupStore) Delete(id int64) error {
	res, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.table), id)
	if err != nil {
		return fmt.Errorf("store: failed to delete group: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrGroupNotFound
	}

	return s.resequence()
}

// resequence rewrites sort orders densely (1..n) per parent scope, in
// creation (id) order. Vault-scale data, so a full pass is fine.
func (s *GroupStore) resequence() error {
	rows, err := s.db.Query(fmt.Sprintf(
		"SELECT id, parent_id, sort_order FROM %s ORDER BY parent_id NULLS FIRST, id", s.table))
	if err != nil {
		return fmt.Errorf("store: failed to load groups for resequence: %w", err)
	}

	type slot struct {
		id   int64
		want int
	}
	var updates []slot
	counts := make(map[int64]int) // parent id -> next sort; 0 key is the root scope
	for rows.Next() {
		var id int64
		var parentID sql.NullInt64
		var sort int
		if err := rows.Scan(&id, &parentID, &sort); err != nil {
			rows.Close()
			return fmt.Errorf("store: failed to scan group: %w", err)
		}
		scope := int64(0)
		if parentID.Valid {
			scope = parentID.Int64
		}
		counts[scope]++
		if sort != counts[scope] {
			updates = append(updates, slot{id: id, want: counts[scope]})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("store: error iterating groups: %w", err)
	}
	rows.Close()

	for _, u := range updates {
		if _, err := s.db.Exec(fmt.Sprintf(
			"UPDATE %s SET sort_order = ? WHERE id = ?", s.table), u.want, u.id); err != nil {
			return fmt.Errorf("store: failed to resequence group %d: %w", u.id, err)
		}
	}
	return nil
}

func (s *GroupStore) checkSiblingName(g *Group) error {
	var query string
	var args []any
	if g.ParentID == nil {
		query = fmt.Sprintf("SELECT id FROM %s WHERE name = ? AND parent_id IS NULL AND id != ?", s.table)
		args = []any{g.Name, g.ID}
	} else {
		query = fmt.Sprintf("SELECT id FROM %s WHERE name = ? AND parent_id = ? AND id != ?", s.table)
		args = []any{g.Name, *g.ParentID, g.ID}
	}

	var existing int64
	err := s.db.QueryRow(query, args...).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: failed to check sibling names: %w", err)
	}
	return fmt.Errorf("%w: %q", ErrGroupNameTaken, g.Name)
}

// checkCycle walks the candidate parent's ancestor chain with a visited
// set. Encountering the node's own id, or any repeated id (disconnected
// cycle corruption), fails the parent assignment.
func (s *GroupStore) checkCycle(id, newParentID int64) error {
	visited := map[int64]bool{}
	current := newParentID
	for {
		if current == id {
			return ErrGroupCycle
		}
		if visited[current] {
			return ErrGroupCycle
		}
		visited[current] = true

		var parentID sql.NullInt64
		err := s.db.QueryRow(fmt.Sprintf(
			"SELECT parent_id FROM %s WHERE id = ?", s.table), current).Scan(&parentID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: failed to walk group ancestors: %w", err)
		}
		if !parentID.Valid {
			return nil
		}
		current = parentID.Int64
	}
}

func (s *GroupStore) nextSortOrder(parentID *int64) (int, error) {
	var query string
	var args []any
	if parentID == nil {
		query = fmt.Sprintf("SELECT COALESCE(MAX(sort_order), 0) + 1 FROM %s WHERE parent_id IS NULL", s.table)
	} else {
		query = fmt.Sprintf("SELECT COALESCE(MAX(sort_order), 0) + 1 FROM %s WHERE parent_id = ?", s.table)
		args = []any{*parentID}
	}
	var next int
	if err := s.db.QueryRow(query, args...).Scan(&next); err != nil {
		return 0, fmt.Errorf("store: failed to compute next sort order: %w", err)
	}
	return next, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
