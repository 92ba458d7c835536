package db

import (
	"context"
	"fmt"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"github.com/ajgon/feed-api/models"
)

// DeleteFeed removes a feed with everything that hangs off it. Items and
// link rows go first since no referential cascade is assumed.
func (d *DB) DeleteFeed(ctx context.Context, feedID int64) error {
	log.WithFields(log.Fields{"feed_id": feedID}).Info("Deleting feed")

	for _, stmt := range []struct {
		table string
		col   string
	}{
		{"items", "feed_id"},
		{"feeds_groups", "feed_id"},
		{"feeds_users", "feed_id"},
		{"feeds", "id"},
	} {
		del := sqlbuilder.NewDeleteBuilder()
		del.DeleteFrom(stmt.table).Where(del.Equal(stmt.col, feedID))
		query, args := del.BuildWithFlavor(sqlbuilder.SQLite)
		if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete from %s: %w", stmt.table, err)
		}
	}
	return nil
}

// DeleteGroup removes a group and its feed links.
func (d *DB) DeleteGroup(ctx context.Context, groupID int64) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM feeds_groups WHERE group_id = ?", groupID); err != nil {
		return fmt.Errorf("delete group links: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", groupID); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

// DeleteUser removes a user and its feed links.
func (d *DB) DeleteUser(ctx context.Context, userID int64) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM feeds_users WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("delete user links: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// AttachFeedGroup links a feed to a group. Attaching an existing pair
// yields models.ErrRelationExists.
func (d *DB) AttachFeedGroup(ctx context.Context, feedID, groupID int64) error {
	return d.attachLink(ctx, "feeds_groups", "group_id", feedID, groupID)
}

// DetachFeedGroup removes a feed/group link.
func (d *DB) DetachFeedGroup(ctx context.Context, feedID, groupID int64) error {
	_, err := d.db.ExecContext(ctx,
		"DELETE FROM feeds_groups WHERE feed_id = ? AND group_id = ?", feedID, groupID)
	if err != nil {
		return fmt.Errorf("detach feed from group: %w", err)
	}
	return nil
}

// AttachFeedUser links a feed to a user. Attaching an existing pair yields
// models.ErrRelationExists.
func (d *DB) AttachFeedUser(ctx context.Context, feedID, userID int64) error {
	return d.attachLink(ctx, "feeds_users", "user_id", feedID, userID)
}

// DetachFeedUser removes a feed/user link.
func (d *DB) DetachFeedUser(ctx context.Context, feedID, userID int64) error {
	_, err := d.db.ExecContext(ctx,
		"DELETE FROM feeds_users WHERE feed_id = ? AND user_id = ?", feedID, userID)
	if err != nil {
		return fmt.Errorf("detach feed from user: %w", err)
	}
	return nil
}

func (d *DB) attachLink(ctx context.Context, table, otherCol string, feedID, otherID int64) error {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("count(*)").From(table).
		Where(sb.Equal("feed_id", feedID)).
		Where(sb.Equal(otherCol, otherID))
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	var count int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return fmt.Errorf("check %s: %w", table, err)
	}
	if count > 0 {
		return models.ErrRelationExists
	}

	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto(table).Cols("feed_id", otherCol).Values(feedID, otherID)
	query, args = ib.BuildWithFlavor(sqlbuilder.SQLite)
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// UserEmailExists reports whether a user with the email is registered.
func (d *DB) UserEmailExists(ctx context.Context, email string) (bool, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("count(*)").From("users").Where(sb.Equal("email", email))
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	var count int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("check users: %w", err)
	}
	return count > 0, nil
}
