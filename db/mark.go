package db

import (
	"context"
	"fmt"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

func validateFlagField(field string) error {
	if field != "is_read" && field != "is_saved" {
		return fmt.Errorf("invalid mark field %q", field)
	}
	return nil
}

// MarkItem sets is_read or is_saved on a single item.
func (d *DB) MarkItem(ctx context.Context, itemID int64, field string, value bool) error {
	if err := validateFlagField(field); err != nil {
		return err
	}
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("items").Set(ub.Assign(field, boolToInt(value))).Where(ub.Equal("id", itemID))
	query, args := ub.BuildWithFlavor(sqlbuilder.SQLite)
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark item: %w", err)
	}
	return nil
}

// MarkFeed sets is_read or is_saved on every item of a feed whose added_on
// is earlier than before, as a single set-oriented update.
func (d *DB) MarkFeed(ctx context.Context, feedID int64, field string, value bool, before int64) error {
	if err := validateFlagField(field); err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE items SET %s = ? WHERE feed_id = ? AND added_on_time < ?", field)
	res, err := d.db.ExecContext(ctx, query, boolToInt(value), feedID, before)
	if err != nil {
		return fmt.Errorf("mark feed: %w", err)
	}
	logMarked(res, field)
	return nil
}

// MarkGroup sets is_read or is_saved on every item of every feed linked to
// a group, older than before, as a single set-oriented update.
func (d *DB) MarkGroup(ctx context.Context, groupID int64, field string, value bool, before int64) error {
	if err := validateFlagField(field); err != nil {
		return err
	}
	query := fmt.Sprintf(
		"UPDATE items SET %s = ? WHERE feed_id IN (SELECT feed_id FROM feeds_groups WHERE group_id = ?) AND added_on_time < ?",
		field)
	res, err := d.db.ExecContext(ctx, query, boolToInt(value), groupID, before)
	if err != nil {
		return fmt.Errorf("mark group: %w", err)
	}
	logMarked(res, field)
	return nil
}

func logMarked(res interface{ RowsAffected() (int64, error) }, field string) {
	if affected, err := res.RowsAffected(); err == nil {
		log.WithFields(log.Fields{
			"field": field,
			"rows":  affected,
		}).Debug("Bulk mark applied")
	}
}
