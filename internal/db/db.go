package db

import (
	"fmt"

	"logbook/internal/event"
	"logbook/internal/jobs"
	"logbook/internal/tag"
	"logbook/internal/user"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables (many2many join tables come with event.Event)
	if err := gdb.AutoMigrate(
		&user.User{},
		&tag.Tag{},
		&event.Event{},
		&event.EventEditHistory{},
		&event.Attachment{},
		&jobs.Job{},
	); err != nil {
		return err
	}

	// Helpful indexes
	stmts := []string{
		`create index if not exists idx_events_ts on events(timestamp desc, id desc);`,
		`create index if not exists idx_events_creator_ts on events(creator_id, timestamp desc);`,
		`create index if not exists idx_events_created on events(created_at desc);`,
		`create index if not exists idx_event_tags_tag on event_tags(tag_id, event_id);`,
		`create index if not exists idx_event_assignments_user on event_assignments(user_id, event_id);`,
		`create index if not exists idx_history_event on event_edit_histories(event_id, created_at);`,
		`create index if not exists idx_jobs_due on jobs(status, run_at);`,
		`create index if not exists idx_jobs_lock on jobs(status, locked_at);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
