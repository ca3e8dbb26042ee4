package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		stmts := []string{
			`CREATE TABLE users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				username TEXT NOT NULL,
				is_admin BOOLEAN NOT NULL DEFAULT FALSE
			)`,
			`CREATE UNIQUE INDEX ux_users_username ON users (username)`,

			`CREATE TABLE libraries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL,
				catalog_path TEXT NOT NULL,
				deleted_at TIMESTAMPTZ
			)`,

			`CREATE TABLE author_metadata (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL,
				sort_name TEXT NOT NULL DEFAULT '',
				openlibrary_key TEXT,
				biography TEXT,
				birth_date TEXT,
				death_date TEXT,
				work_count INTEGER NOT NULL DEFAULT 0,
				ratings_count INTEGER NOT NULL DEFAULT 0,
				average_rating REAL,
				last_synced_at TIMESTAMPTZ
			)`,
			`CREATE UNIQUE INDEX ux_author_metadata_openlibrary_key ON author_metadata (openlibrary_key) WHERE openlibrary_key IS NOT NULL`,

			`CREATE TABLE author_remote_ids (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				author_id INTEGER NOT NULL REFERENCES author_metadata (id),
				id_type TEXT NOT NULL,
				value TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX ux_author_remote_ids_author_id_id_type ON author_remote_ids (author_id, id_type)`,

			`CREATE TABLE author_photos (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				author_id INTEGER NOT NULL REFERENCES author_metadata (id),
				remote_photo_id TEXT,
				url TEXT NOT NULL,
				is_primary BOOLEAN NOT NULL DEFAULT FALSE
			)`,
			`CREATE INDEX ix_author_photos_author_id ON author_photos (author_id)`,

			`CREATE TABLE alternate_names (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				author_id INTEGER NOT NULL REFERENCES author_metadata (id),
				name TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX ux_alternate_names_author_id_name ON alternate_names (author_id, name)`,

			`CREATE TABLE author_links (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				author_id INTEGER NOT NULL REFERENCES author_metadata (id),
				title TEXT NOT NULL DEFAULT '',
				url TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX ux_author_links_author_id_url ON author_links (author_id, url)`,

			`CREATE TABLE author_works (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				author_id INTEGER NOT NULL REFERENCES author_metadata (id),
				work_key TEXT NOT NULL,
				title TEXT NOT NULL,
				sort_title TEXT NOT NULL DEFAULT '',
				first_published INTEGER,
				ratings_count INTEGER NOT NULL DEFAULT 0,
				average_rating REAL
			)`,
			`CREATE UNIQUE INDEX ux_author_works_author_id_work_key ON author_works (author_id, work_key)`,

			`CREATE TABLE work_subjects (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				work_id INTEGER NOT NULL REFERENCES author_works (id),
				subject TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX ux_work_subjects_work_id_subject ON work_subjects (work_id, subject)`,

			`CREATE TABLE author_user_metadata (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				author_id INTEGER NOT NULL REFERENCES author_metadata (id),
				name TEXT,
				biography TEXT
			)`,
			`CREATE UNIQUE INDEX ux_author_user_metadata_author_id ON author_user_metadata (author_id)`,

			`CREATE TABLE author_user_photos (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				author_id INTEGER NOT NULL REFERENCES author_metadata (id),
				filename TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX ux_author_user_photos_author_id_filename ON author_user_photos (author_id, filename)`,

			`CREATE TABLE author_mappings (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				library_id INTEGER NOT NULL REFERENCES libraries (id),
				calibre_author_id INTEGER NOT NULL,
				author_id INTEGER NOT NULL REFERENCES author_metadata (id),
				match_method TEXT NOT NULL DEFAULT '',
				confidence REAL NOT NULL DEFAULT 0
			)`,
			`CREATE UNIQUE INDEX ux_author_mappings_calibre_author_id_library_id ON author_mappings (calibre_author_id, library_id)`,
			`CREATE INDEX ix_author_mappings_author_id ON author_mappings (author_id)`,

			`CREATE TABLE author_similarities (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				author_id INTEGER NOT NULL REFERENCES author_metadata (id),
				other_id INTEGER NOT NULL REFERENCES author_metadata (id),
				score REAL NOT NULL,
				CHECK (author_id < other_id)
			)`,
			`CREATE UNIQUE INDEX ux_author_similarities_author_id_other_id ON author_similarities (author_id, other_id)`,

			`CREATE TABLE tasks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				type TEXT NOT NULL,
				status TEXT NOT NULL,
				progress REAL NOT NULL DEFAULT 0,
				data TEXT NOT NULL,
				user_id INTEGER REFERENCES users (id),
				process_id TEXT,
				cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
				error TEXT,
				started_at TIMESTAMPTZ,
				ended_at TIMESTAMPTZ
			)`,
			`CREATE INDEX ix_tasks_status ON tasks (status)`,
			`CREATE INDEX ix_tasks_type_status ON tasks (type, status)`,

			`CREATE TABLE task_stats (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				task_type TEXT NOT NULL,
				runs INTEGER NOT NULL DEFAULT 0,
				avg_duration_ms REAL NOT NULL DEFAULT 0,
				min_duration_ms REAL NOT NULL DEFAULT 0,
				max_duration_ms REAL NOT NULL DEFAULT 0,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE UNIQUE INDEX ux_task_stats_task_type ON task_stats (task_type)`,

			`CREATE TABLE broker_messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				topic TEXT NOT NULL,
				payload TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				attempts INTEGER NOT NULL DEFAULT 0,
				claimed_by TEXT,
				claimed_at TIMESTAMPTZ
			)`,
			`CREATE INDEX ix_broker_messages_topic_status ON broker_messages (topic, status)`,

			`CREATE TABLE broker_counters (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				key TEXT NOT NULL,
				remaining INTEGER NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE UNIQUE INDEX ux_broker_counters_key ON broker_counters (key)`,
		}

		for _, stmt := range stmts {
			_, err := db.Exec(stmt)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	down := func(_ context.Context, db *bun.DB) error {
		tables := []string{
			"broker_counters",
			"broker_messages",
			"task_stats",
			"tasks",
			"author_similarities",
			"author_mappings",
			"author_user_photos",
			"author_user_metadata",
			"work_subjects",
			"author_works",
			"author_links",
			"alternate_names",
			"author_photos",
			"author_remote_ids",
			"author_metadata",
			"libraries",
			"users",
		}
		for _, table := range tables {
			_, err := db.Exec("DROP TABLE IF EXISTS " + table)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
