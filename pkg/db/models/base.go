package models

import "github.com/google/uuid"

// assignID fills an empty primary key. Tables do not rely on database side uuid
// defaults so the same schema runs on Postgres and SQLite.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
