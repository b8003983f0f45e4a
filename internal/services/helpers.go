package services

import "database/sql"

func toNullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
