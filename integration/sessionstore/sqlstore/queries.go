package sqlstore

import "fmt"

type queries struct {
	selectSession          string
	selectSessionForUpdate string
	selectPrimaryID        string
	selectAttributes       string
	selectIndexes          string
	insertSession          string
	insertAttribute        string
	insertIndex            string
	upsertAttribute        string
	upsertIndex            string
	deleteAttribute        string
	deleteIndex            string
	deleteSession          string
	rename                 string
	findByIndex            string
	removeIndexEntry       string
	scanExpired            string
	scanExpiredLimit       string
}

func buildQueries(d Dialect, table string) queries {
	attrs := table + "_attributes"
	indexes := table + "_indexes"
	sessionCols := "primary_id, creation_time, last_access_time, max_inactive_interval"

	q := queries{
		selectSession:          fmt.Sprintf("SELECT %s FROM %s WHERE session_id = ?", sessionCols, table),
		selectSessionForUpdate: fmt.Sprintf("SELECT %s FROM %s WHERE session_id = ? FOR UPDATE", sessionCols, table),
		selectPrimaryID:        fmt.Sprintf("SELECT primary_id FROM %s WHERE session_id = ?", table),
		selectAttributes:       fmt.Sprintf("SELECT attribute_name, attribute_bytes FROM %s WHERE session_primary_id = ?", attrs),
		selectIndexes:          fmt.Sprintf("SELECT index_name, index_value FROM %s WHERE session_primary_id = ?", indexes),
		insertSession: fmt.Sprintf("INSERT INTO %s (primary_id, session_id, creation_time, last_access_time, max_inactive_interval, expiry_time) VALUES (?, ?, ?, ?, ?, ?)",
			table),
		insertAttribute: fmt.Sprintf("INSERT INTO %s (session_primary_id, attribute_name, attribute_bytes) VALUES (?, ?, ?)", attrs),
		insertIndex:     fmt.Sprintf("INSERT INTO %s (session_primary_id, index_name, index_value) VALUES (?, ?, ?)", indexes),
		upsertAttribute: fmt.Sprintf("INSERT INTO %s (session_primary_id, attribute_name, attribute_bytes) VALUES (?, ?, ?) %s",
			attrs, d.onConflict("session_primary_id, attribute_name", "attribute_bytes")),
		upsertIndex: fmt.Sprintf("INSERT INTO %s (session_primary_id, index_name, index_value) VALUES (?, ?, ?) %s",
			indexes, d.onConflict("session_primary_id, index_name", "index_value")),
		deleteAttribute: fmt.Sprintf("DELETE FROM %s WHERE session_primary_id = ? AND attribute_name = ?", attrs),
		deleteIndex:     fmt.Sprintf("DELETE FROM %s WHERE session_primary_id = ? AND index_name = ?", indexes),
		deleteSession:   fmt.Sprintf("DELETE FROM %s WHERE primary_id = ?", table),
		rename:          fmt.Sprintf("UPDATE %s SET session_id = ? WHERE session_id = ?", table),
		findByIndex: fmt.Sprintf("SELECT s.session_id FROM %s i JOIN %s s ON s.primary_id = i.session_primary_id WHERE i.index_name = ? AND i.index_value = ? ORDER BY s.session_id",
			indexes, table),
		removeIndexEntry: fmt.Sprintf("DELETE FROM %s WHERE index_name = ? AND index_value = ? AND session_primary_id IN (SELECT primary_id FROM %s WHERE session_id = ?)",
			indexes, table),
		scanExpired:      fmt.Sprintf("SELECT session_id FROM %s WHERE expiry_time IS NOT NULL AND expiry_time < ? ORDER BY expiry_time", table),
		scanExpiredLimit: fmt.Sprintf("SELECT session_id FROM %s WHERE expiry_time IS NOT NULL AND expiry_time < ? ORDER BY expiry_time LIMIT ?", table),
	}

	for _, p := range []*string{
		&q.selectSession, &q.selectSessionForUpdate, &q.selectPrimaryID, &q.selectAttributes,
		&q.selectIndexes, &q.insertSession, &q.insertAttribute, &q.insertIndex,
		&q.upsertAttribute, &q.upsertIndex, &q.deleteAttribute, &q.deleteIndex,
		&q.deleteSession, &q.rename, &q.findByIndex, &q.removeIndexEntry,
		&q.scanExpired, &q.scanExpiredLimit,
	} {
		*p = d.rebind(*p)
	}
	return q
}
