package discovery

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"time"

	_ "modernc.org/sqlite"
)

// Cache persists the last-known record set for each discovered instance, so
// a Castlink client restarting after a crash can reconnect to a previously
// seen receiver without waiting out a full discovery round. Nothing in
// atavism persists discovery state; this is a supplemented feature,
// grounded on the teacher's config/subscription loading style of treating
// SQLite as the durable store for slowly-changing local data.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (creating if necessary) a SQLite database at path and
// ensures its schema exists.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("discovery: open cache: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS devices (
			instance_name TEXT PRIMARY KEY,
			service       TEXT NOT NULL,
			host          TEXT NOT NULL,
			port          INTEGER NOT NULL,
			addrs         TEXT NOT NULL,
			txt           TEXT NOT NULL,
			last_seen     INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("discovery: init schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// Put upserts a device's current record set.
func (c *Cache) Put(d Device) error {
	addrs := make([]string, 0, len(d.Addrs))
	for _, ip := range d.Addrs {
		addrs = append(addrs, ip.String())
	}
	addrJSON, err := json.Marshal(addrs)
	if err != nil {
		return err
	}
	txtJSON, err := json.Marshal(d.TXT)
	if err != nil {
		return err
	}

	_, err = c.db.Exec(`
		INSERT INTO devices (instance_name, service, host, port, addrs, txt, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_name) DO UPDATE SET
			service = excluded.service,
			host = excluded.host,
			port = excluded.port,
			addrs = excluded.addrs,
			txt = excluded.txt,
			last_seen = excluded.last_seen
	`, d.InstanceName, d.Service, d.Host, d.Port, string(addrJSON), string(txtJSON), d.LastSeen.Unix())
	return err
}

// Get returns the cached device by instance name, and whether it was found.
func (c *Cache) Get(instanceName string) (Device, bool, error) {
	row := c.db.QueryRow(`
		SELECT service, host, port, addrs, txt, last_seen
		FROM devices WHERE instance_name = ?
	`, instanceName)

	var service, host, addrJSON, txtJSON string
	var port uint16
	var lastSeen int64
	if err := row.Scan(&service, &host, &port, &addrJSON, &txtJSON, &lastSeen); err != nil {
		if err == sql.ErrNoRows {
			return Device{}, false, nil
		}
		return Device{}, false, err
	}

	var addrStrs []string
	if err := json.Unmarshal([]byte(addrJSON), &addrStrs); err != nil {
		return Device{}, false, err
	}
	addrs := make([]net.IP, 0, len(addrStrs))
	for _, s := range addrStrs {
		addrs = append(addrs, net.ParseIP(s))
	}
	var txt map[string]string
	if err := json.Unmarshal([]byte(txtJSON), &txt); err != nil {
		return Device{}, false, err
	}

	return Device{
		InstanceName: instanceName,
		Service:      service,
		Host:         host,
		Port:         port,
		Addrs:        addrs,
		TXT:          txt,
		LastSeen:     time.Unix(lastSeen, 0),
	}, true, nil
}

// All returns every cached device, most recently seen first, for callers
// that want a fallback candidate list when a live discovery round comes up
// empty.
func (c *Cache) All() ([]Device, error) {
	rows, err := c.db.Query(`
		SELECT instance_name, service, host, port, addrs, txt, last_seen
		FROM devices ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var instance, service, host, addrJSON, txtJSON string
		var port uint16
		var lastSeen int64
		if err := rows.Scan(&instance, &service, &host, &port, &addrJSON, &txtJSON, &lastSeen); err != nil {
			return nil, err
		}
		var addrStrs []string
		if err := json.Unmarshal([]byte(addrJSON), &addrStrs); err != nil {
			return nil, err
		}
		addrs := make([]net.IP, 0, len(addrStrs))
		for _, s := range addrStrs {
			addrs = append(addrs, net.ParseIP(s))
		}
		var txt map[string]string
		if err := json.Unmarshal([]byte(txtJSON), &txt); err != nil {
			return nil, err
		}
		out = append(out, Device{
			InstanceName: instance,
			Service:      service,
			Host:         host,
			Port:         port,
			Addrs:        addrs,
			TXT:          txt,
			LastSeen:     time.Unix(lastSeen, 0),
		})
	}
	return out, rows.Err()
}

// PruneOlderThan deletes cache entries last seen before the given time.
func (c *Cache) PruneOlderThan(cutoff time.Time) error {
	_, err := c.db.Exec(`DELETE FROM devices WHERE last_seen < ?`, cutoff.Unix())
	return err
}
