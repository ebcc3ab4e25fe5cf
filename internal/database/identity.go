package database

import (
	"fmt"
	"time"
)

const (
	DefaultPort           = 5432
	DefaultMaintenanceDB  = "postgres"
	DefaultConnectTimeout = 10 * time.Second
)

// Identity holds everything needed to open a session on one database.
// Two identities with the same host, port and DBName share a cached
// connection.
type Identity struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`

	// MaintenanceDB is the database used to check, create and drop DBName.
	MaintenanceDB string `yaml:"maintenance_db"`

	// SSLMode is passed through to the driver ("disable", "require", …).
	SSLMode string `yaml:"sslmode"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Retries bounds the number of backoffs emitted while (re)connecting.
	// Zero retries forever.
	Retries int `yaml:"retries"`
}

// DefaultIdentity returns a local-development identity for dbname.
func DefaultIdentity(dbname string) Identity {
	return Identity{
		Host:           "localhost",
		Port:           DefaultPort,
		User:           "postgres",
		DBName:         dbname,
		MaintenanceDB:  DefaultMaintenanceDB,
		SSLMode:        "disable",
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Maintenance returns a copy of id pointed at the maintenance database.
func (id Identity) Maintenance() Identity {
	m := id
	m.DBName = id.MaintenanceDB
	if m.DBName == "" {
		m.DBName = DefaultMaintenanceDB
	}
	return m
}

// HostKey is the first level of the connection cache key.
func (id Identity) HostKey() string {
	port := id.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s:%d", id.Host, port)
}

// String renders the identity for logs. The password is never included.
func (id Identity) String() string {
	return fmt.Sprintf("%s@%s/%s", id.User, id.HostKey(), id.DBName)
}
