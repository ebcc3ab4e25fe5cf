package table

import (
	"github.com/koustreak/pgtable/internal/backoff"
	"github.com/koustreak/pgtable/internal/database"
	"github.com/koustreak/pgtable/internal/filestore"
	"github.com/koustreak/pgtable/internal/logger"
)

// State is a step of table resolution.
type State int

const (
	StateUninitialized State = iota
	StateCheckingDatabase
	StateCreatingDatabase
	StateCheckingTable
	StateCreatingTable
	StateAwaitingTable
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateCheckingDatabase:
		return "checking_database"
	case StateCreatingDatabase:
		return "creating_database"
	case StateCheckingTable:
		return "checking_table"
	case StateCreatingTable:
		return "creating_table"
	case StateAwaitingTable:
		return "awaiting_table"
	case StateResolved:
		return "resolved"
	default:
		return "uninitialized"
	}
}

type options struct {
	log     *logger.Logger
	store   filestore.Store
	bucket  string
	backoff backoff.Config
	sleep   database.SleepFunc
}

// Option customises Open.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithStore sets the store data files are read from. bucket may be empty
// when the store has a default.
func WithStore(s filestore.Store, bucket string) Option {
	return func(o *options) {
		o.store = s
		o.bucket = bucket
	}
}

// WithBackoff sets the shape of the existence-polling backoff.
func WithBackoff(cfg backoff.Config) Option {
	return func(o *options) { o.backoff = cfg }
}

// WithSleep replaces the function used to wait between existence checks.
func WithSleep(fn database.SleepFunc) Option {
	return func(o *options) { o.sleep = fn }
}

func defaultOptions() options {
	return options{
		log:     logger.Nop(),
		backoff: backoff.DefaultConfig(),
		sleep:   database.Sleep,
	}
}
