package trcb

import "time"

// Config carries the tunables of a Node's event loop. Zero-valued fields are filled in
// by NewConfig with the defaults from spec §6's configuration table.
type Config struct {
	// DeliverLocally controls whether a Node invokes its own DeliveryHandler for
	// messages it originates, in addition to forwarding them. Default false.
	DeliverLocally bool
	// CheckResendInterval is how often the retransmit queue is scanned for entries
	// past their deadline. Default 5s.
	CheckResendInterval time.Duration
	// ResendAfter is how long a cast frame may go unacknowledged by a destination
	// before it is retransmitted to that destination. Default 10s.
	ResendAfter time.Duration
}

// DefaultConfig returns the spec's default tunables.
func DefaultConfig() Config {
	return Config{
		DeliverLocally:      false,
		CheckResendInterval: 5 * time.Second,
		ResendAfter:         10 * time.Second,
	}
}

// NewConfig returns cfg with every zero-valued duration field replaced by its default.
// DeliverLocally is left as given, since false is both its zero value and its default.
func NewConfig(cfg Config) Config {
	d := DefaultConfig()
	if cfg.CheckResendInterval <= 0 {
		cfg.CheckResendInterval = d.CheckResendInterval
	}
	if cfg.ResendAfter <= 0 {
		cfg.ResendAfter = d.ResendAfter
	}
	return cfg
}
