package store

import "encoding/json"

// Domain names one persisted document.
type Domain string

const (
	DomainBotConfig Domain = "botconfig"
	DomainUsers     Domain = "users"
	DomainAnalytics Domain = "analytics"
)

// Domains lists every persisted domain.
var Domains = []Domain{DomainBotConfig, DomainUsers, DomainAnalytics}

// Store persists one JSON document per domain. Save replaces the whole
// document atomically; Load returns nil for a domain never saved.
type Store interface {
	Load(domain Domain) (json.RawMessage, error)
	Save(domain Domain, doc json.RawMessage) error
	Close() error
}

// SaveValue marshals v and saves it under domain.
func SaveValue(s Store, domain Domain, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return s.Save(domain, data)
}

// LoadValue loads domain into v. Returns (false, nil) when no document
// exists yet.
func LoadValue(s Store, domain Domain, v any) (bool, error) {
	data, err := s.Load(domain)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}
