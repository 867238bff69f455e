package ipsync

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/sirupsen/logrus"
)

const (
	// AutoTTL asks the provider to choose the TTL.
	AutoTTL = 1

	// DefaultDrainRounds is the number of delete rounds Drain attempts before giving up.
	DefaultDrainRounds = 10
)

// RecordName returns the fully qualified record name for subdomain in domain.
// The subdomain "@" denotes the zone apex.
func RecordName(subdomain, domain string) string {
	if subdomain == "@" {
		return domain
	}
	return subdomain + "." + domain
}

// SyncResult counts what a Sync did to a single record name.
type SyncResult struct {
	Name    string
	Deleted int
	Created int
	Skipped int // already present
	Failed  int
}

// Synchronizer replaces the A records of a name with a list of IPs.
//
// The provider offers no "set A records to exactly this list" call,
// so every existing record is deleted first and the list is inserted afterwards.
// Changes made by someone else between the two phases are overwritten.
type Synchronizer struct {
	Provider Provider

	// MaxDrainRounds bounds the number of list-and-delete rounds in Drain.
	// Zero means DefaultDrainRounds.
	MaxDrainRounds int

	Logger logrus.FieldLogger
}

func (s *Synchronizer) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return discard
	}
	return s.Logger
}

// Sync drains name and then inserts ips.
// A drain failure aborts the sync; individual insert failures are only counted.
func (s *Synchronizer) Sync(ctx context.Context, zoneID, name string, ips []string, proxied bool) (SyncResult, error) {
	result := SyncResult{Name: name}
	deleted, err := s.Drain(ctx, zoneID, name)
	result.Deleted = deleted
	if err != nil {
		return result, err
	}
	inserted := s.Insert(ctx, zoneID, name, ips, proxied)
	result.Created, result.Skipped, result.Failed = inserted.Created, inserted.Skipped, inserted.Failed
	return result, nil
}

// Drain deletes every A record named name.
//
// The provider may return a partial set on each call,
// so Drain lists and deletes repeatedly until a list comes back empty.
// It returns ErrDrainNotConverged if records remain after MaxDrainRounds delete rounds.
func (s *Synchronizer) Drain(ctx context.Context, zoneID, name string) (deleted int, err error) {
	rounds := s.MaxDrainRounds
	if rounds < 1 {
		rounds = DefaultDrainRounds
	}
	log := s.logger().WithField("record", name)

	for round := 0; ; round++ {
		records, err := s.Provider.ListRecords(ctx, zoneID, name)
		if err != nil {
			return deleted, fmt.Errorf("error listing A records for %s: %w", name, err)
		}
		if len(records) == 0 {
			return deleted, nil
		}
		if round == rounds {
			return deleted, fmt.Errorf("%w: %s still has %d A records after %d rounds", ErrDrainNotConverged, name, len(records), rounds)
		}
		for _, r := range records {
			if err := s.Provider.DeleteRecord(ctx, zoneID, r.ID); err != nil {
				return deleted, fmt.Errorf("unable to delete DNS record %s: %w", r.ID, err)
			}
			deleted++
			log.Infof("deleted A record %s (%s)", r.ID, r.Content)
		}
	}
}

// Insert creates an A record for each IP that is not already present under name.
//
// Failures are logged per IP and do not stop the batch.
// Nothing is rolled back or retried.
func (s *Synchronizer) Insert(ctx context.Context, zoneID, name string, ips []string, proxied bool) SyncResult {
	result := SyncResult{Name: name}
	log := s.logger().WithField("record", name)

	existing := map[string]bool{}
	records, err := s.Provider.ListRecords(ctx, zoneID, name)
	if err != nil {
		log.Warnf("unable to list existing records, assuming none: %s", err)
	}
	for _, r := range records {
		existing[r.Content] = true
	}

	for _, ip := range ips {
		addr, err := netip.ParseAddr(ip)
		if err != nil || !addr.Is4() {
			result.Failed++
			log.WithField("ip", ip).Error("not an IPv4 address")
			continue
		}
		content := addr.String()
		if existing[content] {
			result.Skipped++
			log.WithField("ip", content).Info("record already exists")
			continue
		}

		err = s.Provider.CreateRecord(ctx, zoneID, Record{
			Type:    "A",
			Name:    name,
			Content: content,
			TTL:     AutoTTL,
			Proxied: proxied,
		})
		if err != nil {
			result.Failed++
			log.WithField("ip", content).Errorf("error creating record: %s", err)
			continue
		}
		existing[content] = true
		result.Created++
		log.WithField("ip", content).Infof("created record (proxied=%t)", proxied)
	}
	return result
}

// dedupe returns ips without repeats, keeping the first occurrence.
func dedupe(ips []string) []string {
	seen := make(map[string]bool, len(ips))
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		if seen[ip] {
			continue
		}
		seen[ip] = true
		out = append(out, ip)
	}
	return out
}
