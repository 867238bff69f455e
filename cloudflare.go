package ipsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudflare/cloudflare-go"
	"github.com/sirupsen/logrus"
)

// recordsPerPage is the page size used when listing records.
// Only the first page is requested; Synchronizer.Drain re-lists until nothing is left.
const recordsPerPage = 100

func newCloudflareProvider(token string, httpClient *http.Client, opts ...cloudflare.Option) (cf *cloudflareProvider, err error) {
	if httpClient != nil {
		opts = append([]cloudflare.Option{cloudflare.HTTPClient(httpClient)}, opts...)
	}
	cf = new(cloudflareProvider)
	cf.api, err = cloudflare.NewWithAPIToken(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	cf.logger = discard
	cf.comment = "managed by ipsync"
	return cf, nil
}

// cloudflareProvider implements ipsync.Provider.
type cloudflareProvider struct {
	api     *cloudflare.API
	logger  logrus.FieldLogger
	comment string // attached to each new DNS record
}

func (cf *cloudflareProvider) LookupZone(ctx context.Context, domain string) (Zone, error) {
	cf.logger.WithField("domain", domain).Debug("looking up zone")

	zones, err := cf.api.ListZones(ctx, domain)
	if err != nil {
		// cloudflare-go reports a 403 as an AuthenticationError
		var authErr *cloudflare.AuthenticationError
		if errors.As(err, &authErr) {
			return Zone{}, fmt.Errorf("%w: check that the API token is valid and has Zone permission for %s: %w", ErrForbidden, domain, err)
		}
		return Zone{}, fmt.Errorf("error listing zones: %w", err)
	}
	if len(zones) == 0 {
		return Zone{}, fmt.Errorf("%w: %s (check that the domain exists in Cloudflare and the token can access it)", ErrZoneNotFound, domain)
	}
	if len(zones) > 1 {
		cf.logger.WithField("domain", domain).Warnf("%d zones share this name, using %s", len(zones), zones[0].ID)
	}
	return Zone{ID: zones[0].ID, Name: zones[0].Name}, nil
}

func (cf *cloudflareProvider) ListRecords(ctx context.Context, zoneID, name string) ([]Record, error) {
	records, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.ListDNSRecordsParams{
		Type: "A",
		Name: name,
		// an explicit page turns off the client's auto-pagination
		ResultInfo: cloudflare.ResultInfo{Page: 1, PerPage: recordsPerPage},
	})
	if err != nil {
		return nil, err
	}
	cf.logger.WithField("record", name).Debugf("found %d existing records", len(records))

	out := make([]Record, 0, len(records))
	for _, r := range records {
		out = append(out, Record{
			ID:      r.ID,
			Type:    r.Type,
			Name:    r.Name,
			Content: r.Content,
			TTL:     r.TTL,
			Proxied: r.Proxied != nil && *r.Proxied,
		})
	}
	return out, nil
}

func (cf *cloudflareProvider) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	return cf.api.DeleteDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), recordID)
}

func (cf *cloudflareProvider) CreateRecord(ctx context.Context, zoneID string, record Record) error {
	_, err := cf.api.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.CreateDNSRecordParams{
		Type:    record.Type,
		Name:    record.Name,
		Content: record.Content,
		ZoneID:  zoneID,
		TTL:     record.TTL,
		Proxied: cloudflare.BoolPtr(record.Proxied),
		Comment: cf.comment,
	})
	return err
}
