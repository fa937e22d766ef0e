// Package aliyun publishes challenge records through Alibaba Cloud DNS.
package aliyun

import (
	"context"
	"fmt"

	alidns "github.com/alibabacloud-go/alidns-20150109/v4/client"
	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/jmerrifield20/certledger/internal/dnspublish"
	"go.uber.org/zap"
)

// Config holds Alibaba Cloud credentials.
type Config struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	Region          string `mapstructure:"region"`
	// Zone is the hosted zone; empty takes the last two labels of each name.
	Zone string `mapstructure:"zone"`
}

// Publisher implements dnspublish.Publisher on alidns.
type Publisher struct {
	client *alidns.Client
	zone   string
	logger *zap.Logger
}

var _ dnspublish.Publisher = (*Publisher)(nil)

// New creates an alidns-backed publisher.
func New(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, fmt.Errorf("aliyun: access_key_id and access_key_secret are required")
	}
	endpoint := "alidns.cn-hangzhou.aliyuncs.com"
	if cfg.Region != "" {
		endpoint = fmt.Sprintf("alidns.%s.aliyuncs.com", cfg.Region)
	}

	client, err := alidns.NewClient(&openapi.Config{
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
		Endpoint:        tea.String(endpoint),
	})
	if err != nil {
		return nil, fmt.Errorf("create alidns client: %w", err)
	}
	return &Publisher{client: client, zone: cfg.Zone, logger: logger}, nil
}

// Name implements dnspublish.Publisher.
func (p *Publisher) Name() string { return "aliyun" }

// PublishTXT implements dnspublish.Publisher.
func (p *Publisher) PublishTXT(ctx context.Context, fqdn, value string) error {
	zone, rr, err := dnspublish.SplitZone(fqdn, p.zone)
	if err != nil {
		return err
	}

	recordID, err := p.find(zone, rr)
	if err != nil {
		return err
	}
	if recordID != "" {
		_, err := p.client.UpdateDomainRecord(&alidns.UpdateDomainRecordRequest{
			RecordId: tea.String(recordID),
			RR:       tea.String(rr),
			Type:     tea.String(dnspublish.RecordTypeTXT),
			Value:    tea.String(value),
		})
		if err != nil {
			return fmt.Errorf("update TXT %s.%s: %w", rr, zone, err)
		}
		p.logger.Info("TXT record updated", zap.String("provider", p.Name()), zap.String("zone", zone), zap.String("rr", rr))
		return nil
	}

	_, err = p.client.AddDomainRecord(&alidns.AddDomainRecordRequest{
		DomainName: tea.String(zone),
		RR:         tea.String(rr),
		Type:       tea.String(dnspublish.RecordTypeTXT),
		Value:      tea.String(value),
	})
	if err != nil {
		return fmt.Errorf("add TXT %s.%s: %w", rr, zone, err)
	}
	p.logger.Info("TXT record added", zap.String("provider", p.Name()), zap.String("zone", zone), zap.String("rr", rr))
	return nil
}

// RemoveTXT implements dnspublish.Publisher.
func (p *Publisher) RemoveTXT(ctx context.Context, fqdn string) error {
	zone, rr, err := dnspublish.SplitZone(fqdn, p.zone)
	if err != nil {
		return err
	}
	recordID, err := p.find(zone, rr)
	if err != nil || recordID == "" {
		return err
	}
	if _, err := p.client.DeleteDomainRecord(&alidns.DeleteDomainRecordRequest{
		RecordId: tea.String(recordID),
	}); err != nil {
		return fmt.Errorf("delete TXT %s.%s: %w", rr, zone, err)
	}
	p.logger.Info("TXT record removed", zap.String("provider", p.Name()), zap.String("zone", zone), zap.String("rr", rr))
	return nil
}

// find returns the record ID of the TXT record rr in zone, or "" if absent.
func (p *Publisher) find(zone, rr string) (string, error) {
	resp, err := p.client.DescribeDomainRecords(&alidns.DescribeDomainRecordsRequest{
		DomainName: tea.String(zone),
		RRKeyWord:  tea.String(rr),
		Type:       tea.String(dnspublish.RecordTypeTXT),
	})
	if err != nil {
		return "", fmt.Errorf("describe records for %s: %w", zone, err)
	}
	if resp.Body == nil || resp.Body.DomainRecords == nil {
		return "", nil
	}
	for _, record := range resp.Body.DomainRecords.Record {
		if tea.StringValue(record.RR) == rr && tea.StringValue(record.Type) == dnspublish.RecordTypeTXT {
			return tea.StringValue(record.RecordId), nil
		}
	}
	return "", nil
}
