// Package tencent publishes challenge records through Tencent Cloud DNSPod.
package tencent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmerrifield20/certledger/internal/dnspublish"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	dnspod "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/dnspod/v20210323"
	"go.uber.org/zap"
)

// defaultLine is DNSPod's default resolution line.
const defaultLine = "默认"

// Config holds Tencent Cloud credentials.
type Config struct {
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	// Zone is the hosted zone; empty takes the last two labels of each name.
	Zone string `mapstructure:"zone"`
}

// Publisher implements dnspublish.Publisher on DNSPod.
type Publisher struct {
	client *dnspod.Client
	zone   string
	logger *zap.Logger
}

var _ dnspublish.Publisher = (*Publisher)(nil)

// New creates a DNSPod-backed publisher.
func New(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("tencent: secret_id and secret_key are required")
	}
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "dnspod.tencentcloudapi.com"

	client, err := dnspod.NewClient(common.NewCredential(cfg.SecretID, cfg.SecretKey), "", cpf)
	if err != nil {
		return nil, fmt.Errorf("create dnspod client: %w", err)
	}
	return &Publisher{client: client, zone: cfg.Zone, logger: logger}, nil
}

// Name implements dnspublish.Publisher.
func (p *Publisher) Name() string { return "tencent" }

// PublishTXT implements dnspublish.Publisher.
func (p *Publisher) PublishTXT(ctx context.Context, fqdn, value string) error {
	zone, rr, err := dnspublish.SplitZone(fqdn, p.zone)
	if err != nil {
		return err
	}

	recordID, err := p.find(ctx, zone, rr)
	if err != nil {
		return err
	}
	if recordID != 0 {
		req := dnspod.NewModifyRecordRequest()
		req.Domain = common.StringPtr(zone)
		req.RecordId = common.Uint64Ptr(recordID)
		req.SubDomain = common.StringPtr(rr)
		req.RecordType = common.StringPtr(dnspublish.RecordTypeTXT)
		req.RecordLine = common.StringPtr(defaultLine)
		req.Value = common.StringPtr(value)
		if _, err := p.client.ModifyRecordWithContext(ctx, req); err != nil {
			return fmt.Errorf("modify TXT %s.%s: %w", rr, zone, err)
		}
		p.logger.Info("TXT record updated", zap.String("provider", p.Name()), zap.String("zone", zone), zap.String("rr", rr))
		return nil
	}

	req := dnspod.NewCreateRecordRequest()
	req.Domain = common.StringPtr(zone)
	req.SubDomain = common.StringPtr(rr)
	req.RecordType = common.StringPtr(dnspublish.RecordTypeTXT)
	req.RecordLine = common.StringPtr(defaultLine)
	req.Value = common.StringPtr(value)
	if _, err := p.client.CreateRecordWithContext(ctx, req); err != nil {
		return fmt.Errorf("create TXT %s.%s: %w", rr, zone, err)
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
	recordID, err := p.find(ctx, zone, rr)
	if err != nil || recordID == 0 {
		return err
	}

	req := dnspod.NewDeleteRecordRequest()
	req.Domain = common.StringPtr(zone)
	req.RecordId = common.Uint64Ptr(recordID)
	if _, err := p.client.DeleteRecordWithContext(ctx, req); err != nil {
		return fmt.Errorf("delete TXT %s.%s (id %s): %w", rr, zone, strconv.FormatUint(recordID, 10), err)
	}
	p.logger.Info("TXT record removed", zap.String("provider", p.Name()), zap.String("zone", zone), zap.String("rr", rr))
	return nil
}

// find returns the ID of the TXT record rr in zone, or 0 if absent.
func (p *Publisher) find(ctx context.Context, zone, rr string) (uint64, error) {
	req := dnspod.NewDescribeRecordListRequest()
	req.Domain = common.StringPtr(zone)
	req.Subdomain = common.StringPtr(rr)
	req.RecordType = common.StringPtr(dnspublish.RecordTypeTXT)

	resp, err := p.client.DescribeRecordListWithContext(ctx, req)
	if err != nil {
		// DNSPod reports an empty result as an error.
		if strings.Contains(err.Error(), "NoRecord") {
			return 0, nil
		}
		return 0, fmt.Errorf("describe records for %s: %w", zone, err)
	}
	if resp.Response == nil {
		return 0, nil
	}
	for _, record := range resp.Response.RecordList {
		if record.Name != nil && *record.Name == rr &&
			record.Type != nil && *record.Type == dnspublish.RecordTypeTXT && record.RecordId != nil {
			return *record.RecordId, nil
		}
	}
	return 0, nil
}
