// Package aws pulls monthly costs of reseller payer accounts from AWS Cost
// Explorer.
package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/config"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/provider"
)

const (
	metric       = "UnblendedCost"
	dateLayout   = "2006-01-02"
	awsEntityTag = "Amazon Web Services"
)

// CostExplorerAPI is the part of the Cost Explorer client the source uses.
type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, in *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// RetryConfig holds retry settings for throttled calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Source implements provider.CostSource on Cost Explorer. Payer accounts
// with a cross-account role are queried with credentials assumed from it.
type Source struct {
	cfg         aws.Config
	sts         *sts.Client
	externalID  string
	sessionName string
	logger      *slog.Logger
	retry       RetryConfig

	mu      sync.Mutex
	clients map[string]CostExplorerAPI
	newAPI  func(payer model.PayerAccount) CostExplorerAPI
}

// NewSource loads the default AWS configuration, optionally with static
// credentials, and returns a Source.
func NewSource(ctx context.Context, cfg config.AWSConfig, logger *slog.Logger) (*Source, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s := &Source{
		cfg:         awsCfg,
		sts:         sts.NewFromConfig(awsCfg),
		externalID:  cfg.ExternalID,
		sessionName: cfg.SessionName,
		logger:      logger,
		retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    30 * time.Second,
		},
		clients: make(map[string]CostExplorerAPI),
	}
	s.newAPI = s.costExplorerFor
	return s, nil
}

// Name returns the source name.
func (s *Source) Name() string {
	return "aws-cost-explorer"
}

// Health checks that the base credentials are usable.
func (s *Source) Health(ctx context.Context) provider.HealthStatus {
	status := provider.HealthStatus{
		LastChecked: time.Now(),
		Details:     map[string]any{"region": s.cfg.Region},
	}
	out, err := s.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		status.Message = fmt.Sprintf("AWS health check failed: %v", err)
		return status
	}
	status.Healthy = true
	status.Message = "AWS credentials valid"
	status.Details["account"] = aws.ToString(out.Account)
	return status
}

// costExplorerFor returns a client acting as payer's cross-account role,
// or with the base credentials when the payer has none.
func (s *Source) costExplorerFor(payer model.PayerAccount) CostExplorerAPI {
	if payer.CrossAccountRoleARN == "" {
		return costexplorer.NewFromConfig(s.cfg)
	}
	cfg := s.cfg.Copy()
	creds := stscreds.NewAssumeRoleProvider(s.sts, payer.CrossAccountRoleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = s.sessionName
		if s.externalID != "" {
			o.ExternalID = aws.String(s.externalID)
		}
	})
	cfg.Credentials = aws.NewCredentialsCache(creds)
	return costexplorer.NewFromConfig(cfg)
}

func (s *Source) client(payer model.PayerAccount) CostExplorerAPI {
	key := payer.AccountID + "|" + payer.CrossAccountRoleARN
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[key]
	if !ok {
		c = s.newAPI(payer)
		s.clients[key] = c
	}
	return c
}

// FetchCosts returns the unblended cost of every linked account of payer in
// period, split into the billing categories by record type and into AWS
// and Marketplace by legal entity.
func (s *Source) FetchCosts(ctx context.Context, payer model.PayerAccount, period model.BillingPeriod) ([]provider.AccountCost, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("invalid billing period %q", period)
	}
	api := s.client(payer)
	interval := &types.DateInterval{
		Start: aws.String(period.Start().Format(dateLayout)),
		End:   aws.String(period.Next().Start().Format(dateLayout)),
	}

	s.logger.Info("fetching AWS costs", "payer_account_id", payer.AccountID, "billing_period", period)

	byAccount := make(map[string]*provider.AccountCost)
	var order []string
	entry := func(id string) *provider.AccountCost {
		c, ok := byAccount[id]
		if !ok {
			c = &provider.AccountCost{UsageAccountID: id}
			byAccount[id] = c
			order = append(order, id)
		}
		return c
	}

	err := s.eachGroup(ctx, api, interval, "RECORD_TYPE", func(account, recordType string, amount decimal.Decimal) {
		addRecordType(&entry(account).Breakdown, recordType, amount)
	})
	if err != nil {
		return nil, fmt.Errorf("cost by record type: %w", err)
	}
	err = s.eachGroup(ctx, api, interval, "LEGAL_ENTITY_NAME", func(account, entity string, amount decimal.Decimal) {
		addEntity(&entry(account).Entities, entity, amount)
	})
	if err != nil {
		return nil, fmt.Errorf("cost by legal entity: %w", err)
	}

	out := make([]provider.AccountCost, 0, len(order))
	for _, id := range order {
		out = append(out, *byAccount[id])
	}
	return out, nil
}

// eachGroup pages through the monthly costs grouped by linked account and
// dimension, calling fn for every group.
func (s *Source) eachGroup(ctx context.Context, api CostExplorerAPI, interval *types.DateInterval, dimension string,
	fn func(account, value string, amount decimal.Decimal)) error {
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod:  interval,
		Granularity: types.GranularityMonthly,
		Metrics:     []string{metric},
		GroupBy: []types.GroupDefinition{
			{Type: types.GroupDefinitionTypeDimension, Key: aws.String("LINKED_ACCOUNT")},
			{Type: types.GroupDefinitionTypeDimension, Key: aws.String(dimension)},
		},
	}

	for {
		var out *costexplorer.GetCostAndUsageOutput
		err := s.withRetry(ctx, func() error {
			var err error
			out, err = api.GetCostAndUsage(ctx, input)
			return err
		})
		if err != nil {
			return err
		}
		for _, result := range out.ResultsByTime {
			for _, group := range result.Groups {
				if len(group.Keys) < 2 {
					continue
				}
				amount, err := metricAmount(group.Metrics)
				if err != nil {
					return fmt.Errorf("account %s %s: %w", group.Keys[0], group.Keys[1], err)
				}
				fn(group.Keys[0], group.Keys[1], amount)
			}
		}
		if out.NextPageToken == nil || *out.NextPageToken == "" {
			return nil
		}
		input.NextPageToken = out.NextPageToken
	}
}

func metricAmount(metrics map[string]types.MetricValue) (decimal.Decimal, error) {
	v, ok := metrics[metric]
	if !ok || v.Amount == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*v.Amount)
}

// withRetry retries fn while Cost Explorer reports throttling.
func (s *Source) withRetry(ctx context.Context, fn func() error) error {
	delay := s.retry.BaseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !isThrottled(err) || attempt >= s.retry.MaxAttempts {
			return err
		}
		s.logger.Warn("Cost Explorer throttled, retrying", "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.retry.MaxDelay {
			delay = s.retry.MaxDelay
		}
	}
}

func isThrottled(err error) bool {
	var limit *types.LimitExceededException
	return errors.As(err, &limit) || strings.Contains(err.Error(), "ThrottlingException")
}

// addRecordType books amount into the category of a Cost Explorer record
// type. Unknown record types are treated as adjustments.
func addRecordType(b *model.CostBreakdown, recordType string, amount decimal.Decimal) {
	switch recordType {
	case "Usage", "DiscountedUsage", "SavingsPlanCoveredUsage":
		b.Usage = b.Usage.Add(amount)
	case "Tax":
		b.Tax = b.Tax.Add(amount)
	case "Fee", "RIFee", "SavingsPlanRecurringFee", "SavingsPlanUpfrontFee", "Support", "Upfront", "Recurring":
		b.Fee = b.Fee.Add(amount)
	case "Credit":
		b.Credits = b.Credits.Add(amount)
	case "BundledDiscount", "Discount", "EdpDiscount", "PrivateRateDiscount", "SavingsPlanNegation", "DistributorDiscount":
		b.Discount = b.Discount.Add(amount)
	default:
		b.Adjustment = b.Adjustment.Add(amount)
	}
}

// addEntity books amount to AWS when the seller of record is an Amazon Web
// Services entity and to Marketplace otherwise.
func addEntity(e *model.EntityBreakdown, entity string, amount decimal.Decimal) {
	if strings.HasPrefix(entity, awsEntityTag) {
		e.AWS = e.AWS.Add(amount)
		return
	}
	e.Marketplace = e.Marketplace.Add(amount)
}

// Close releases cached clients.
func (s *Source) Close() error {
	s.mu.Lock()
	s.clients = make(map[string]CostExplorerAPI)
	s.mu.Unlock()
	return nil
}
