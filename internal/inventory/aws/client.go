// Package aws implements the RDS-backed inventory for rdswitch.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/rdswitch/pkg/instance"
)

// Client implements inventory.Inventory on top of the RDS API.
type Client struct {
	region    string
	rdsClient RDSAPI
}

// Config holds AWS inventory configuration.
type Config struct {
	Region  string
	Profile string
}

// New creates a new RDS inventory from the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewWithClient(awsCfg.Region, rds.NewFromConfig(awsCfg)), nil
}

// NewWithClient wraps an existing RDS client.
func NewWithClient(region string, client RDSAPI) *Client {
	return &Client{region: region, rdsClient: client}
}

// ListInstances pages through every DB instance in the region.
func (c *Client) ListInstances(ctx context.Context) ([]instance.Instance, error) {
	paginator := rds.NewDescribeDBInstancesPaginator(c.rdsClient, &rds.DescribeDBInstancesInput{})

	var instances []instance.Instance
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe db instances: %w", err)
		}

		for _, db := range output.DBInstances {
			instances = append(instances, convertDBInstance(db))
		}
	}

	log.Debug().Str("region", c.region).Int("count", len(instances)).Msg("listed db instances")
	return instances, nil
}

// ListTags returns the tags of the instance with the given ARN.
func (c *Client) ListTags(ctx context.Context, arn string) ([]instance.Tag, error) {
	output, err := c.rdsClient.ListTagsForResource(ctx, &rds.ListTagsForResourceInput{
		ResourceName: aws.String(arn),
	})
	if err != nil {
		return nil, fmt.Errorf("list tags for %s: %w", arn, err)
	}
	return convertTags(output.TagList), nil
}

// RequestStart starts a stopped DB instance.
func (c *Client) RequestStart(ctx context.Context, id string) error {
	_, err := c.rdsClient.StartDBInstance(ctx, &rds.StartDBInstanceInput{
		DBInstanceIdentifier: aws.String(id),
	})
	if err != nil {
		return fmt.Errorf("start db instance %s: %w", id, err)
	}
	return nil
}

// RequestStop stops an available DB instance.
func (c *Client) RequestStop(ctx context.Context, id string) error {
	_, err := c.rdsClient.StopDBInstance(ctx, &rds.StopDBInstanceInput{
		DBInstanceIdentifier: aws.String(id),
	})
	if err != nil {
		return fmt.Errorf("stop db instance %s: %w", id, err)
	}
	return nil
}

func convertDBInstance(db rdstypes.DBInstance) instance.Instance {
	return instance.Instance{
		ID:     aws.ToString(db.DBInstanceIdentifier),
		ARN:    aws.ToString(db.DBInstanceArn),
		Status: aws.ToString(db.DBInstanceStatus),
		Engine: aws.ToString(db.Engine),
		Class:  aws.ToString(db.DBInstanceClass),
	}
}

// convertTags keeps the backend order; the consent check depends on it.
func convertTags(tags []rdstypes.Tag) []instance.Tag {
	result := make([]instance.Tag, 0, len(tags))
	for _, tag := range tags {
		result = append(result, instance.Tag{
			Key:   aws.ToString(tag.Key),
			Value: aws.ToString(tag.Value),
		})
	}
	return result
}
