package logger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsPublisher is the CloudWatch call the logger needs.
type MetricsPublisher interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var (
	cwMu        sync.RWMutex
	cwClient    MetricsPublisher
	cwNamespace = "Stocklake"
)

// InitCloudWatch initialises the CloudWatch client using the provided region
// and namespace. If region is empty it falls back to AWS_REGION. When the
// client cannot be created metrics publishing stays disabled and the error is
// returned for the caller to log.
func InitCloudWatch(ctx context.Context, region, namespace string) error {
	log := GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration; CloudWatch metrics disabled: %w", err)
	}

	client := cloudwatch.NewFromConfig(cfg)
	SetMetricsPublisher(client, namespace)

	log.WithFields(Fields{"region": region, "namespace": namespace}).Info("initialized CloudWatch client")

	CreateDefaultDashboard(ctx, client, "stocklake-"+strings.ToLower(namespace))
	return nil
}

// SetMetricsPublisher installs the metrics sink. A nil publisher disables
// publishing.
func SetMetricsPublisher(p MetricsPublisher, namespace string) {
	cwMu.Lock()
	defer cwMu.Unlock()
	cwClient = p
	if namespace != "" {
		cwNamespace = namespace
	}
}

// publishMetrics sends the provided metric data to CloudWatch when the client
// has been initialised.
func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	log := GetLogger().WithComponent("cloudwatch")

	cwMu.RLock()
	client, namespace := cwClient, cwNamespace
	cwMu.RUnlock()

	if client == nil {
		log.Debug("CloudWatch client not initialized; skipping metric publish")
		return
	}
	if len(data) == 0 {
		return
	}

	if _, err := client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(namespace),
		MetricData: data,
	}); err != nil {
		log.WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, datum := range data {
		if datum.MetricName != nil {
			names = append(names, *datum.MetricName)
		}
	}

	log.WithField("metrics", strings.Join(names, ",")).Debug("published metrics to CloudWatch")
}

// CreateDefaultDashboard ensures a dashboard with the per stage row counts
// exists. Failures are logged but do not stop execution.
func CreateDefaultDashboard(ctx context.Context, client *cloudwatch.Client, name string) {
	if client == nil {
		return
	}

	cwMu.RLock()
	namespace := cwNamespace
	cwMu.RUnlock()

	var metrics []string
	for _, stage := range []string{"bronze", "silver", "gold"} {
		metrics = append(metrics, fmt.Sprintf(`["%s","StageRows","stage","%s"]`, namespace, stage))
	}
	body := fmt.Sprintf(`{
"widgets": [{
"type": "metric",
"width": 24,
"height": 6,
"properties": {
"metrics": [%s, ["%s","ExtractionFailures"], ["%s","RunFailed"]],
"period": 86400,
"stat": "Sum",
"title": "Stocklake runs"
}
}]
}`, strings.Join(metrics, ","), namespace, namespace)

	if _, err := client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(name),
		DashboardBody: aws.String(body),
	}); err != nil {
		GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}
