package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// LoadAWSConfig загружает конфигурацию AWS SDK для региона region.
func LoadAWSConfig(ctx context.Context, region string) (sdkaws.Config, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// SQSAPI: часть клиента SQS, нужная репортеру.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// CloudWatchAPI: часть клиента CloudWatch, нужная репортеру.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// SQSReporter публикует события в очередь операторов.
type SQSReporter struct {
	client   SQSAPI
	queueURL string
}

// NewSQSReporter создаёт SQSReporter.
func NewSQSReporter(client SQSAPI, queueURL string) *SQSReporter {
	return &SQSReporter{client: client, queueURL: queueURL}
}

// Report отправляет событие JSON-сообщением с атрибутом kind.
func (r *SQSReporter) Report(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	_, err = r.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    sdkaws.String(r.queueURL),
		MessageBody: sdkaws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"kind": {
				DataType:    sdkaws.String("String"),
				StringValue: sdkaws.String(string(ev.Kind)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// MetricsReporter считает события метрикой CloudWatch с измерением Kind.
type MetricsReporter struct {
	client    CloudWatchAPI
	namespace string
}

// NewMetricsReporter создаёт MetricsReporter.
func NewMetricsReporter(client CloudWatchAPI, namespace string) *MetricsReporter {
	if namespace == "" {
		namespace = "FoodDispatch"
	}
	return &MetricsReporter{client: client, namespace: namespace}
}

// Report публикует единичное значение метрики OpsAlerts.
func (r *MetricsReporter) Report(ctx context.Context, ev Event) error {
	at := ev.At
	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: sdkaws.String("OpsAlerts"),
				Value:      sdkaws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Timestamp:  &at,
				Dimensions: []cwtypes.Dimension{
					{Name: sdkaws.String("Kind"), Value: sdkaws.String(string(ev.Kind))},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

// NewAWSReporters собирает репортеры SQS и CloudWatch из конфигурации SDK.
// Пустой queueURL отключает SQS.
func NewAWSReporters(cfg sdkaws.Config, queueURL, namespace string) Multi {
	var out Multi
	if queueURL != "" {
		out = append(out, NewSQSReporter(sqs.NewFromConfig(cfg), queueURL))
	}
	out = append(out, NewMetricsReporter(cloudwatch.NewFromConfig(cfg), namespace))
	return out
}
