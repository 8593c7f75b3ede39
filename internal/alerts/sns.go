package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

type Notifier interface {
	Notify(ctx context.Context, message string, details map[string]any)
}

type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier fans sync failures out to an SNS topic (email/Slack
// subscriptions are managed on the topic).
type SNSNotifier struct {
	client   Publisher
	topicArn string
	log      *zap.Logger
}

func NewSNSNotifier(client Publisher, topicArn string, log *zap.Logger) *SNSNotifier {
	return &SNSNotifier{client: client, topicArn: topicArn, log: log}
}

// Notify never fails the caller; publish errors are only logged.
func (n *SNSNotifier) Notify(ctx context.Context, message string, details map[string]any) {
	subject := "ListingFlow: " + message
	// SNS subjects are limited to 100 printable characters.
	subject = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, subject)
	if r := []rune(subject); len(r) > 100 {
		subject = string(r[:97]) + "..."
	}

	lines := []string{message, ""}
	if len(details) > 0 {
		b, err := json.MarshalIndent(details, "", "  ")
		if err != nil {
			b = []byte(fmt.Sprintf("%v", details))
		}
		lines = append(lines, string(b))
	}

	_, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(strings.Join(lines, "\n")),
	})
	if err != nil {
		n.log.Warn("sns publish failed", zap.String("topic", n.topicArn), zap.Error(err))
	}
}

type Nop struct{}

func (Nop) Notify(context.Context, string, map[string]any) {}
