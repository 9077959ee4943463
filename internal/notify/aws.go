package notify

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/cockroachdb/errors"
)

// SNS caps subjects at 100 characters.
const snsSubjectLimit = 100

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func newSNSClient(cfg aws.Config) SNSService { return sns.NewFromConfig(cfg) }
func newSESClient(cfg aws.Config) SESService { return ses.NewFromConfig(cfg) }

// SNSNotifier publishes to a topic.
type SNSNotifier struct {
	client   SNSService
	topicARN string
}

func NewSNSNotifier(client SNSService, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

func (n *SNSNotifier) Notify(ctx context.Context, subject, message string) error {
	if len(subject) > snsSubjectLimit {
		subject = subject[:snsSubjectLimit]
	}
	_, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	return record(BackendSNS, errors.Wrap(err, "sns publish"))
}

// SESNotifier sends a plain-text email.
type SESNotifier struct {
	client SESService
	from   string
	to     []string
}

func NewSESNotifier(client SESService, from string, to []string) *SESNotifier {
	return &SESNotifier{client: client, from: from, to: to}
}

func (n *SESNotifier) Notify(ctx context.Context, subject, message string) error {
	_, err := n.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(n.from),
		Destination: &sestypes.Destination{ToAddresses: n.to},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(message), Charset: aws.String("UTF-8")},
			},
		},
	})
	return record(BackendSES, errors.Wrap(err, "ses send email"))
}
