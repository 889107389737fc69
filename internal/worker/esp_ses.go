package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"golang.org/x/time/rate"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/logger"
	"github.com/ignite/txmail/internal/service/sending"
)

// sesAPI is the slice of the SES v2 client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig configures the SES transport.
type SESConfig struct {
	Region           string
	AccessKey        string
	SecretKey        string
	ConfigurationSet string
	// MaxSendRate is the account's per-second sending quota. Zero disables
	// client-side pacing.
	MaxSendRate float64
}

// SESSender sends email through AWS SES v2.
type SESSender struct {
	client    sesAPI
	configSet string
	limiter   *rate.Limiter
	now       func() time.Time
}

// NewSESSender loads AWS configuration and creates the sender. Static
// credentials are used when both keys are set, otherwise the default
// provider chain applies.
func NewSESSender(ctx context.Context, cfg SESConfig) (*SESSender, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	log.Printf("[SES] transport ready (region=%s, configuration_set=%q, max_rate=%.1f/s)",
		cfg.Region, cfg.ConfigurationSet, cfg.MaxSendRate)
	return newSESSender(sesv2.NewFromConfig(awsCfg), cfg), nil
}

func newSESSender(client sesAPI, cfg SESConfig) *SESSender {
	s := &SESSender{client: client, configSet: cfg.ConfigurationSet, now: time.Now}
	if cfg.MaxSendRate > 0 {
		burst := int(cfg.MaxSendRate)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.MaxSendRate), burst)
	}
	return s
}

// Send implements sending.Sender.
func (s *SESSender) Send(ctx context.Context, env *domain.Envelope) (*domain.SendResult, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("ses rate limit: %w", err)
		}
	}

	out, err := s.client.SendEmail(ctx, s.buildInput(env))
	if err != nil {
		if isSESRejection(err) {
			return nil, fmt.Errorf("%w: %v", sending.ErrRejected, err)
		}
		return nil, fmt.Errorf("ses send: %w", err)
	}

	id := aws.ToString(out.MessageId)
	logger.Debug("ses accepted message", "message_id", env.MessageID, "ses_message_id", id, "recipient", env.To[0])
	return &domain.SendResult{
		TransportMessageID: id,
		Transport:          domain.TransportSES,
		SentAt:             s.now().UTC(),
	}, nil
}

func (s *SESSender) buildInput(env *domain.Envelope) *sesv2.SendEmailInput {
	from := (&mail.Address{Name: env.FromName, Address: env.FromEmail}).String()

	body := &types.Body{}
	if env.HTMLContent != "" {
		body.Html = &types.Content{Data: aws.String(env.HTMLContent), Charset: aws.String("UTF-8")}
	}
	if env.TextContent != "" {
		body.Text = &types.Content{Data: aws.String(env.TextContent), Charset: aws.String("UTF-8")}
	}
	msg := &types.Message{
		Subject: &types.Content{Data: aws.String(env.Subject), Charset: aws.String("UTF-8")},
		Body:    body,
	}
	names := make([]string, 0, len(env.Headers))
	for k := range env.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		msg.Headers = append(msg.Headers, types.MessageHeader{Name: aws.String(k), Value: aws.String(env.Headers[k])})
	}

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses:  env.To,
			CcAddresses:  env.CC,
			BccAddresses: env.BCC,
		},
		Content: &types.EmailContent{Simple: msg},
		EmailTags: []types.MessageTag{
			{Name: aws.String("message_id"), Value: aws.String(env.MessageID)},
			{Name: aws.String("domain_id"), Value: aws.String(env.DomainID)},
		},
	}
	if env.Category != "" {
		in.EmailTags = append(in.EmailTags, types.MessageTag{Name: aws.String("category"), Value: aws.String(sesTagValue(env.Category))})
	}
	if env.ReplyTo != "" {
		in.ReplyToAddresses = []string{env.ReplyTo}
	}
	if s.configSet != "" {
		in.ConfigurationSetName = aws.String(s.configSet)
	}
	return in
}

// isSESRejection reports whether SES refused the message for a reason that
// retrying cannot fix.
func isSESRejection(err error) bool {
	var (
		rejected   *types.MessageRejected
		notVerif   *types.MailFromDomainNotVerifiedException
		suspended  *types.AccountSuspendedException
		badRequest *types.BadRequestException
		notFound   *types.NotFoundException
	)
	return errors.As(err, &rejected) ||
		errors.As(err, &notVerif) ||
		errors.As(err, &suspended) ||
		errors.As(err, &badRequest) ||
		errors.As(err, &notFound)
}

// sesTagValue keeps only the characters SES accepts in tag values.
func sesTagValue(v string) string {
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v) && len(out) < 256; i++ {
		c := v[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-', c == '.', c == '@':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
