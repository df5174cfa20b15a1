package ses

import (
	"context"
	"fmt"
	"html"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"docpipe/internal/domain"
	"docpipe/internal/notify"
	"docpipe/internal/port"
)

// Sender is the part of the SES client the notifier uses.
type Sender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type sesNotifier struct {
	client      Sender
	fromAddress string
	fromName    string
}

// NewSESNotifier creates an SES-backed FailureNotifier that mails meta.notify_email.
func NewSESNotifier(region, fromAddress, fromName string) (port.FailureNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for SES: %w", err)
	}
	return New(sesv2.NewFromConfig(cfg), fromAddress, fromName), nil
}

// New creates a notifier over an existing client.
func New(client Sender, fromAddress, fromName string) port.FailureNotifier {
	return &sesNotifier{client: client, fromAddress: fromAddress, fromName: fromName}
}

func (s *sesNotifier) NotifyFailure(ctx context.Context, f *domain.File, reason string) error {
	to := f.Meta.String(domain.MetaNotifyEmail)
	if to == "" {
		return nil
	}
	p := notify.NewFailure(f, reason)

	subject := fmt.Sprintf("Processing failed: %s", f.Name)
	textBody := fmt.Sprintf("Hi,\n\nProcessing of %q (file %d) stopped in state %s.\n\nReason: %s\n", p.Name, p.FileID, p.ParseState, p.Reason)
	htmlBody := buildFailureHTML(p)
	from := fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress)

	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: &from,
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: &subject},
				Body: &types.Body{
					Html: &types.Content{Data: &htmlBody},
					Text: &types.Content{Data: &textBody},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("SES SendEmail: %w", err)
	}
	return nil
}

func buildFailureHTML(p notify.Failure) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2 style="color: #333;">Document processing failed</h2>
  <p>Processing of <strong>%s</strong> (file %d) stopped in state <code>%s</code>.</p>
  <p style="color: #b91c1c;">%s</p>
</body>
</html>`, html.EscapeString(p.Name), p.FileID, p.ParseState, html.EscapeString(p.Reason))
}
