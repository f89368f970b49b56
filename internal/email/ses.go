package email

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"pillars-watch/internal/logger"
	"pillars-watch/internal/notify"
)

const subject = "Pillars Watch: нужна твоя отметка"

var ErrInvalidAddress = errors.New("неверный email")

// Client - часть SES API, которой пользуется Sender
type Client interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Sender отправляет интервенции письмом через Amazon SES.
// Без адреса отправителя сервис выключен и сообщает ErrNoRecipient.
type Sender struct {
	client   Client
	from     string
	fromName string
	enabled  bool
	log      *logger.Logger
}

func NewSender(ctx context.Context, region, from, fromName string, log *logger.Logger) (*Sender, error) {
	if from == "" {
		log.Info("📭 Email-канал выключен: SES_FROM_EMAIL не задан")
		return &Sender{enabled: false, log: log}, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("📧 Email-канал включён", "from", from, "region", region)
	return NewSenderWithClient(sesv2.NewFromConfig(cfg), from, fromName, log), nil
}

func NewSenderWithClient(client Client, from, fromName string, log *logger.Logger) *Sender {
	return &Sender{
		client:   client,
		from:     from,
		fromName: fromName,
		enabled:  true,
		log:      log,
	}
}

// ValidateAddress принимает только голый адрес вида user@example.com
func ValidateAddress(address string) error {
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	domain := address[strings.LastIndex(address, "@")+1:]
	if !strings.Contains(domain, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return nil
}

func (s *Sender) Enabled() bool {
	return s.enabled
}

func (s *Sender) Send(ctx context.Context, to notify.Recipient, text string) error {
	if !s.enabled || to.Email == "" {
		return notify.ErrNoRecipient
	}

	fromAddress := s.from
	if s.fromName != "" {
		fromAddress = fmt.Sprintf("%s <%s>", s.fromName, s.from)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to.Email},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(renderHTML(text)),
						Charset: aws.String("UTF-8"),
					},
					Text: &types.Content{
						Data:    aws.String(text),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email to user %d: %w", to.UserID, err)
	}
	s.log.Info("📧 Письмо отправлено", "user_id", to.UserID)
	return nil
}

func renderHTML(text string) string {
	body := strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
	return `<!DOCTYPE html><html><head><meta charset="UTF-8"></head>` +
		`<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">` + body + `</body></html>`
}
