package lender

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/bigkaa/loandesk/internal/blobstore"
	"github.com/bigkaa/loandesk/internal/domain/model"
)

// BlobReader — чтение содержимого документов для вложений.
type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, blobstore.ObjectInfo, error)
}

// EmailConfig — параметры SMTP.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLSPolicy: opportunistic, mandatory, none
	TLSPolicy string
}

// EmailTransmitter — передача пакета письмом: по вложению на каждый документ.
type EmailTransmitter struct {
	cfg    EmailConfig
	blobs  BlobReader
	logger *slog.Logger
}

// NewEmailTransmitter создаёт SMTP-канал.
func NewEmailTransmitter(cfg EmailConfig, blobs BlobReader, logger *slog.Logger) *EmailTransmitter {
	return &EmailTransmitter{
		cfg:    cfg,
		blobs:  blobs,
		logger: logger.With(slog.String("component", "lender_email")),
	}
}

// Transmit отправляет письмо на submission_email кредитора.
func (t *EmailTransmitter) Transmit(ctx context.Context, l *model.Lender, p Package) (Receipt, error) {
	if l.SubmissionEmail == nil || *l.SubmissionEmail == "" {
		return Receipt{}, fmt.Errorf("%w: у кредитора %s не задан submission_email", ErrRejected, l.ID)
	}

	msg, err := t.buildMessage(ctx, *l.SubmissionEmail, p)
	if err != nil {
		return Receipt{}, err
	}

	client, err := mail.NewClient(t.cfg.Host, t.clientOptions(ctx)...)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: настройка SMTP-клиента: %v", ErrRejected, err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return Receipt{}, classify(fmt.Errorf("отправка письма на %s: %w", *l.SubmissionEmail, err))
	}

	t.logger.Debug("Письмо кредитору отправлено",
		slog.String("submission_id", p.SubmissionID),
		slog.Int("attachments", len(p.Payload.Attachments)),
	)
	return Receipt{ExternalReference: msg.GetMessageID()}, nil
}

func (t *EmailTransmitter) clientOptions(ctx context.Context) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(t.cfg.Port),
		mail.WithTLSPolicy(tlsPolicy(t.cfg.TLSPolicy)),
	}
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			opts = append(opts, mail.WithTimeout(d))
		}
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.cfg.Username),
			mail.WithPassword(t.cfg.Password),
		)
	}
	return opts
}

// buildMessage собирает письмо с вложениями из объектного хранилища.
func (t *EmailTransmitter) buildMessage(ctx context.Context, to string, p Package) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(t.cfg.From); err != nil {
		return nil, fmt.Errorf("%w: адрес отправителя %q: %v", ErrRejected, t.cfg.From, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("%w: адрес получателя %q: %v", ErrRejected, to, err)
	}
	msg.SetMessageID()
	msg.Subject(fmt.Sprintf("Заявка %s: %s", p.Payload.ApplicationID, p.Payload.ProductName))
	msg.SetBodyString(mail.TypeTextPlain, emailBody(p))

	for _, a := range p.Payload.Attachments {
		data, _, err := t.blobs.Get(ctx, a.BlobKey)
		if err != nil {
			return nil, fmt.Errorf("чтение документа %s: %w", a.DocumentID, err)
		}
		name := attachmentName(a)
		if err := msg.AttachReader(name, bytes.NewReader(data),
			mail.WithFileContentType(mail.ContentType(a.ContentType))); err != nil {
			return nil, fmt.Errorf("вложение %s: %w", name, err)
		}
	}

	return msg, nil
}

func emailBody(p Package) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Заявка: %s\n", p.Payload.ApplicationID)
	fmt.Fprintf(&b, "Категория: %s\n", p.Payload.ProductCategory)
	fmt.Fprintf(&b, "Продукт: %s\n", p.Payload.ProductName)
	if p.Payload.RequestedAmount != nil {
		fmt.Fprintf(&b, "Запрошенная сумма: %s\n", *p.Payload.RequestedAmount)
	}
	fmt.Fprintf(&b, "Ключ отправки: %s\n\nДокументы:\n", p.IdempotencyKey)
	for _, a := range p.Payload.Attachments {
		fmt.Fprintf(&b, "- %s v%d (%s, sha256 %s)\n", a.DocumentType, a.Version, a.FileName, a.Checksum)
	}
	return b.String()
}

// attachmentName — имя вложения: тип документа и исходное имя файла.
func attachmentName(a model.Attachment) string {
	if a.FileName == "" {
		return a.DocumentType
	}
	return a.DocumentType + "_" + a.FileName
}

func tlsPolicy(s string) mail.TLSPolicy {
	switch s {
	case "mandatory":
		return mail.TLSMandatory
	case "none":
		return mail.NoTLS
	default:
		return mail.TLSOpportunistic
	}
}
