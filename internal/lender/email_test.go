package lender

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/bigkaa/loandesk/internal/blobstore"
	"github.com/bigkaa/loandesk/internal/domain/model"
)

// fakeBlobs — хранилище документов в памяти.
type fakeBlobs map[string][]byte

func (f fakeBlobs) Get(_ context.Context, key string) ([]byte, blobstore.ObjectInfo, error) {
	data, ok := f[key]
	if !ok {
		return nil, blobstore.ObjectInfo{}, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
	}
	return data, blobstore.ObjectInfo{Size: int64(len(data))}, nil
}

// smtpSink — минимальный SMTP-сервер без TLS и аутентификации.
// Сохраняет DATA последнего письма.
type smtpSink struct {
	ln   net.Listener
	mu   sync.Mutex
	rcpt []string
	data string
}

func startSMTPSink(t *testing.T) *smtpSink {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("не удалось открыть порт: %v", err)
	}
	s := &smtpSink{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *smtpSink) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *smtpSink) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *smtpSink) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { fmt.Fprintf(conn, "%s\r\n", line) }

	reply("220 sink ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250-sink")
			reply("250 8BITMIME")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			s.mu.Lock()
			s.rcpt = append(s.rcpt, strings.TrimSpace(line[len("RCPT TO:"):]))
			s.mu.Unlock()
			reply("250 OK")
		case cmd == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			s.mu.Lock()
			s.data = b.String()
			s.mu.Unlock()
			reply("250 OK queued")
		case cmd == "QUIT":
			reply("221 Bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func emailLender(addr string) *model.Lender {
	return &model.Lender{ID: "lender-2", Name: "Mail Bank", SubmissionMethod: model.MethodEmail, SubmissionEmail: &addr}
}

func emailPackage() Package {
	p := testPackage()
	p.Payload.Method = "EMAIL"
	p.Payload.Attachments = append(p.Payload.Attachments, model.Attachment{
		DocumentID: "doc-2", DocumentType: "bank_statement", Version: 3, FileName: "march.pdf",
		ContentType: "application/pdf", BlobKey: "applications/app-1/bbb", Checksum: "bbb",
	})
	return p
}

func TestEmailTransmitter_SendsBundle(t *testing.T) {
	sink := startSMTPSink(t)
	blobs := fakeBlobs{
		"applications/app-1/aaa": []byte("passport-bytes"),
		"applications/app-1/bbb": []byte("statement-bytes"),
	}
	tr := NewEmailTransmitter(EmailConfig{
		Host: "127.0.0.1", Port: sink.port(), From: "loandesk@example.test", TLSPolicy: "none",
	}, blobs, testLogger())

	receipt, err := tr.Transmit(context.Background(), emailLender("intake@lender.test"), emailPackage())
	if err != nil {
		t.Fatalf("Transmit() ошибка: %v", err)
	}
	if receipt.ExternalReference == "" {
		t.Error("ExternalReference (Message-ID) пуст")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.rcpt) != 1 || !strings.Contains(sink.rcpt[0], "intake@lender.test") {
		t.Errorf("получатели = %v", sink.rcpt)
	}
	for _, name := range []string{"id_document_passport.pdf", "bank_statement_march.pdf"} {
		if !strings.Contains(sink.data, name) {
			t.Errorf("письмо не содержит вложение %s", name)
		}
	}
}

func TestEmailTransmitter_MissingDocumentBytes(t *testing.T) {
	tr := NewEmailTransmitter(EmailConfig{Host: "127.0.0.1", Port: 1, From: "loandesk@example.test"},
		fakeBlobs{}, testLogger())

	_, err := tr.Transmit(context.Background(), emailLender("intake@lender.test"), emailPackage())
	if !errors.Is(err, blobstore.ErrNotFound) {
		t.Errorf("ошибка = %v, ожидается blobstore.ErrNotFound", err)
	}
}

func TestEmailTransmitter_NoAddress(t *testing.T) {
	tr := NewEmailTransmitter(EmailConfig{Host: "127.0.0.1", From: "loandesk@example.test"}, fakeBlobs{}, testLogger())
	l := &model.Lender{ID: "lender-2", SubmissionMethod: model.MethodEmail}

	if _, err := tr.Transmit(context.Background(), l, emailPackage()); !errors.Is(err, ErrRejected) {
		t.Errorf("ошибка = %v, ожидается ErrRejected", err)
	}
}

func TestEmailBody(t *testing.T) {
	amount := "250000.00"
	p := emailPackage()
	p.Payload.RequestedAmount = &amount
	body := emailBody(p)
	for _, want := range []string{"app-1", "250000.00", "bank_statement v3", "key-1"} {
		if !strings.Contains(body, want) {
			t.Errorf("тело письма не содержит %q", want)
		}
	}
}
