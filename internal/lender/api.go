package lender

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

// apiReceipt — ответ кредитора на приём заявки.
type apiReceipt struct {
	Reference string `json:"reference"`
}

// APITransmitter — передача пакета POST-запросом с JSON-телом.
// Ключ идемпотентности передаётся заголовком Idempotency-Key.
type APITransmitter struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAPITransmitter создаёт HTTP-канал.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// Таймаут задаёт Dispatcher через контекст.
func NewAPITransmitter(caCertPath string, logger *slog.Logger) (*APITransmitter, error) {
	httpClient := &http.Client{}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат добавлен в пул доверия клиента кредиторов",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &APITransmitter{
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "lender_api")),
	}, nil
}

func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// Transmit отправляет пакет на api_endpoint кредитора.
// 2xx — успех, любой другой статус — ErrRejected.
func (t *APITransmitter) Transmit(ctx context.Context, l *model.Lender, p Package) (Receipt, error) {
	if l.APIEndpoint == nil || *l.APIEndpoint == "" {
		return Receipt{}, fmt.Errorf("%w: у кредитора %s не задан api_endpoint", ErrRejected, l.ID)
	}

	body, err := json.Marshal(p.Payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("сериализация пакета: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *l.APIEndpoint, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: создание запроса: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", p.IdempotencyKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Receipt{}, classify(fmt.Errorf("запрос к %s: %w", *l.APIEndpoint, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Receipt{}, classify(fmt.Errorf("чтение ответа %s: %w", *l.APIEndpoint, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Receipt{}, fmt.Errorf("%w: кредитор вернул статус %d: %s",
			ErrRejected, resp.StatusCode, truncate(string(respBody), 256))
	}

	var receipt apiReceipt
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &receipt); err != nil {
			t.logger.Warn("Ответ кредитора не разобран, идентификатор не сохранён",
				slog.String("lender_id", l.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return Receipt{ExternalReference: receipt.Reference}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
