package scoring

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// scoreRequest — тело POST {base}/score.
type scoreRequest struct {
	PhotoID     string `json:"photo_id"`
	FarmID      string `json:"farm_id"`
	MimeType    string `json:"mime_type"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content_base64"`
}

// scoreResponse — ответ оценщика.
type scoreResponse struct {
	Score int `json:"score"`
}

// HTTPScorer — клиент внешнего HTTP-оценщика за circuit breaker.
// При открытом breaker запросы не выполняются и сразу возвращают ErrUnavailable.
type HTTPScorer struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewHTTPScorer создаёт HTTP-оценщик.
// caCertPath — путь к CA-сертификату (пустая строка — системный пул).
// Таймаут отдельного вызова задаётся контекстом вызывающего кода.
func NewHTTPScorer(baseURL, caCertPath string, logger *slog.Logger) (*HTTPScorer, error) {
	httpClient := &http.Client{Timeout: 60 * time.Second}
	logger = logger.With(slog.String("component", "scorer_client"))

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата оценщика: %w", err)
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
		logger.Info("CA-сертификат оценщика добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	s := &HTTPScorer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "quality-scorer",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker оценщика сменил состояние",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return s, nil
}

// BaseURL возвращает адрес оценщика (для мониторинга зависимостей).
func (s *HTTPScorer) BaseURL() string {
	return s.baseURL
}

// Score реализует Scorer.
func (s *HTTPScorer) Score(ctx context.Context, req Request) (int, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.call(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if errors.Is(err, ErrUnavailable) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.(int), nil
}

func (s *HTTPScorer) call(ctx context.Context, req Request) (int, error) {
	body, err := json.Marshal(scoreRequest{
		PhotoID:     req.PhotoID,
		FarmID:      req.FarmID,
		MimeType:    req.MimeType,
		Description: req.Description,
		Content:     base64.StdEncoding.EncodeToString(req.Content),
	})
	if err != nil {
		return 0, fmt.Errorf("кодирование запроса оценки: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("создание запроса оценки: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("запрос оценки к %s: %w", s.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("оценщик вернул статус %d: %s", resp.StatusCode, string(msg))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("декодирование ответа оценщика: %w", err)
	}
	if err := checkRange(out.Score); err != nil {
		return 0, err
	}
	return out.Score, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
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

	return &tls.Config{RootCAs: caCertPool}, nil
}
