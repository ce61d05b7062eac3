package callback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shaiso/flowcase/internal/domain"
	"github.com/shaiso/flowcase/internal/header"
)

// Runner отправляет callback клиентам.
type Runner struct {
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

// Config — параметры Runner.
type Config struct {
	Client *http.Client // default: таймаут 30s
	Logger *slog.Logger
}

// NewRunner создаёт Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{client: cfg.Client, logger: cfg.Logger}
}

// CallAsync отправляет POST на cb в отдельной горутине.
// Ошибки только логируются.
func (r *Runner) CallAsync(id string, cb *domain.Callback, headers map[string]string, body []byte) {
	if cb == nil || cb.URL == "" {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.client.Timeout+time.Second)
		defer cancel()
		if err := r.Call(ctx, id, cb, headers, body); err != nil {
			r.logger.Warn("callback failed", "id", id, "url", cb.URL, "error", err)
		}
	}()
}

// Call отправляет POST на cb и ждёт ответа.
// Заголовки cb применяются первыми, headers их дополняют.
func (r *Runner) Call(ctx context.Context, id string, cb *domain.Callback, headers map[string]string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cb.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	header.Apply(req.Header, cb.Headers)
	header.Apply(req.Header, headers)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	r.logger.Debug("callback sent", "id", id, "url", cb.URL, "status", resp.StatusCode)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback status %d", resp.StatusCode)
	}
	return nil
}

// Wait ждёт завершения отправленных callback.
func (r *Runner) Wait() {
	r.wg.Wait()
}
