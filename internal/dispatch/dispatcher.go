package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowcase/internal/domain"
	"github.com/shaiso/flowcase/internal/header"
	"github.com/shaiso/flowcase/internal/queue"
)

const (
	defaultHTTPTimeout = 60 * time.Second

	// maxResponseBody — ограничение тела ответа воркера.
	maxResponseBody = 16 << 20
)

// Request — запрос task, полученный из объявления воркера.
type Request struct {
	TaskID   uuid.UUID
	CaseID   uuid.UUID
	Worker   string
	Method   string
	Path     string
	Headers  map[string]string
	Body     []byte // JSON или nil
	Blocking bool
	Timeout  time.Duration
	Debug    bool
}

// Tracker получает события жизненного цикла task.
//
// Sent вызывается до начала передачи (кроме echo). Ошибка Sent
// прерывает отправку. Finish при коде 200..202 получает тело JSON,
// иначе текст ошибки.
type Tracker interface {
	Sent(ctx context.Context) error
	QueueSent()
	Finish(status int, body []byte)
}

// Enqueuer — очередь pull-воркеров.
type Enqueuer interface {
	Enqueue(e *queue.Event) error
}

// Signer подписывает id task для callback.
type Signer interface {
	Sign(msg string) string
}

// Config — конфигурация Dispatcher.
type Config struct {
	// AppHost — базовый адрес сервера для относительных путей и callback.
	AppHost string

	// Queue — внутренняя очередь. Без неё пути /queue/ идут по HTTP.
	Queue Enqueuer

	Signer Signer
	Client *http.Client
	Logger *slog.Logger
}

// Dispatcher отправляет запросы tasks.
type Dispatcher struct {
	appHost *url.URL
	queue   Enqueuer
	signer  Signer
	client  *http.Client
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	base, err := url.Parse(cfg.AppHost)
	if err != nil {
		return nil, fmt.Errorf("parse app host %q: %w", cfg.AppHost, err)
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		appHost: base,
		queue:   cfg.Queue,
		signer:  cfg.Signer,
		client:  cfg.Client,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Close отменяет незавершённые HTTP-запросы и ждёт их обработчиков.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

// Dispatch отправляет запрос. Ошибка означает, что запрос не отправлен;
// оркестратор завершает такой task с кодом 500.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request, tr Tracker) error {
	if d.ctx.Err() != nil {
		return ErrClosed
	}
	if req.Path == domain.PathEcho {
		body := req.Body
		if len(body) == 0 {
			body = []byte("null")
		}
		tr.Finish(http.StatusOK, body)
		return nil
	}

	u, err := url.Parse(req.Path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPath, req.Path, err)
	}
	if d.queue != nil && u.Host == "" && isQueuePath(u.Path) {
		return d.enqueue(ctx, req, u, tr)
	}
	if u.Host == "" {
		u = d.appHost.ResolveReference(u)
	}
	return d.send(ctx, req, u, tr)
}

func isQueuePath(p string) bool {
	return strings.HasPrefix(p, domain.QueuePathPrefix) && len(p) > len(domain.QueuePathPrefix)
}

// enqueue передаёт task pull-воркерам. Путь события — без префикса /queue.
func (d *Dispatcher) enqueue(ctx context.Context, req *Request, u *url.URL, tr Tracker) error {
	path := u.Path[len(domain.QueuePathPrefix)-1:]
	id := req.TaskID.String()

	headers := header.QueueRequest(req.Headers)
	headers[header.CaseID] = req.CaseID.String()
	headers[header.EventID] = id
	headers[header.Method] = req.Method
	headers[header.URI] = path
	if _, ok := headers[header.ContentType]; !ok {
		headers[header.ContentType] = header.JSONType
	}

	d.logRequest(req, "event "+path)
	if err := tr.Sent(ctx); err != nil {
		return err
	}
	return d.queue.Enqueue(&queue.Event{
		ID:      id,
		Method:  req.Method,
		Path:    path,
		Headers: headers,
		Body:    req.Body,
		OnSent:  tr.QueueSent,
		OnResponse: func(resp queue.Response) {
			status, body := queueResult(resp)
			tr.Finish(status, body)
		},
	})
}

// queueResult переводит ответ воркера в результат task.
// Тело ответа 2xx обязано быть JSON, пустое тело считается null.
func queueResult(resp queue.Response) (int, []byte) {
	if resp.Status < 200 || resp.Status > 299 {
		return resp.Status, resp.Body
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return resp.Status, []byte("null")
	}
	if !json.Valid(body) {
		return http.StatusBadRequest, []byte("parse json body error invalid json")
	}
	return resp.Status, body
}

// send выполняет HTTP-запрос асинхронно.
func (d *Dispatcher) send(ctx context.Context, req *Request, u *url.URL, tr Tracker) error {
	id := req.TaskID.String()
	headers := make(map[string]string, len(req.Headers)+4)
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers[header.CaseID] = req.CaseID.String()
	headers[header.EventID] = id
	if !req.Blocking {
		cb := d.appHost.ResolveReference(&url.URL{Path: "/flow/response/" + id})
		headers[header.Callback] = cb.String()
		if d.signer != nil {
			headers[header.CallbackPrefix+strings.ToLower(header.APIKey)] = d.signer.Sign(id)
		}
	}
	if len(req.Body) > 0 {
		if _, ok := lookup(headers, header.ContentType); !ok {
			headers[header.ContentType] = header.JSONType
		}
	}

	d.logRequest(req, "http "+u.String())
	if err := tr.Sent(ctx); err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		status, body, err := d.do(req, u.String(), headers)
		if err != nil {
			d.logger.Warn("task request failed",
				"case_id", req.CaseID, "task_id", req.TaskID, "worker", req.Worker, "error", err)
			tr.Finish(http.StatusInternalServerError, []byte("httpClient "+err.Error()))
			return
		}
		if req.Blocking {
			status, body = blockingResult(status, body)
			tr.Finish(status, body)
			return
		}
		if status > 299 {
			tr.Finish(max(status, http.StatusBadRequest), body)
		}
	}()
	return nil
}

func (d *Dispatcher) do(req *Request, target string, headers map[string]string) (int, []byte, error) {
	ctx := d.ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bodyReader)
	if err != nil {
		return 0, nil, err
	}
	header.Apply(httpReq.Header, headers)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// blockingResult переводит ответ blocking-запроса в результат task.
func blockingResult(status int, body []byte) (int, []byte) {
	if !domain.IsSuccessCode(status) {
		return max(status, http.StatusBadRequest), body
	}
	if !json.Valid(body) {
		return http.StatusBadRequest, []byte("response body invalid json")
	}
	return status, body
}

func (d *Dispatcher) logRequest(req *Request, target string) {
	d.logger.Info("task dispatched",
		"target", target, "case_id", req.CaseID, "task_id", req.TaskID, "worker", req.Worker)
	if len(req.Body) == 0 {
		return
	}
	if req.Debug {
		d.logger.Info("task body", "task_id", req.TaskID, "body", string(req.Body))
	} else {
		d.logger.Debug("task body", "task_id", req.TaskID, "body", string(req.Body))
	}
}

func lookup(m map[string]string, key string) (string, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
