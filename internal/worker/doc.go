// Package worker — pull-воркер очереди flowcase.
//
// # Обзор
//
// Worker опрашивает сервер (long-poll GET /.queue/worker) по префиксу
// пути группы, выполняет полученное событие и отправляет ответ
// POST /.queue/response/{id}. Ответ попадает либо отправителю,
// ожидающему на /queue/..., либо task оркестратора.
//
//	w := worker.New(worker.Config{
//	    BaseURL:  "http://localhost:8080",
//	    Prefix:   "/orders/",
//	    WorkerID: "orders-1",
//	    APIKey:   key,
//	    Registry: worker.NewRegistry(&worker.HTTPExecutor{Target: "http://localhost:8081"}),
//	    Logger:   logger,
//	})
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Executor
//
// Реализации:
//   - HTTPExecutor — пересылка события локальному сервису
//   - EchoExecutor — ответ телом события
//
// Registry выбирает executor по самому длинному префиксу пути события.
//
// # Ошибки
//
// Ошибка executor'а (сервис недоступен) превращается в ответ 502.
// Ошибки poll повторяются с паузой 1s, 2s, 4s ... до MaxBackoff.
package worker
