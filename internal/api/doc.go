// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go       — Handler с DI (manager, definitions, archive, broker)
//   - routes.go        — регистрация маршрутов, /healthz и /metrics
//   - middleware.go    — logging, recovery, X-Api-Key воркеров
//   - response.go      — унифицированные JSON-ответы и обработка ошибок
//   - dto.go           — Data Transfer Objects
//   - case_handler.go  — /api/v1/cases
//   - flow_handler.go  — /api/v1/flows и /api/v1/cron
//   - asset_handler.go — /api/v1/assets
//   - queue_handler.go — /queue, /.queue и /flow/response
package api
