// Package dispatch отправляет готовые запросы tasks воркерам.
//
// Режимы:
//   - echo: task завершается сразу с телом запроса
//   - /queue/...: событие во внутреннюю очередь для pull-воркеров
//   - HTTP blocking: результат task — ответ на запрос
//   - HTTP callback: воркер присылает результат на /flow/response/{taskId}
//
// О ходе выполнения dispatcher сообщает через Tracker.
package dispatch
