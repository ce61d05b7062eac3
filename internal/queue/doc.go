// Package queue реализует брокер событий для pull-воркеров.
//
// Воркеры long-poll'ят брокер по префиксу пути (группа воркеров).
// Событие попадает в группу с самым длинным совпадающим префиксом:
// сразу ждущему быстрому воркеру, иначе в FIFO группы.
//
// Медленные воркеры (префикс с суффиксом @slowN или параметр slow)
// получают событие только если быстрых воркеров нет дольше N секунд
// или событие ждёт дольше N секунд.
//
// Структура:
//   - broker.go  — Broker: Enqueue, Submit, Poll, Respond
//   - group.go   — группа воркеров и поиск группы по пути
//   - event.go   — Event, Delivery, Response
//   - stats.go   — Stats и prometheus collector
//   - errors.go  — ошибки брокера
package queue
