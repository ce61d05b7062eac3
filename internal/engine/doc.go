// Package engine вычисляет выражения воркеров над результатами tasks.
//
// Включает:
//   - lexer.go, parser.go — разбор выражений (пути, литералы, операторы, len/str/fail)
//   - eval.go, value.go   — вычисление; ответы tasks читаются через gjson
//   - result.go           — Result: Ready, Waiting, Failed
//   - scope.go            — корень контекста: case, step, воркеры текущего шага
//   - template.go         — Script: Where, StringMap, Template, Expr
//
// Обращение к незавершённому task даёт Waiting, к завершённому
// с ошибкой — Failed. Это не ошибки: оркестратор откладывает task
// или завершает его без обращения к воркеру.
package engine
