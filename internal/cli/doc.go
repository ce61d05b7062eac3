// Package cli реализует инструмент командной строки flowcase.
//
// # Обзор
//
// CLI — клиентская утилита для работы с flowcase API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Инкапсулирует HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	flows, err := client.ListFlows()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr,
// поэтому работает pipe: flowcase case show ID --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - case: create, show, tasks, reprocess
//   - flow: list, show
//   - cron: list
//   - queue: stats
//   - asset: upload
//
// Каждая группа создаётся фабричной функцией (NewCaseCmd и т.д.),
// принимающей clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
