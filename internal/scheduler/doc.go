// Package scheduler запускает cron jobs из определений flow.
//
// Каждый элемент cronJobs определения регистрируется в robfig/cron.
// Срабатывание создаёт case данного типа с params job через CaseCreator:
// в сервере это менеджер case, в отдельном процессе — публикация
// case.create в RabbitMQ.
//
// Структура:
//   - scheduler.go — Scheduler (Reload, Jobs, Start, Stop)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{Creator: creator, Logger: logger})
//	defs.Subscribe(sched.Reload)
//	sched.Reload(defs.List())
//	sched.Start()
//	defer sched.Stop()
package scheduler
