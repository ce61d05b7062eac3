// Package orchestrator ведёт case по шагам flow.
//
// Manager отвечает за:
//   - создание case (API, cron, сообщение case.create)
//   - тики: открытие шагов, создание и отправку tasks
//   - приём результатов tasks и их таймауты
//   - завершение, архивацию и callback case
//   - повторную обработку завершённого case (Reprocess)
//
// Тики одного case никогда не выполняются параллельно: Pool запускает
// не более одного тика на case и запоминает Schedule, пришедший во
// время тика. Watchdog восстанавливает case после рестарта и завершает
// tasks с истёкшим таймаутом.
package orchestrator
