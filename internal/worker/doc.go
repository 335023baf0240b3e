// Package worker выполняет вызовы workflows, забранные poller.
//
// Worker потребляет schedule.due из schedules.due. Для каждого сообщения:
//
//  1. schedule перечитывается из БД; удалённый после claim пропускается
//  2. executor выбирается по metadata.action (log по умолчанию, http)
//  3. выполнение повторяется по RetryPolicy с экспоненциальной задержкой
//  4. ошибка после всех попыток или ErrPermanent: сообщение уходит в DLQ
//
// Ошибки БД при чтении schedule возвращают сообщение в очередь.
// Вызовы executors ограничены Config.RatePerSec на процесс.
//
// Строки metadata для http (url, headers, body) рендерятся как
// text/template над TemplateData:
//
//	{"action": "http", "url": "https://hooks.local/{{ .ScheduleID }}"}
//
//	w := worker.New(worker.Config{
//	    Conn:      mqConn,
//	    Schedules: repo.NewScheduleRepo(db),
//	    Logger:    logger,
//	})
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
package worker
