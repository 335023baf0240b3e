// Package scheduler реализует poller claim-очереди.
//
// Scheduler периодически вызывает ClaimDueFunc и передаёт забранную пачку
// Dispatcher внутри той же транзакции. Если Dispatcher вернул ошибку,
// claim откатывается и schedules остаются due.
//
// Структура:
//   - scheduler.go: цикл опроса (Tick, Run) и dispatchers
//   - interval.go: разбор интервалов, включая cron-дескрипторы
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Claimer:    repo.NewClaimQueue(db, repo.LockSkip, logger),
//	    Dispatcher: mq.NewScheduleDispatcher(publisher), // опционально
//	    Logger:     logger,
//	    BatchSize:  100,
//	    Interval:   time.Second,
//	})
//	err := sched.Run(ctx)
//
// Leader election не нужна: конкурирующие pollers не пересекаются
// благодаря блокировкам строк.
package scheduler
