// Package cli реализует командную строку schedq.
//
// CLI ходит в schedq API по HTTP и не импортирует внутренние пакеты:
// типы запросов и ответов объявлены здесь заново.
//
// # Client
//
// HTTP-клиент API. Разбирает конверты {"data": ...} и {"error": ...},
// ошибки сервера возвращает как *APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	schedules, err := client.ListSchedules(ownerID, 50, 0)
//
// # Output
//
// Таблица (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные пишутся в stdout, сообщения в stderr, так что
// schedq schedule list --owner ID --json | jq . работает.
//
// # Commands
//
//   - schedule: list, create, show, update, delete, delete-owner
//   - workflow: create, show, delete, schedules, link
//
// Группы создаются фабриками (NewScheduleCmd, NewWorkflowCmd), которые
// принимают clientFn и outputFn: Client и Output создаются лениво,
// после разбора persistent-флагов.
package cli
