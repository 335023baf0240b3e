package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var scheduleHeaders = []string{"ID", "OWNER_ID", "INTERVAL", "DUE_AT", "UPDATED_AT"}

func scheduleRow(s ScheduleResponse) []string {
	return []string{
		s.ID, s.OwnerID, s.UpdateInterval, formatTime(s.DueAt), formatTime(s.UpdatedAt),
	}
}

func scheduleRows(schedules []ScheduleResponse) [][]string {
	rows := make([][]string, len(schedules))
	for i, s := range schedules {
		rows[i] = scheduleRow(s)
	}
	return rows
}

// NewScheduleCmd создаёт группу команд для управления schedules.
func NewScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage schedules",
	}

	cmd.AddCommand(
		newScheduleListCmd(clientFn, outputFn),
		newScheduleCreateCmd(clientFn, outputFn),
		newScheduleShowCmd(clientFn, outputFn),
		newScheduleUpdateCmd(clientFn, outputFn),
		newScheduleDeleteCmd(clientFn, outputFn),
		newScheduleDeleteOwnerCmd(clientFn, outputFn),
	)

	return cmd
}

func newScheduleListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var ownerID string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules of an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			schedules, err := clientFn().ListSchedules(ownerID, limit, offset)
			if err != nil {
				return err
			}
			return outputFn().Print(scheduleHeaders, scheduleRows(schedules), schedules)
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner (workspace) ID (required)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max schedules to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Schedules to skip")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func newScheduleCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var ownerID, interval, metadata string
	var sets []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a schedule",
		Example: `  schedq schedule create --owner 6f1c... --interval 5m
  schedq schedule create --owner 6f1c... --interval @hourly --set action=http --set url=https://example.com/hook`,
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := buildMetadata(metadata, sets)
			if err != nil {
				return err
			}

			out := outputFn()
			schedule, err := clientFn().CreateSchedule(CreateScheduleRequest{
				OwnerID:        ownerID,
				UpdateInterval: interval,
				Metadata:       meta,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule created: %s", schedule.ID))
			return out.Print(scheduleHeaders, [][]string{scheduleRow(*schedule)}, schedule)
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner (workspace) ID (required)")
	cmd.Flags().StringVar(&interval, "interval", "", "Update interval: seconds, 90s, 5m, @every 1h, @hourly (required)")
	cmd.Flags().StringVar(&metadata, "metadata", "", "Metadata JSON object, or @file to read it from a file")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Metadata value as KEY=VALUE (repeatable)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("interval")

	return cmd
}

func newScheduleShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show SCHEDULE_ID",
		Short: "Show schedule details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := clientFn().GetSchedule(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				return out.JSON(schedule)
			}
			return out.Table(
				[]string{"FIELD", "VALUE"},
				[][]string{
					{"ID", schedule.ID},
					{"OWNER_ID", schedule.OwnerID},
					{"INTERVAL", schedule.UpdateInterval},
					{"INTERVAL_SEC", strconv.Itoa(schedule.UpdateIntervalSeconds)},
					{"METADATA", string(schedule.Metadata)},
					{"DUE_AT", formatTime(schedule.DueAt)},
					{"CREATED_AT", formatTime(schedule.CreatedAt)},
					{"UPDATED_AT", formatTime(schedule.UpdatedAt)},
				},
			)
		},
	}
}

func newScheduleUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var interval, metadata string
	var sets []string

	cmd := &cobra.Command{
		Use:   "update SCHEDULE_ID",
		Short: "Change interval and/or metadata of a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req UpdateScheduleRequest
			if cmd.Flags().Changed("interval") {
				req.UpdateInterval = &interval
			}
			if cmd.Flags().Changed("metadata") || len(sets) > 0 {
				meta, err := buildMetadata(metadata, sets)
				if err != nil {
					return err
				}
				req.Metadata = meta
			}
			if req.UpdateInterval == nil && req.Metadata == nil {
				return errors.New("nothing to update: pass --interval, --metadata or --set")
			}

			out := outputFn()
			schedule, err := clientFn().UpdateSchedule(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule updated: %s", schedule.ID))
			return out.Print(scheduleHeaders, [][]string{scheduleRow(*schedule)}, schedule)
		},
	}

	cmd.Flags().StringVar(&interval, "interval", "", "New update interval")
	cmd.Flags().StringVar(&metadata, "metadata", "", "New metadata JSON object, or @file")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Metadata value as KEY=VALUE (repeatable)")

	return cmd
}

func newScheduleDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete SCHEDULE_ID",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteSchedule(args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Schedule deleted: %s", args[0]))
			return nil
		},
	}
}

func newScheduleDeleteOwnerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-owner OWNER_ID",
		Short: "Delete all schedules of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := clientFn().DeleteOwnerSchedules(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				return out.JSON(DeleteOwnerResponse{Deleted: n})
			}
			out.Success(fmt.Sprintf("Deleted %d schedule(s) of owner %s", n, args[0]))
			return nil
		},
	}
}

// buildMetadata собирает JSON-объект из --metadata и --set.
// Значения --set перекрывают ключи из --metadata.
func buildMetadata(raw string, sets []string) (json.RawMessage, error) {
	if raw == "" && len(sets) == 0 {
		return nil, nil
	}

	obj := map[string]any{}
	if raw != "" {
		data := []byte(raw)
		if path, ok := strings.CutPrefix(raw, "@"); ok {
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read metadata file: %w", err)
			}
			data = b
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("metadata must be a JSON object: %w", err)
		}
		if obj == nil {
			obj = map[string]any{}
		}
	}

	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, expected KEY=VALUE", kv)
		}
		obj[key] = value
	}

	return json.Marshal(obj)
}
