package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/t77yq/schedule-console/internal/config"
	"github.com/t77yq/schedule-console/internal/listview"
	"github.com/t77yq/schedule-console/internal/model"
)

var (
	listPage       int
	listPageSize   int
	listSortBy     string
	listSortOrder  string
	listFilter     string
	listCron       string
	listIDContains string

	editCron   string
	editRename string

	deletePage     int
	deletePageSize int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List one page of schedules",
	Long: `Load one page of schedules from the service and print it.

--cron and --id-contains filter on the service; --filter narrows the loaded
page locally, matching the key, the cron expression or the identifier.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var getCmd = &cobra.Command{
	Use:   "get <schedule-id>",
	Short: "Show a single schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var createCmd = &cobra.Command{
	Use:   "create <schedule-id> <cron-expression>",
	Short: "Create a schedule",
	Long: `Create a schedule from a key and a six-field cron expression
(seconds first), for example:

  schedule-console create nightly "0 0 1 * * *" --persist remote`,
	Args: cobra.ExactArgs(2),
	RunE: runCreate,
}

var editCmd = &cobra.Command{
	Use:   "edit <schedule-id>",
	Short: "Change the cron expression or key of a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runEdit,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <schedule-id>...",
	Short: "Delete one or more schedules",
	Long: `Load a page of schedules and delete the given keys from it. Every key
must be on the loaded page; use --page and --page-size to pick the page.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	client := newClient()
	ctrl := newController(client)

	pageSize := listPageSize
	if pageSize == 0 {
		pageSize = cfg.Console.PageSize
	}

	filters := map[string]string{}
	if listCron != "" {
		filters[model.FilterCronSchedule] = listCron
	}
	if listIDContains != "" {
		filters[model.FilterScheduleID] = listIDContains
	}
	if len(filters) == 0 {
		filters = nil
	}

	err := ctrl.Load(ctx, listview.LazyLoadEvent{
		Page:      listPage,
		PageSize:  pageSize,
		SortBy:    model.SortField(strings.ToUpper(listSortBy)),
		SortOrder: model.SortOrder(strings.ToUpper(listSortOrder)),
		Filters:   filters,
	})
	if err != nil {
		printNotifications(cmd.ErrOrStderr(), ctrl.Notifications())
		return err
	}

	ctrl.GlobalFilter(listFilter)
	state := ctrl.State()
	printRecords(cmd.OutOrStdout(), ctrl.Visible())
	printPageFooter(cmd.OutOrStdout(), state)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	resp, err := newClient().GetSchedule(ctx, args[0])
	if err != nil {
		return err
	}
	printRecord(cmd.OutOrStdout(), resp.Data)
	return nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	ctrl := newController(newClient())
	ctrl.OpenNew()
	ctrl.SetWorking(&model.Schedule{
		ScheduleID:   model.String(args[0]),
		CronSchedule: model.String(args[1]),
	})

	saved, err := ctrl.Save(ctx)
	printNotifications(cmd.ErrOrStderr(), ctrl.Notifications())
	if err != nil {
		return err
	}
	printRecord(cmd.OutOrStdout(), saved)
	printLocalNote(cmd.ErrOrStderr())
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	if editCron == "" && editRename == "" {
		return fmt.Errorf("nothing to change: pass --cron or --rename")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	client := newClient()
	resp, err := client.GetSchedule(ctx, args[0])
	if err != nil {
		return err
	}

	ctrl := newController(client)
	ctrl.Edit(resp.Data)

	working := ctrl.State().Working
	if editCron != "" {
		working.CronSchedule = model.String(editCron)
	}
	if editRename != "" {
		working.ScheduleID = model.String(editRename)
	}
	ctrl.SetWorking(working)

	saved, err := ctrl.Save(ctx)
	printNotifications(cmd.ErrOrStderr(), ctrl.Notifications())
	if err != nil {
		return err
	}
	printRecord(cmd.OutOrStdout(), saved)
	printLocalNote(cmd.ErrOrStderr())
	return nil
}

// runDelete deletes a single key through the delete dialog and several keys
// through the selection. Keys are resolved against the loaded page.
func runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	pageSize := deletePageSize
	if pageSize == 0 {
		pageSize = cfg.Console.PageSize
	}

	ctrl := newController(newClient())
	if err := ctrl.Load(ctx, listview.LazyLoadEvent{Page: deletePage, PageSize: pageSize}); err != nil {
		printNotifications(cmd.ErrOrStderr(), ctrl.Notifications())
		return err
	}

	records, err := resolveKeys(ctrl.State().Records, args)
	if err != nil {
		return err
	}

	if len(records) == 1 {
		ctrl.PromptDelete(records[0])
		_, err = ctrl.ConfirmDelete(ctx)
	} else {
		ctrl.SelectionChange(records)
		ctrl.PromptDeleteSelected()
		_, err = ctrl.ConfirmDeleteSelected(ctx)
	}
	printNotifications(cmd.ErrOrStderr(), ctrl.Notifications())
	if err != nil {
		return err
	}

	for _, r := range records {
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", r.Key())
	}
	printLocalNote(cmd.ErrOrStderr())
	return nil
}

// resolveKeys returns the loaded record for each distinct key, in argument order
func resolveKeys(loaded []*model.Schedule, keys []string) ([]*model.Schedule, error) {
	byKey := make(map[string]*model.Schedule, len(loaded))
	for _, r := range loaded {
		if _, ok := byKey[r.Key()]; !ok {
			byKey[r.Key()] = r
		}
	}

	seen := make(map[string]struct{}, len(keys))
	records := make([]*model.Schedule, 0, len(keys))
	var missing []string
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		r, ok := byKey[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		records = append(records, r)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("not on the loaded page: %s (try --page or --page-size)", strings.Join(missing, ", "))
	}
	return records, nil
}

func printLocalNote(w io.Writer) {
	if cfg.Console.Persist == config.PersistLocal {
		fmt.Fprintln(w, "note: console.persist is local, the change was not sent to the service")
	}
}
