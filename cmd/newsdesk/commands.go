package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/newsdesk/internal/audit"
	"github.com/kalambet/newsdesk/internal/config"
	"github.com/kalambet/newsdesk/internal/ingest"
	"github.com/kalambet/newsdesk/internal/ledger"
	"github.com/kalambet/newsdesk/internal/pipeline"
	"github.com/kalambet/newsdesk/internal/publish"
	"github.com/kalambet/newsdesk/internal/queue"
	"github.com/kalambet/newsdesk/internal/review"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func decodeRaw(resp *http.Response) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := decodeJSON(resp, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// --- enqueue ---

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Offer a news item to the pending queue",
	Long: `Offer a news item to the pending queue.

Examples:
  newsdesk enqueue --title "Sovereign grant rises" --excerpt "..." --url https://example.com/a
  newsdesk enqueue --pdf ./press-release.pdf --source "Press Office"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := itemFromFlags(cmd)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/queue/items", item)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued item %s", result["id"])
		return nil
	},
}

func itemFromFlags(cmd *cobra.Command) (queue.Item, error) {
	pdfPath, _ := cmd.Flags().GetString("pdf")
	source, _ := cmd.Flags().GetString("source")
	if pdfPath != "" {
		return ingest.FromPDF(pdfPath, source)
	}

	title, _ := cmd.Flags().GetString("title")
	if strings.TrimSpace(title) == "" {
		return queue.Item{}, fmt.Errorf("--title or --pdf is required")
	}
	excerpt, _ := cmd.Flags().GetString("excerpt")
	link, _ := cmd.Flags().GetString("url")
	category, _ := cmd.Flags().GetString("category")
	return queue.Item{
		Title:    title,
		Excerpt:  excerpt,
		URL:      link,
		Source:   source,
		Category: category,
	}, nil
}

func init() {
	enqueueCmd.Flags().String("title", "", "item headline")
	enqueueCmd.Flags().String("excerpt", "", "item excerpt")
	enqueueCmd.Flags().String("url", "", "link to the original story")
	enqueueCmd.Flags().String("source", "", "source name (default manual)")
	enqueueCmd.Flags().String("category", "", "optional category hint")
	enqueueCmd.Flags().String("pdf", "", "build the item from a PDF document")
}

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the work queue",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show lane lengths",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/queue/stats")
		if err != nil {
			return err
		}
		var stats queue.Stats
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Pending", "%d", stats.Pending)
		printStatus("Processed", "%d", stats.Processed)
		printStatus("Failed", "%d", stats.Failed)
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:       "list <pending|processed|failed>",
	Short:     "List the items of one lane",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"pending", "processed", "failed"},
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/queue/%s?limit=%d", url.PathEscape(args[0]), limit))
		if err != nil {
			return err
		}
		var entries []queue.Entry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("Lane is empty.")
			return nil
		}
		renderTable(os.Stdout, []string{"ID", "TITLE", "SOURCE", "DETAIL"}, laneRows(entries))
		return nil
	},
}

func laneRows(entries []queue.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.Pending != nil:
			rows = append(rows, []string{e.Pending.ID, truncateText(e.Pending.Title, 60), e.Pending.Source, e.Pending.PublishedAt})
		case e.Processed != nil:
			detail := "not forwarded"
			if e.Processed.PublishedToNotion {
				detail = "page " + e.Processed.NotionPageID
			}
			rows = append(rows, []string{e.Processed.ID, truncateText(e.Processed.Title, 60), e.Processed.Source, detail})
		case e.Failed != nil:
			rows = append(rows, []string{e.Failed.ID, truncateText(e.Failed.Title, 60), e.Failed.Source, truncateText(e.Failed.Error, 60)})
		}
	}
	return rows
}

func init() {
	queueListCmd.Flags().Int("limit", 20, "maximum number of items")
	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueListCmd)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch configured feeds into the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Fetching feeds...")
		resp, err := client.post(cmd.Context(), "/ingest", map[string]string{"source": source})
		if err != nil {
			return err
		}
		var report ingest.Report
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		rows := make([][]string, 0, len(report.Sources))
		for _, s := range report.Sources {
			status := "ok"
			if s.Error != "" {
				status = truncateText(s.Error, 50)
			}
			rows = append(rows, []string{s.Source, strconv.Itoa(s.Fetched), strconv.Itoa(s.Enqueued), strconv.Itoa(s.Duplicates), strconv.Itoa(s.Filtered), status})
		}
		renderTable(os.Stdout, []string{"SOURCE", "FETCHED", "QUEUED", "DUPLICATE", "FILTERED", "STATUS"}, rows)
		printSuccess("Queued %d new items", report.Enqueued)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("source", "", "only fetch sources whose name contains this")
}

// --- process ---

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run pending items through the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/process", map[string]int{"count": count})
		if err != nil {
			return err
		}
		var result struct {
			Message string            `json:"message"`
			Results []pipeline.Result `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, r := range result.Results {
			if r.Status == pipeline.StatusFailed {
				printError("%s %s: %s", r.ID, truncateText(r.Title, 50), r.Reason)
				continue
			}
			printSuccess("%s %s (review task %s)", r.ID, truncateText(r.Title, 50), r.ReviewTaskID)
		}
		fmt.Println(result.Message)
		return nil
	},
}

func init() {
	processCmd.Flags().Int("count", 1, "number of items to attempt")
}

// --- review ---

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the human review desk",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review tasks (default: awaiting review)",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		for _, name := range []string{"state", "kind", "target"} {
			if v, _ := cmd.Flags().GetString(name); v != "" {
				key := name
				if name == "target" {
					key = "targetId"
				}
				q.Set(key, v)
			}
		}
		if all, _ := cmd.Flags().GetBool("all"); all {
			q.Set("all", "true")
		}
		limit, _ := cmd.Flags().GetInt("limit")
		q.Set("limit", strconv.Itoa(limit))

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/review/tasks?"+q.Encode())
		if err != nil {
			return err
		}
		var tasks []review.Task
		if err := decodeJSON(resp, &tasks); err != nil {
			return err
		}

		if len(tasks) == 0 {
			fmt.Println("No review tasks found.")
			return nil
		}
		renderTable(os.Stdout, []string{"ID", "KIND", "STATE", "RISK", "TARGET", "TITLE"}, taskRows(tasks))
		return nil
	},
}

func taskRows(tasks []review.Task) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			t.ID[:min(8, len(t.ID))],
			string(t.Kind),
			string(t.State),
			fmt.Sprintf("%d %s", t.Risk, t.RiskLabel),
			t.TargetID,
			truncateText(t.Title, 50),
		})
	}
	return rows
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a review task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/review/tasks/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		raw, err := decodeRaw(resp)
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

var reviewCreateCmd = &cobra.Command{
	Use:   "create --file task.json",
	Short: "Create a review task from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		var body map[string]any
		if err := json.Unmarshal(data, &body); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		if actor, _ := cmd.Flags().GetString("actor"); actor != "" {
			body["actor"] = actor
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/review/tasks", body)
		if err != nil {
			return err
		}
		var task review.Task
		if err := decodeJSON(resp, &task); err != nil {
			return err
		}

		printSuccess("Created review task %s (%s, risk %s)", task.ID, task.Kind, task.RiskLabel)
		return nil
	},
}

func decideCommand(use, short string, to review.State) *cobra.Command {
	c := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewer, _ := cmd.Flags().GetString("reviewer")
			if reviewer == "" {
				return fmt.Errorf("--reviewer is required")
			}
			body := map[string]any{"state": to, "reviewer": reviewer}
			if cmd.Flags().Changed("notes") {
				notes, _ := cmd.Flags().GetString("notes")
				body["notes"] = notes
			}

			client, err := newAPIClient()
			if err != nil {
				return err
			}
			resp, err := client.patch(cmd.Context(), "/review/tasks/"+url.PathEscape(args[0]), body)
			if err != nil {
				return err
			}
			var task review.Task
			if err := decodeJSON(resp, &task); err != nil {
				return err
			}

			printSuccess("Task %s is now %s", task.ID, task.State)
			return nil
		},
	}
	c.Flags().String("reviewer", "", "who is deciding")
	c.Flags().String("notes", "", "reviewer notes")
	return c
}

var reviewApproveCmd = decideCommand("approve", "Approve a task awaiting review", review.StateApproved)

var reviewRejectCmd = decideCommand("reject", "Reject a task awaiting review", review.StateRejected)

// checklistNames holds the checklist items in display order.
var checklistNames = []string{"sources", "quotes", "counterview", "numbers", "rights", "style"}

// checklistBody marks every named item checked and the rest unchecked.
func checklistBody(checked []string) (map[string]any, error) {
	body := make(map[string]any, len(checklistNames))
	for _, n := range checklistNames {
		body[n] = false
	}
	for _, c := range checked {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := body[c]; !ok {
			return nil, fmt.Errorf("unknown checklist item %q (valid: %s)", c, strings.Join(checklistNames, ", "))
		}
		body[c] = true
	}
	return body, nil
}

var reviewChecklistCmd = &cobra.Command{
	Use:   "checklist <id>",
	Short: "Replace a task's checklist",
	Long: `Replace a task's checklist. Items not listed in --checked are cleared.

Example:
  newsdesk review checklist 1b2c --checked sources,quotes,numbers --actor alice`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		checked, _ := cmd.Flags().GetStringSlice("checked")
		body, err := checklistBody(checked)
		if err != nil {
			return err
		}
		if actor, _ := cmd.Flags().GetString("actor"); actor != "" {
			body["actor"] = actor
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/review/tasks/"+url.PathEscape(args[0])+"/checklist", body)
		if err != nil {
			return err
		}
		var task review.Task
		if err := decodeJSON(resp, &task); err != nil {
			return err
		}

		if open := task.Checklist.Unchecked(); len(open) > 0 {
			printWarning("Checklist saved, still open: %s", strings.Join(open, ", "))
			return nil
		}
		printSuccess("Checklist complete")
		return nil
	},
}

var reviewResubmitCmd = &cobra.Command{
	Use:   "resubmit <id>",
	Short: "Open a fresh task for a rejected one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/review/tasks/"+url.PathEscape(args[0])+"/resubmit", map[string]string{"actor": actor})
		if err != nil {
			return err
		}
		var task review.Task
		if err := decodeJSON(resp, &task); err != nil {
			return err
		}

		printSuccess("Created review task %s superseding %s", task.ID, task.Supersedes)
		return nil
	},
}

func init() {
	reviewListCmd.Flags().String("state", "", "REVIEWING, APPROVED or REJECTED")
	reviewListCmd.Flags().String("kind", "", "EVIDENCE, TEMPLATE, NEWS or LEDGER_REPORT")
	reviewListCmd.Flags().String("target", "", "only tasks for this target id")
	reviewListCmd.Flags().Bool("all", false, "include decided tasks")
	reviewListCmd.Flags().Int("limit", 50, "maximum number of tasks")
	reviewCreateCmd.Flags().String("file", "", "JSON file with kind, targetId, title, sources, risk and checklist")
	reviewCreateCmd.Flags().String("actor", "", "who is creating the task")
	reviewChecklistCmd.Flags().StringSlice("checked", nil, "checklist items to mark checked")
	reviewChecklistCmd.Flags().String("actor", "", "who is editing")
	reviewResubmitCmd.Flags().String("actor", "", "who is resubmitting")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	reviewCmd.AddCommand(reviewCreateCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	reviewCmd.AddCommand(reviewChecklistCmd)
	reviewCmd.AddCommand(reviewResubmitCmd)
}

// --- publish ---

var publishCmd = &cobra.Command{
	Use:   "publish <entity> <id>",
	Short: "Publish an approved entity",
	Long: `Publish an approved entity. Entity is one of evidence, template, news
or ledger_report.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		publisher, _ := cmd.Flags().GetString("publisher")
		notes, _ := cmd.Flags().GetString("notes")
		if publisher == "" {
			return fmt.Errorf("--publisher is required")
		}
		return postPublication(cmd, "/publish/"+url.PathEscape(args[0])+"/"+url.PathEscape(args[1]),
			map[string]string{"publisher": publisher, "notes": notes})
	},
}

var retractCmd = &cobra.Command{
	Use:   "retract <entity> <id>",
	Short: "Take a published entity offline",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		reason, _ := cmd.Flags().GetString("reason")
		if actor == "" {
			return fmt.Errorf("--actor is required")
		}
		return postPublication(cmd, "/publish/"+url.PathEscape(args[0])+"/"+url.PathEscape(args[1])+"/retract",
			map[string]string{"actor": actor, "reason": reason})
	},
}

func postPublication(cmd *cobra.Command, path string, body any) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.post(cmd.Context(), path, body)
	if err != nil {
		return err
	}
	var result struct {
		Success bool           `json:"success"`
		Data    publish.Result `json:"data"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	verb := "Published"
	if !result.Data.Published {
		verb = "Retracted"
	}
	printSuccess("%s %s %s (audit %s)", verb, result.Data.Entity, result.Data.ID, result.Data.AuditLogID)
	if result.Data.PageID != "" {
		printStatus("Page", "%s", result.Data.PageID)
	}
	return nil
}

func init() {
	publishCmd.Flags().String("publisher", "", "who is publishing")
	publishCmd.Flags().String("notes", "", "publication notes")
	retractCmd.Flags().String("actor", "", "who is retracting")
	retractCmd.Flags().String("reason", "", "why the entity is retracted")
}

// --- ledger ---

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Track spend against the monthly cap",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <yyyy-mm>",
	Short: "Show a month's entries and totals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/ledger/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var sum ledger.Summary
		if err := decodeJSON(resp, &sum); err != nil {
			return err
		}

		if len(sum.Entries) > 0 {
			rows := make([][]string, 0, len(sum.Entries))
			for _, e := range sum.Entries {
				rows = append(rows, []string{e.CreatedAt.Format("2006-01-02"), e.Category, formatUSD(e.AmountUSD), truncateText(e.Note, 50)})
			}
			renderTable(os.Stdout, []string{"DATE", "CATEGORY", "AMOUNT", "NOTE"}, rows)
			fmt.Println()
		}
		printStatus("Spent", "%s", formatUSD(sum.TotalSpent))
		printStatus("Remaining", "%s of %s", formatUSD(sum.RemainingBudget), formatUSD(sum.MonthlyCap))
		return nil
	},
}

var ledgerRecordCmd = &cobra.Command{
	Use:   "record <yyyy-mm>",
	Short: "Record spend for a month",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		amount, _ := cmd.Flags().GetFloat64("amount")
		note, _ := cmd.Flags().GetString("note")
		actor, _ := cmd.Flags().GetString("actor")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/ledger/"+url.PathEscape(args[0]), map[string]any{
			"category":  category,
			"amountUsd": amount,
			"note":      note,
			"actor":     actor,
		})
		if err != nil {
			return err
		}
		var rec ledger.Recorded
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		printSuccess("Recorded %s %s, %s remaining", formatUSD(rec.Entry.AmountUSD), rec.Entry.Category, formatUSD(rec.RemainingBudget))
		return nil
	},
}

func init() {
	ledgerRecordCmd.Flags().String("category", "", "infra, legal, tools or comms")
	ledgerRecordCmd.Flags().Float64("amount", 0, "amount in USD")
	ledgerRecordCmd.Flags().String("note", "", "optional note")
	ledgerRecordCmd.Flags().String("actor", "", "who is recording")
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerRecordCmd)
}

// --- audit ---

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List audit log entries, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		for _, name := range []string{"target", "action", "actor"} {
			if v, _ := cmd.Flags().GetString(name); v != "" {
				q.Set(name, v)
			}
		}
		limit, _ := cmd.Flags().GetInt("limit")
		q.Set("limit", strconv.Itoa(limit))

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/audit?"+q.Encode())
		if err != nil {
			return err
		}
		var entries []audit.Entry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No audit entries found.")
			return nil
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{e.CreatedAt.Format("2006-01-02 15:04:05"), e.Action, e.Actor, e.Target, truncateText(string(e.Diff), 60)})
		}
		renderTable(os.Stdout, []string{"TIME", "ACTION", "ACTOR", "TARGET", "DIFF"}, rows)
		return nil
	},
}

func init() {
	auditCmd.Flags().String("target", "", "only entries for this target")
	auditCmd.Flags().String("action", "", "CREATE, EDIT, APPROVE, PUBLISH, REJECT or ROLLBACK")
	auditCmd.Flags().String("actor", "", "only entries by this actor")
	auditCmd.Flags().Int("limit", 100, "maximum number of entries")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
