package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/empyre-fit/empyre/internal/config"
)

// --- chat ---

type chatReply struct {
	Type       string          `json:"type"`
	Field      string          `json:"field"`
	Text       string          `json:"text"`
	Plan       json.RawMessage `json:"plan"`
	PlanUpdate json.RawMessage `json:"plan_update"`
}

var chatCmd = &cobra.Command{
	Use:   "chat <user_id> <message>",
	Short: "Send one message to the coach",
	Long: `Send one message to the coach and print its reply.

Examples:
  empyre chat alice "I want to get stronger"
  empyre chat alice "" --patch training_days_per_week=4 --patch equipment_access=gym`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringArray("patch")
		patch, err := parsePatch(pairs)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"user_id": args[0],
			"message": strings.Join(args[1:], " "),
		}
		if len(patch) > 0 {
			req["profile_patch"] = patch
		}
		resp, err := client.post(cmd.Context(), "/chat", req)
		if err != nil {
			return err
		}

		var reply chatReply
		if err := decodeJSON(resp, &reply); err != nil {
			return err
		}
		return renderReply(reply)
	},
}

func renderReply(r chatReply) error {
	if r.Text != "" {
		printCoach(r.Type, r.Text)
	}
	for _, raw := range []json.RawMessage{r.Plan, r.PlanUpdate} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		if err := printIndented(raw); err != nil {
			return err
		}
	}
	return nil
}

func printIndented(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parsePatch turns key=value pairs into a profile patch. Values that parse
// as JSON keep their type; anything else is a string.
func parsePatch(pairs []string) (map[string]any, error) {
	patch := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, want key=value", p)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		patch[key] = v
	}
	return patch, nil
}

func init() {
	chatCmd.Flags().StringArray("patch", nil, "profile field to apply before the turn (key=value, repeatable)")
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect or edit a user profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <user_id>",
	Short: "Show a profile and its stage as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profile/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var view any
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}
		return printIndented(view)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <user_id> <key=value>...",
	Short: "Set profile fields",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := parsePatch(args[1:])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/profile/"+url.PathEscape(args[0]), patch)
		if err != nil {
			return err
		}

		var view struct {
			Stage string `json:"stage"`
		}
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}

		printSuccess("Updated %d field(s), stage is now %s", len(patch), view.Stage)
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
}

// --- progress ---

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Log or list activity",
}

var progressLogCmd = &cobra.Command{
	Use:   "log <user_id> <workout|measurement|goal> [key=value]...",
	Short: "Log a workout, measurement or goal",
	Long: `Log activity. Laurels are awarded in the background.

Examples:
  empyre progress log alice workout exercise=squat weight_kg=100
  empyre progress log alice goal goal="first pull-up"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parsePatch(args[2:])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/progress", map[string]any{
			"user_id":  args[0],
			"log_type": args[1],
			"log_data": data,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Logged %s %s", args[1], result["id"])
		return nil
	},
}

var progressListCmd = &cobra.Command{
	Use:   "list <user_id>",
	Short: "List recent activity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/progress/%s?limit=%d", url.PathEscape(args[0]), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var logs []struct {
			ID        string          `json:"id"`
			LogType   string          `json:"log_type"`
			LogData   json.RawMessage `json:"log_data"`
			CreatedAt string          `json:"created_at"`
		}
		if err := decodeJSON(resp, &logs); err != nil {
			return err
		}

		if len(logs) == 0 {
			fmt.Println("No activity logged.")
			return nil
		}

		for _, l := range logs {
			fmt.Printf("%s  %s  %-11s %s\n",
				colorize(colorCyan, shortID(l.ID)),
				l.CreatedAt,
				l.LogType,
				string(l.LogData),
			)
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	progressListCmd.Flags().Int("limit", 20, "maximum number of entries to list")
	progressCmd.AddCommand(progressLogCmd)
	progressCmd.AddCommand(progressListCmd)
}

// --- laurels ---

type laurelEntry struct {
	ID          string `json:"id"`
	LaurelType  string `json:"laurel_type"`
	Points      int    `json:"points"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

var laurelsCmd = &cobra.Command{
	Use:   "laurels",
	Short: "List or award laurels",
}

var laurelsListCmd = &cobra.Command{
	Use:   "list <user_id>",
	Short: "List a user's laurels and point total",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/laurels/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var result struct {
			TotalPoints int           `json:"total_points"`
			Laurels     []laurelEntry `json:"laurels"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, l := range result.Laurels {
			fmt.Printf("%s  %4d  %-20s %s\n",
				colorize(colorCyan, shortID(l.ID)),
				l.Points,
				l.LaurelType,
				l.Description,
			)
		}
		fmt.Printf("%s %d\n", colorize(colorBold, "Total points:"), result.TotalPoints)
		return nil
	},
}

var laurelsAwardCmd = &cobra.Command{
	Use:   "award <user_id> <laurel_type>",
	Short: "Grant a laurel by hand",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		q.Set("laurel_type", args[1])
		if cmd.Flags().Changed("points") {
			points, _ := cmd.Flags().GetInt("points")
			q.Set("points", fmt.Sprint(points))
		}
		if desc, _ := cmd.Flags().GetString("description"); desc != "" {
			q.Set("description", desc)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/laurels/" + url.PathEscape(args[0]) + "/award?" + q.Encode()
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}

		var l laurelEntry
		if err := decodeJSON(resp, &l); err != nil {
			return err
		}

		printSuccess("Awarded %s (%d points)", l.LaurelType, l.Points)
		return nil
	},
}

func init() {
	laurelsAwardCmd.Flags().Int("points", 0, "points to grant (server default when omitted)")
	laurelsAwardCmd.Flags().String("description", "", "why the laurel was granted")
	laurelsCmd.AddCommand(laurelsListCmd)
	laurelsCmd.AddCommand(laurelsAwardCmd)
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

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
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

		if strings.HasSuffix(key, "_api_key") {
			printSuccess("Stored %s in the secret store", key)
			return nil
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
