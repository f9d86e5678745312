package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"southwinds.dev/opvault"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List items in the vault",
	Long:  "Unlock the vault and list every active item with its title, category and login hint.",
	RunE:  listItems,
}

var findCmd = &cobra.Command{
	Use:   "find [url]",
	Short: "Find login items for a URL",
	Long:  "Unlock the vault and list the login items whose website matches the given URL.",
	Args:  cobra.ExactArgs(1),
	RunE:  findItems,
}

var showCmd = &cobra.Command{
	Use:   "show [item-uuid]",
	Short: "Show a decrypted item",
	Long:  "Unlock the vault and print the full decrypted detail of a single item.",
	Args:  cobra.ExactArgs(1),
	RunE:  showItem,
}

var (
	outputJSON   bool
	revealSecret bool
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(showCmd)

	listCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	findCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	showCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	showCmd.Flags().BoolVar(&revealSecret, "reveal", false, "include passwords and secret field values")
}

func listItems(cmd *cobra.Command, args []string) error {
	session, err := unlockedSession(cmd)
	if err != nil {
		return err
	}
	defer session.Lock()

	items, err := session.ListAll()
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}

	if outputJSON {
		jsonData, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonData))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UUID\tTITLE\tCATEGORY\tUSERNAME\tURL")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			item.UUID, item.Title, item.Category, item.Username, item.URL)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nTotal: %d items\n", len(items))

	return nil
}

func findItems(cmd *cobra.Command, args []string) error {
	session, err := unlockedSession(cmd)
	if err != nil {
		return err
	}
	defer session.Lock()

	matches, err := session.FindByURL(args[0])
	if err != nil {
		return fmt.Errorf("failed to search items: %w", err)
	}

	if outputJSON {
		jsonData, err := json.MarshalIndent(matches, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonData))
		return nil
	}

	if len(matches) == 0 {
		fmt.Printf("No items match '%s'\n", args[0])
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UUID\tTITLE\tUSERNAME\tURL")
	for _, item := range matches {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.UUID, item.Title, item.Username, item.URL)
	}
	return w.Flush()
}

func showItem(cmd *cobra.Command, args []string) error {
	session, err := unlockedSession(cmd)
	if err != nil {
		return err
	}
	defer session.Lock()

	item, err := session.GetItem(args[0])
	if err != nil {
		return fmt.Errorf("failed to get item: %w", err)
	}

	if !revealSecret {
		redactItem(item)
	}

	if outputJSON {
		output := map[string]interface{}{
			"uuid":     item.UUID,
			"category": item.Category,
			"title":    item.Overview.Title,
			"url":      item.Overview.URL,
			"password": item.Detail.Password,
			"fields":   item.Detail.Fields,
			"sections": item.Detail.Sections,
			"notes":    item.Detail.NotesPlain,
		}
		jsonData, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonData))
		return nil
	}

	fmt.Printf("UUID: %s\n", item.UUID)
	fmt.Printf("Title: %s\n", item.Overview.Title)
	fmt.Printf("Category: %s\n", item.Category)
	if item.Overview.URL != "" {
		fmt.Printf("URL: %s\n", item.Overview.URL)
	}
	if item.Detail.Password != "" {
		fmt.Printf("Password: %s\n", item.Detail.Password)
	}
	for _, field := range item.Detail.Fields {
		fmt.Printf("Field %s (%s): %s\n", field.Name, field.Type, field.Value)
	}
	for _, section := range item.Detail.Sections {
		for _, field := range section.Fields {
			label := field.Title
			if label == "" {
				label = field.Name
			}
			fmt.Printf("Field %s/%s: %s\n", section.Title, label, field.Value)
		}
	}
	if item.Detail.NotesPlain != "" {
		fmt.Println("\n--- Notes ---")
		fmt.Println(item.Detail.NotesPlain)
	}

	return nil
}

const redacted = "********"

// redactItem masks secret values in place so the default output is safe
// to paste into terminals and logs. Use --reveal to skip this.
func redactItem(item *opvault.Item) {
	if item.Detail.Password != "" {
		item.Detail.Password = redacted
	}
	for i, field := range item.Detail.Fields {
		if field.Type == "P" && field.Value != "" {
			item.Detail.Fields[i].Value = redacted
		}
	}
	for i, section := range item.Detail.Sections {
		for j, field := range section.Fields {
			if field.Kind == "concealed" && field.Value != "" {
				item.Detail.Sections[i].Fields[j].Value = redacted
			}
		}
	}
}
