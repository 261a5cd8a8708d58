package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pliu/friends/internal/engine"
	"github.com/pliu/friends/internal/models"
	"github.com/pliu/friends/internal/store/sqlstore"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Manage joined channels while the client is not running",
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List joined channels",
	Args:  cobra.NoArgs,
	RunE:  listChannels,
}

var channelsJoinCmd = &cobra.Command{
	Use:   "join <channel>",
	Short: "Join a channel on the next run",
	Args:  cobra.ExactArgs(1),
	RunE:  joinChannel,
}

var channelsLeaveCmd = &cobra.Command{
	Use:   "leave <channel>",
	Short: "Leave a channel",
	Args:  cobra.ExactArgs(1),
	RunE:  leaveChannel,
}

func init() {
	channelsCmd.AddCommand(channelsListCmd, channelsJoinCmd, channelsLeaveCmd)
	rootCmd.AddCommand(channelsCmd)
}

// validChannel strips a leading '#' and rejects names that cannot be joined
// or left.
func validChannel(raw string) (string, error) {
	name := strings.TrimPrefix(raw, "#")
	switch name {
	case "":
		return "", errors.New("empty channel name")
	case engine.ControlChannel:
		return "", fmt.Errorf("#%s is reserved", name)
	case engine.DefaultChannel:
		return "", fmt.Errorf("#%s is always joined", name)
	}
	return name, nil
}

func listChannels(cmd *cobra.Command, _ []string) error {
	store, err := sqlstore.New(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer store.Close()

	var records []models.ChannelRecord
	for rec, err := range store.ChannelRecords() {
		if err != nil {
			return fmt.Errorf("error reading channels: %w", err)
		}
		records = append(records, rec)
	}

	out := cmd.OutOrStdout()
	names := append([]string{engine.DefaultChannel}, recordNames(records)...)
	for _, name := range names {
		n, err := store.Changes(name)
		if err != nil {
			return fmt.Errorf("error counting messages: %w", err)
		}
		fmt.Fprintf(out, "#%-20s %s messages\n", name, humanize.Comma(n))
	}
	return nil
}

func recordNames(records []models.ChannelRecord) []string {
	names := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.Name == engine.DefaultChannel {
			continue
		}
		names = append(names, rec.Name)
	}
	return names
}

func joinChannel(cmd *cobra.Command, args []string) error {
	name, err := validChannel(args[0])
	if err != nil {
		return err
	}
	store, err := sqlstore.New(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer store.Close()

	// Ids are reassigned in discovery order when the client starts.
	next := 1
	for rec, err := range store.ChannelRecords() {
		if err != nil {
			return fmt.Errorf("error reading channels: %w", err)
		}
		if rec.ID >= next {
			next = rec.ID + 1
		}
	}
	if err := store.PutChannel(models.ChannelRecord{Name: name, ID: next}); err != nil {
		return fmt.Errorf("error saving channel: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Joined #%s\n", name)
	return nil
}

func leaveChannel(cmd *cobra.Command, args []string) error {
	name, err := validChannel(args[0])
	if err != nil {
		return err
	}
	store, err := sqlstore.New(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer store.Close()

	if err := store.DeleteChannel(name); err != nil {
		return fmt.Errorf("error deleting channel: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Left #%s\n", name)
	return nil
}
