// Package station implements station management subcommands.
package station

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sodav/monitor/internal/conf"
	"github.com/sodav/monitor/internal/datastore"
	"github.com/sodav/monitor/internal/errors"
)

// Command creates the station management command tree.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "station",
		Short: "Manage monitored stations",
	}
	cmd.AddCommand(addCommand(settings), listCommand(settings), removeCommand(settings))
	return cmd
}

// withStore opens the configured store around fn.
func withStore(settings *conf.Settings, fn func(store datastore.Interface) error) error {
	store := datastore.New(settings)
	if store == nil {
		return errors.Newf("no database output enabled, enable output.sqlite or output.mysql").
			Component("main").
			Category(errors.CategoryConfig).
			Build()
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func addCommand(settings *conf.Settings) *cobra.Command {
	var name, url string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a station stream for monitoring",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withStore(settings, func(store datastore.Interface) error {
				if _, err := store.GetStationByURL(url); err == nil {
					return errors.Newf("a station with stream URL %s already exists", url).
						Component("main").
						Category(errors.CategoryConflict).
						Build()
				}

				station := datastore.Station{
					Name:      name,
					StreamURL: url,
					Status:    datastore.StationActive,
				}
				if err := store.SaveStation(&station); err != nil {
					return err
				}
				fmt.Printf("Added station %q (id %d)\n", station.Name, station.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Station display name")
	cmd.Flags().StringVar(&url, "url", "", "Stream URL (http or https)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered stations",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withStore(settings, func(store datastore.Interface) error {
				stations, err := store.GetAllStations()
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tSTATUS\tFAILURES\tSTREAM URL")
				for i := range stations {
					s := &stations[i]
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", s.ID, s.Name, s.Status, s.FailureCount, s.StreamURL)
				}
				return w.Flush()
			})
		},
	}
}

func removeCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "remove [id]",
		Short: "Remove a station from monitoring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return errors.Newf("invalid station id %q", args[0]).
					Component("main").
					Category(errors.CategoryValidation).
					Build()
			}

			return withStore(settings, func(store datastore.Interface) error {
				station, err := store.GetStation(uint(id))
				if err != nil {
					return err
				}
				if err := store.DeleteStation(station.ID); err != nil {
					return err
				}
				fmt.Printf("Removed station %q (id %d)\n", station.Name, station.ID)
				return nil
			})
		},
	}
}
