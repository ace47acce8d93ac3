package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"livedetect/internal/repository/sqlite"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "journal",
		Usage: "inspect the detection journal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Value:   "data/detections.db",
				Usage:   "journal database path",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "runs",
				Usage:  "list pipeline runs, newest first",
				Action: listRuns,
			},
			{
				Name:   "classes",
				Usage:  "count detections per class",
				Action: countClasses,
			},
			{
				Name:      "prune",
				Usage:     "delete a run and its detections",
				ArgsUsage: "<run-id>",
				Action:    pruneRun,
			},
		},
		Action: listRuns,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openJournal(c *cli.Context) (*sqlite.DB, error) {
	path := c.String("db")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no journal at %s: %w", path, err)
	}
	return sqlite.New(path)
}

func listRuns(c *cli.Context) error {
	db, err := openJournal(c)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := sqlite.NewRunRepository(db).GetAll()
	if err != nil {
		return err
	}
	total, err := sqlite.NewDetectionRepository(db).GetTotalCount()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSOURCE\tMODEL\tSTARTED\tDURATION")
	for _, run := range runs {
		duration := "running"
		if run.EndedAt != nil {
			duration = run.EndedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", run.ID, run.Source, run.Model, run.StartedAt.Local().Format(time.DateTime), duration)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "\n%d run(s), %d detection(s)\n", len(runs), total)
	return nil
}

func countClasses(c *cli.Context) error {
	db, err := openJournal(c)
	if err != nil {
		return err
	}
	defer db.Close()

	counts, err := sqlite.NewDetectionRepository(db).CountByClass()
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		fmt.Fprintln(c.App.Writer, "No detections recorded")
		return nil
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLASS\tCOUNT")
	for _, count := range counts {
		fmt.Fprintf(w, "%s\t%d\n", count.ObjectName, count.Count)
	}
	return w.Flush()
}

func pruneRun(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("prune needs exactly one run id", 2)
	}
	id := c.Args().First()

	db, err := openJournal(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqlite.NewRunRepository(db).Delete(id); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted run %s\n", id)
	return nil
}
