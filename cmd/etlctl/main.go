package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/config"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/docstore"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/etl"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/lock"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/sheets"
)

func main() {
	configFlag := flag.String("config", "", "path to config file")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	_ = godotenv.Load()

	// Read, not Load: read-only commands only need a subset of the daemon's
	// settings, so an incomplete config must not block them.
	cfg, err := config.Read(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		cmdStatus(cfg, *jsonFlag)
	case "add-student":
		cmdAddStudent(cfg, args[1:])
	case "show-student":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: etlctl show-student <phone>")
			os.Exit(1)
		}
		cmdShowStudent(cfg, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: etlctl [--config <path>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status           Show daemon stage and cycle stats")
	fmt.Fprintln(os.Stderr, "  add-student      Insert or replace a student record (daemon must be stopped)")
	fmt.Fprintln(os.Stderr, "  show-student     Print a student record (daemon must be stopped)")
}

func cmdStatus(cfg *config.Config, jsonOut bool) {
	if cfg.HTTPAddr == "" {
		fmt.Fprintln(os.Stderr, "error: http_addr is disabled in the config")
		os.Exit(1)
	}
	client := resty.New().SetTimeout(10 * time.Second)
	resp, err := client.R().Get("http://" + cfg.HTTPAddr + "/stats")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", cfg.HTTPAddr, err)
		os.Exit(1)
	}
	if jsonOut {
		fmt.Println(resp.String())
		return
	}

	var stats struct {
		Stage string `json:"stage"`
		Runs  struct {
			Runs      int    `json:"runs"`
			Successes int    `json:"successes"`
			Failures  int    `json:"failures"`
			LastRunAt string `json:"last_run_at"`
			LastError string `json:"last_error"`
		} `json:"runs"`
	}
	if err := json.Unmarshal(resp.Body(), &stats); err != nil {
		fmt.Fprintf(os.Stderr, "error: bad response: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Stage:     %s\n", stats.Stage)
	fmt.Printf("Runs:      %d (%d ok, %d failed)\n", stats.Runs.Runs, stats.Runs.Successes, stats.Runs.Failures)
	if stats.Runs.LastRunAt != "" {
		fmt.Printf("Last run:  %s\n", stats.Runs.LastRunAt)
	}
	if stats.Runs.LastError != "" {
		fmt.Printf("Last err:  %s\n", stats.Runs.LastError)
	}
}

// cmdAddStudent writes a student document directly into the local store and,
// when the roster flag is set, appends the matching roster row. The daemon
// holds an exclusive lock on the data dir, so it has to be stopped first.
func cmdAddStudent(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("add-student", flag.ExitOnError)
	phone := fs.String("phone", "", "phone number (e.g. '972 55-660-2298')")
	name := fs.String("name", "", "student name")
	lesson := fs.String("lesson", "", "current lesson number")
	teacher := fs.String("teacher", "", "teacher name")
	roster := fs.Bool("roster", false, "also append a row to the roster sheet")
	_ = fs.Parse(args)

	if *phone == "" || *name == "" || *lesson == "" {
		fmt.Fprintln(os.Stderr, "error: -phone, -name and -lesson are required")
		os.Exit(1)
	}

	key := etl.CleanPhone(*phone)
	if key == "" {
		fmt.Fprintf(os.Stderr, "error: %q contains no digits\n", *phone)
		os.Exit(1)
	}

	lk, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v (is the daemon running?)\n", err)
		os.Exit(1)
	}
	defer func() { _ = lk.Release() }()

	docs, err := docstore.Open(cfg.DocStorePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = docs.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	record := &etl.StudentRecord{}
	found, err := docs.Find(ctx, etl.CollectionStudents, key, record)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if found {
		fmt.Printf("Student %s (%s) already exists; updating.\n", record.Name, key)
	} else {
		record.CreatedAt = now
	}

	record.Phone = key
	record.Name = *name
	record.CurrentLesson = *lesson
	record.Teacher = *teacher
	record.Flagged = false
	record.UpdatedAt = now

	if err := docs.Upsert(ctx, etl.CollectionStudents, key, record); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Stored student %s (%s), lesson %s.\n", record.Name, key, record.CurrentLesson)

	if *roster {
		if cfg.CredentialsFile == "" || cfg.StudentsSheetID == "" {
			fmt.Fprintln(os.Stderr, "error: -roster needs credentials_file and students_sheet_id in the config")
			os.Exit(1)
		}
		client, err := sheets.NewService(ctx, cfg.CredentialsFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		row := []string{key, record.Name, record.CurrentLesson, "", record.Teacher}
		if err := client.AppendRows(ctx, cfg.StudentsSheetID, etl.RosterRange, [][]string{row}); err != nil {
			fmt.Fprintf(os.Stderr, "error: roster append failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Appended roster row.")
	}
}

func cmdShowStudent(cfg *config.Config, phone string) {
	key := etl.CleanPhone(phone)
	if key == "" {
		fmt.Fprintf(os.Stderr, "error: %q contains no digits\n", phone)
		os.Exit(1)
	}

	lk, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v (is the daemon running?)\n", err)
		os.Exit(1)
	}
	defer func() { _ = lk.Release() }()

	docs, err := docstore.Open(cfg.DocStorePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = docs.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	record := &etl.StudentRecord{}
	found, err := docs.Find(ctx, etl.CollectionStudents, key, record)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if !found {
		fmt.Fprintf(os.Stderr, "no student record for %s\n", key)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
