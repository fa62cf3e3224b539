package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/repository"
	"github.com/stemsi/exstem-portal/internal/service"
	"github.com/stemsi/exstem-portal/internal/session"
	"github.com/stemsi/exstem-portal/internal/tui"
	"github.com/stemsi/exstem-portal/internal/worker"
	"golang.org/x/term"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

func runLogin(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	var email string
	var passwordStdin bool
	flags := newFlagSet("login")
	flags.StringVarP(&email, "email", "e", "", "student email address")
	flags.BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin instead of prompting")
	if err := flags.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	reader := bufio.NewReader(os.Stdin)
	if email == "" {
		fmt.Fprint(os.Stderr, "Email: ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	password, err := readPassword(reader, passwordStdin)
	if err != nil {
		return err
	}

	student, err := a.auth.Login(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Printf("Logged in as %s\n", displayName(student))
	return nil
}

func readPassword(reader *bufio.Reader, fromStdin bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !fromStdin && term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runLogout(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	if err := newFlagSet("logout").Parse(args); err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}

func runWhoami(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	if err := newFlagSet("whoami").Parse(args); err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	student, err := a.auth.Authenticate(ctx)
	if err != nil {
		return err
	}
	fmt.Println(displayName(student))

	exam, err := a.store.GetExamData(ctx)
	if err != nil {
		return err
	}
	if exam.IsActive(time.Now()) {
		fmt.Printf("Exam in progress: %s (attempt %s)\n", exam.ExamName, exam.StudentExamID)
	}
	return nil
}

func runExams(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	var filter string
	var asJSON bool
	flags := newFlagSet("exams")
	flags.StringVarP(&filter, "filter", "f", string(model.ExamFilterAll), "all, active or inactive")
	flags.BoolVar(&asJSON, "json", false, "print the catalog as JSON")
	if err := flags.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.auth.Authenticate(ctx); err != nil {
		return err
	}
	exams, err := a.catalog.ListExams(ctx, model.ExamFilter(filter))
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(exams)
	}

	if len(exams) == 0 {
		fmt.Println("No exams available.")
		return nil
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("ID", "NAME", "CATEGORY", "QUESTIONS", "DURATION", "PASSING", "STATUS")
	for _, exam := range exams {
		status := "closed"
		if exam.IsActive {
			status = "open"
		}
		t.Row(
			exam.ID.String(),
			exam.Name,
			exam.Category,
			fmt.Sprint(exam.QuestionCount),
			service.FormatDuration(exam.ExamTimer),
			service.FormatPassingScore(exam.PassingScore),
			status,
		)
	}
	fmt.Println(t)
	fmt.Printf("%d of %d open\n", service.CountActive(exams), len(exams))
	return nil
}

func runStart(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	var take bool
	flags := newFlagSet("start")
	flags.BoolVar(&take, "take", false, "open the exam in the terminal right away")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return apperror.Validation(apperror.ErrInvalidID, "usage: portal start <exam-id>")
	}

	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.auth.Authenticate(ctx); err != nil {
		return err
	}
	exam, err := a.catalog.StartExam(ctx, model.ID(flags.Arg(0)))
	if err != nil {
		return err
	}
	fmt.Printf("Started %s (attempt %s), %s on the clock\n",
		exam.ExamName, exam.StudentExamID, service.FormatDuration(exam.ExamTimer))

	if !take {
		fmt.Println("Run \"portal take\" to answer the questions.")
		return nil
	}
	return takeExam(ctx, a)
}

func runTake(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	if err := newFlagSet("take").Parse(args); err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.auth.Authenticate(ctx); err != nil {
		return err
	}
	return takeExam(ctx, a)
}

func takeExam(ctx context.Context, a *app) error {
	// A load error leaves the controller in the error state, where the
	// terminal UI offers a retry.
	ctrl, _ := a.examSessions.Current(ctx)
	if ctrl.Snapshot().State == session.StateRedirected {
		fmt.Println("There is no exam in progress. Start one with \"portal start <exam-id>\".")
		return nil
	}

	program := tea.NewProgram(tui.NewModel(ctrl), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return err
	}

	view := ctrl.Snapshot()
	switch view.State {
	case session.StateCompleted:
		if view.CompletionReason == model.CompletionTimeout {
			fmt.Println("Time is up. Your exam was submitted.")
		} else {
			fmt.Println("Exam completed.")
		}
		return ctrl.CompletionErr()
	default:
		fmt.Println("Left the exam. Run \"portal take\" to continue while time remains.")
		return nil
	}
}

func runReconcile(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	var follow, pending bool
	flags := newFlagSet("reconcile")
	flags.BoolVar(&follow, "follow", false, "keep running and process events as they arrive")
	flags.BoolVar(&pending, "pending", false, "list unresolved events from the audit database")
	if err := flags.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log, appOptions{requireRedis: true, audit: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if pending {
		return listPending(ctx, a)
	}

	w := newReconcileWorker(a)
	if follow {
		w.Start(ctx)
		return nil
	}
	n := w.Drain(ctx)
	fmt.Printf("Processed %d reconciliation event(s)\n", n)
	return nil
}

func listPending(ctx context.Context, a *app) error {
	if a.pool == nil {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	events, err := repository.NewAuditRepository(a.pool).ListUnresolved(ctx, 50)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No unresolved completions.")
		return nil
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("ATTEMPT", "EXAM", "REASON", "TRIES", "OCCURRED", "LAST ERROR")
	for _, ev := range events {
		t.Row(
			ev.StudentExamID.String(),
			ev.ExamID.String(),
			string(ev.Reason),
			fmt.Sprint(ev.Attempts),
			ev.OccurredAt.Local().Format(time.DateTime),
			ev.LastError,
		)
	}
	fmt.Println(t)
	return nil
}

func newReconcileWorker(a *app) *worker.ReconcileWorker {
	var audit worker.AuditStore
	if a.pool != nil {
		audit = repository.NewAuditRepository(a.pool)
	}
	return worker.NewReconcileWorker(a.queue, audit, a.gw, a.log)
}

func displayName(student *model.StudentProfile) string {
	if student.Name == "" {
		return student.Email
	}
	return fmt.Sprintf("%s <%s>", student.Name, student.Email)
}
