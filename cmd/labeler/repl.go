package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"flag-classifier/internal/classification"
	"flag-classifier/internal/models"
	"flag-classifier/internal/session"
	"flag-classifier/internal/taxonomy"
)

const helpText = `Commands:
  show                 current image, its resolved location and the form
  next | prev          move through the queue
  mode                 switch between cropped and composite rendition
  flags                list the specific flags
  flag <name>          pick a specific flag (fills category and context)
  category <name>      set the primary category
  context <name>       set where the flag is displayed
  note <text>          set the user context
  confidence <1-5>     set the confidence
  save                 record the answer and move on
  review [reason]      mark the image for review and move on
  retry | dismiss      after a failed save
  stats                what this session recorded
  quit`

var errQuit = errors.New("quit")

// repl reads one command per line and applies it to a session.
type repl struct {
	s    *session.Session
	tx   *taxonomy.Taxonomy
	out  io.Writer
	mode models.DisplayMode
}

func newREPL(s *session.Session, out io.Writer) *repl {
	return &repl{s: s, tx: taxonomy.Default(), out: out, mode: models.ModeComposite}
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	r.show(ctx)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(r.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if err := r.exec(ctx, line); errors.Is(err, errQuit) {
				return nil
			} else if err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
		}
	}
}

func (r *repl) exec(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return nil
	case "help", "?":
		fmt.Fprintln(r.out, helpText)
	case "quit", "exit":
		return errQuit
	case "show":
		r.show(ctx)
	case "next":
		r.s.Next()
		r.show(ctx)
	case "prev":
		r.s.Previous()
		r.show(ctx)
	case "mode":
		r.mode = r.mode.Alternate()
		r.show(ctx)
	case "flags":
		for _, g := range r.tx.Groups {
			names := make([]string, 0, len(g.Flags))
			for _, f := range g.Flags {
				names = append(names, f.Name)
			}
			fmt.Fprintf(r.out, "%s: %s\n", g.Context, strings.Join(names, ", "))
		}
		fmt.Fprintf(r.out, "display contexts: %s\n", strings.Join(r.tx.DisplayContexts, ", "))
	case "flag":
		return r.s.SelectFlag(arg)
	case "category":
		r.edit(func(f *session.Form) { f.PrimaryCategory = arg })
	case "context":
		if !r.tx.IsDisplayContext(arg) {
			fmt.Fprintf(r.out, "note: %q is not a listed display context\n", arg)
		}
		r.edit(func(f *session.Form) { f.DisplayContext = arg })
	case "note":
		r.edit(func(f *session.Form) { f.UserContext = arg })
	case "confidence":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("confidence must be a number")
		}
		r.edit(func(f *session.Form) { f.Confidence = n })
	case "save":
		saved, err := r.s.Submit(ctx)
		return r.report(ctx, saved, err)
	case "retry":
		saved, err := r.s.Retry(ctx)
		return r.report(ctx, saved, err)
	case "review":
		saved, err := r.s.Flag(ctx, arg)
		return r.report(ctx, saved, err)
	case "dismiss":
		r.s.Dismiss()
	case "stats":
		st := r.s.Stats()
		fmt.Fprintf(r.out, "labeled %d, flagged %d\n", st.Labeled, st.Flagged)
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func (r *repl) edit(fn func(*session.Form)) {
	f := r.s.Form()
	fn(&f)
	r.s.SetForm(f)
}

func (r *repl) report(ctx context.Context, saved *models.Classification, err error) error {
	if err != nil {
		var ve *classification.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("missing or invalid: %s", strings.Join(ve.Fields, ", "))
		}
		if r.s.State() == session.StateError {
			return fmt.Errorf("%w (retry or dismiss)", err)
		}
		return err
	}
	fmt.Fprintf(r.out, "recorded %s\n", saved.ImageID)
	r.show(ctx)
	return nil
}

func (r *repl) show(ctx context.Context) {
	snap := r.s.Snapshot()
	if snap.Current == nil {
		fmt.Fprintf(r.out, "[%d/%d] queue finished\n", snap.Index, snap.Total)
		return
	}

	fmt.Fprintf(r.out, "[%d/%d] %s %s\n", snap.Index+1, snap.Total, snap.Current.Town, snap.Current.Filename)
	if res, ok := r.s.Display(ctx, r.mode); ok {
		fmt.Fprintf(r.out, "  %s (%s, %s)\n", res.URL, res.Mode, res.Status)
	}
	f := snap.Form
	fmt.Fprintf(r.out, "  flag=%q category=%q context=%q note=%q confidence=%d\n",
		f.SpecificFlag, f.PrimaryCategory, f.DisplayContext, f.UserContext, f.Confidence)
}
