package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xhad/contractiq/internal/models"
)

func newAskCmd(opts *options) *cobra.Command {
	var (
		src      sources
		question string
		k        int
	)
	cmd := &cobra.Command{
		Use:   "ask [file or directory...]",
		Short: "Ask questions about contracts, with cited answers",
		Long: `ask ingests the given contracts and answers questions grounded in
their text. With --question it answers once and exits; otherwise it
starts an interactive session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.ingestAll(ctx, cmd.ErrOrStderr(), args, src.urls); err != nil {
				return err
			}

			if question != "" {
				if opts.jsonOut {
					ans, err := a.svc.Ask(ctx, question, nil, k)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), ans)
				}
				return a.answer(ctx, cmd.OutOrStdout(), question, k)
			}
			return a.chat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), k)
		},
	}
	src.register(cmd)
	cmd.Flags().StringVarP(&question, "question", "q", "", "answer a single question and exit")
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "passages to retrieve (default from config)")
	return cmd
}

func (a *app) chat(ctx context.Context, in io.Reader, out io.Writer, k int) error {
	color.New(color.FgCyan).Fprintln(out, "\nAsk about your contracts (type 'exit' to quit)")

	scanner := bufio.NewScanner(in)
	userPrompt := color.New(color.FgGreen)
	for {
		userPrompt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(query, "exit") {
			break
		}
		if query == "" {
			continue
		}
		if err := a.answer(ctx, out, query, k); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			color.New(color.FgRed).Fprintf(out, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}

// answer streams one grounded answer to out, followed by its sources.
func (a *app) answer(ctx context.Context, out io.Writer, question string, k int) error {
	spinner := getSpinner(" Searching contracts...")
	events, err := a.svc.AskStream(ctx, question, nil, k)
	spinner.Finish()
	fmt.Fprint(out, "\r")
	if err != nil {
		return err
	}

	color.New(color.FgCyan).Fprint(out, "\nAssistant: ")
	for ev := range events {
		if !ev.Done {
			fmt.Fprint(out, ev.Fragment)
			continue
		}
		fmt.Fprintln(out)
		if ev.Err != nil {
			color.New(color.FgRed).Fprintf(out, "answer interrupted: %v\n", ev.Err)
		}
		if ev.Fallback {
			color.New(color.FgYellow).Fprintln(out, "(model unavailable; showing the most relevant passages)")
		}
		a.printSources(out, ev.Citations)
		return nil
	}
	fmt.Fprintln(out)
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("answer ended unexpectedly")
}

func (a *app) printSources(out io.Writer, citations []models.Citation) {
	if len(citations) == 0 {
		return
	}
	color.New(color.FgHiBlack).Fprintln(out, "Sources:")
	for i, c := range citations {
		name := c.DocumentID
		if doc, err := a.svc.Document(c.DocumentID); err == nil {
			name = doc.Filename
		}
		color.New(color.FgHiBlack).Fprintf(out, "  [%d] %s, page %d: %s\n", i+1, name, c.Page, c.Excerpt)
	}
}
