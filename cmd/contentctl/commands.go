package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"lessonsync/internal/session"
	"lessonsync/internal/snapshot"
	"lessonsync/internal/store"
)

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func readLocal(file string) (any, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	content, err := snapshot.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	if _, ok := content.(map[string]any); !ok {
		return nil, fmt.Errorf("%s: document must be a JSON object", file)
	}
	return content, nil
}

func cmdGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	output := fs.String("o", "", "write to file instead of stdout")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("usage: contentctl get <path> [-o file]")
	}

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := commandContext()
	defer cancel()
	doc, err := a.client.Fetch(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	text, err := snapshot.Serialize(doc.Content)
	if err != nil {
		return err
	}
	if *output != "" {
		return os.WriteFile(*output, []byte(text+"\n"), 0644)
	}
	fmt.Println(text)
	return nil
}

func cmdPush(args []string) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 2 {
		return errors.New("usage: contentctl push <file> <path>")
	}
	file, path := fs.Arg(0), fs.Arg(1)

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.mode.Require(); err != nil {
		return err
	}

	content, err := readLocal(file)
	if err != nil {
		return err
	}
	serialized, err := snapshot.Serialize(content)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	// The previous version only feeds the history patch; a missing document
	// is fine.
	var previous any = map[string]any{}
	if doc, err := a.client.Fetch(ctx, path); err == nil {
		previous = doc.Content
	}

	result := session.SaveResult{
		Path:        path,
		Previous:    previous,
		Content:     content,
		Serialized:  serialized,
		AttemptedAt: time.Now(),
	}
	resp, err := a.client.Save(ctx, path, content)
	result.Err = err
	if err == nil {
		result.SavedAt = resp.SavedAt
		if result.SavedAt.IsZero() {
			result.SavedAt = time.Now()
		}
	}
	a.recorder().Record(result)
	if err != nil {
		return err
	}

	colorSuccess.Printf("Alterações salvas às %s.\n", result.SavedAt.Local().Format("15:04:05"))
	return nil
}

func cmdDiff(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 2 {
		return errors.New("usage: contentctl diff <file> <path>")
	}
	file, path := fs.Arg(0), fs.Arg(1)

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	local, err := readLocal(file)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()
	doc, err := a.client.Fetch(ctx, path)
	if err != nil {
		return err
	}

	remoteText, err := snapshot.Serialize(doc.Content)
	if err != nil {
		return err
	}
	localText, err := snapshot.Serialize(local)
	if err != nil {
		return err
	}
	if snapshot.Equal(remoteText, localText) {
		colorNeutral.Println("Sem diferenças.")
		return nil
	}
	fmt.Printf("--- %s (remoto)\n+++ %s (local)\n", path, file)
	printDiff(snapshot.TextDiff(remoteText, localText))
	return nil
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 0, "number of entries (default: storage.history_limit)")
	fs.Parse(args)

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	n := *limit
	if n <= 0 {
		n = a.cfg.Storage.HistoryLimit
	}
	records, err := a.store.ListSaves(fs.Arg(0), n)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("Nenhum salvamento registrado.")
		return nil
	}

	for _, r := range records {
		c := colorSuccess
		switch r.Outcome {
		case store.OutcomeFailed:
			c = colorError
		case store.OutcomeStale:
			c = colorWarning
		}
		fmt.Printf("[%d] %s  %s  %s  %d bytes\n",
			r.ID, r.AttemptedAt.Local().Format("2006-01-02 15:04:05"), c.Sprintf("%-6s", r.Outcome), r.Path, r.Bytes)
		if r.Error != "" {
			fmt.Printf("    Erro:  %s\n", r.Error)
		}
		if len(r.Patch) > 0 {
			fmt.Printf("    Patch: %s\n", r.Patch)
		}
	}
	return nil
}

func cmdTeacher(args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	action := "status"
	if len(args) > 0 {
		action = args[0]
	}
	switch action {
	case "on":
		if err := a.mode.SetEnabled(true); err != nil {
			return err
		}
	case "off":
		if err := a.mode.SetEnabled(false); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("usage: contentctl teacher [on|off|status]")
	}

	if err := a.mode.Err(); err != nil {
		a.logger.Warn("teacher mode preference unreadable", "error", err)
	}
	if a.mode.Enabled() {
		colorSuccess.Println("Modo professor: ativado")
	} else {
		colorNeutral.Println("Modo professor: desativado")
	}
	return nil
}
