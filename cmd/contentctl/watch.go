package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sync"
	"time"

	"lessonsync/internal/contentapi"
	"lessonsync/internal/lesson"
	"lessonsync/internal/observable"
	"lessonsync/internal/session"
	"lessonsync/internal/status"
	"lessonsync/internal/watcher"
)

func cmdWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	settle := fs.Duration("settle", 200*time.Millisecond, "quiet period before a file change is read")
	fs.Parse(args)
	if fs.NArg() < 2 {
		return errors.New("usage: contentctl watch <file> <path> [-settle 200ms]")
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
	if !a.client.Available() {
		return errors.New(contentapi.MsgNotConfigured)
	}

	ctx, cancel := commandContext()
	defer cancel()

	model := observable.NewValue[*lesson.Lesson](nil)
	sess, err := session.New(session.Options[*lesson.Lesson]{
		Client:   a.client,
		Path:     observable.NewValue(path),
		Model:    model,
		FromRaw:  lesson.FromRaw,
		ToRaw:    lesson.ToRaw,
		Debounce: a.cfg.Debounce(),
		OnSave:   a.recorder().Record,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	tr := status.NewTracker(nil)
	defer sess.TrackStatus(tr)()

	var (
		printMu sync.Mutex
		last    status.View
	)
	show := func() {
		v := tr.View()
		printMu.Lock()
		defer printMu.Unlock()
		if v != last {
			last = v
			printStatus(v)
		}
	}
	defer sess.Signals().Subscribe(func(observable.Change[session.State]) { show() })()

	if err := waitLoaded(ctx, sess); err != nil {
		return err
	}
	show()

	apply := func(content any) {
		l, err := lesson.FromRaw(content)
		if err != nil {
			printError(err)
			return
		}
		model.Set(l)
	}

	w, err := watcher.New([]string{file}, *settle)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	// Catch up with edits made before watching started.
	if content, err := readLocal(file); err == nil {
		apply(content)
	} else {
		printError(err)
	}

	fmt.Printf("Observando %s -> %s (Ctrl+C para sair)\n", file, path)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-w.Events():
			if !ok {
				break loop
			}
			a.logger.Debug("local change", "file", ev.Path, "bytes", ev.Size)
			apply(ev.Content)
		case err, ok := <-w.Errors():
			if ok {
				printError(err)
			}
		}
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer flushCancel()
	return sess.Flush(flushCtx)
}

// waitLoaded blocks until the session finished loading its document.
func waitLoaded(ctx context.Context, sess *session.Session[*lesson.Lesson]) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		st := sess.State()
		if !st.Loading {
			if st.LoadError != "" {
				return errors.New(st.LoadError)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
