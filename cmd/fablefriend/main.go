package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dshaw/fablefriend/internal/artifacts"
	"github.com/dshaw/fablefriend/internal/checkpoint"
	"github.com/dshaw/fablefriend/internal/config"
	"github.com/dshaw/fablefriend/internal/engine"
	"github.com/dshaw/fablefriend/internal/imagegen"
	"github.com/dshaw/fablefriend/internal/llm"
	"github.com/dshaw/fablefriend/internal/llm/providers/openrouter"
	"github.com/dshaw/fablefriend/internal/server"
	"github.com/dshaw/fablefriend/internal/session"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serve(os.Args[2:])
	case "play":
		play(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  fablefriend serve --config <run.yaml> [--addr <:8080>]")
	fmt.Fprintln(os.Stderr, "  fablefriend play --config <run.yaml> [--name <name>] [--theme <theme>] [--role <role>]")
}

// wiring bundles everything a front end needs to run sessions.
type wiring struct {
	manager *session.Manager
	store   checkpoint.Store
	art     *artifacts.Store
	llm     *llm.Client
	cfg     *config.File
}

func buildWiring(cfg *config.File) (*wiring, error) {
	client := llm.NewClient()
	for name, pc := range cfg.LLM.Providers {
		client.Register(openrouter.NewAdapter(openrouter.Config{
			Provider: name,
			APIKey:   os.Getenv(pc.APIKeyEnv),
			BaseURL:  pc.BaseURL,
			Path:     pc.Path,
			AppName:  "fablefriend",
			Headers:  pc.Headers,
		}))
	}
	client.SetDefaultProvider(cfg.LLM.Provider)

	active := cfg.LLM.Providers[cfg.LLM.Provider]
	text := &engine.TextClient{
		Client:    client,
		Model:     active.Model,
		MaxTokens: active.MaxTokens,
		Retry: llm.RetryPolicy{
			MaxAttempts: *cfg.Adjudication.MaxRetries,
			BaseDelay:   time.Duration(cfg.Adjudication.BaseDelayMS) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Adjudication.MaxDelayMS) * time.Millisecond,
			Multiplier:  2,
		},
	}

	var image engine.ImageGenerator
	if *cfg.Image.Enabled {
		image = imagegen.NewClient(imagegen.Config{
			APIKey:  os.Getenv(cfg.Image.APIKeyEnv),
			BaseURL: cfg.Image.BaseURL,
			Model:   cfg.Image.Model,
			Width:   cfg.Image.Width,
			Height:  cfg.Image.Height,
			Enhance: true,
			Safe:    true,
			Seed:    int(*cfg.Image.Seed),
		})
	}

	store, err := checkpoint.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	store.Retention = cfg.Store.HistoryPerSession

	art, err := artifacts.NewStore(cfg.Artifacts.Dir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	machine := &engine.Machine{
		Text:        text,
		Image:       image,
		StepTimeout: time.Duration(cfg.Sessions.StepTimeoutMS) * time.Millisecond,
	}
	return &wiring{
		manager: session.NewManager(machine, store, art),
		store:   store,
		art:     art,
		llm:     client,
		cfg:     cfg,
	}, nil
}

func serve(args []string) {
	var configPath, addr string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--addr":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--addr requires a value")
				os.Exit(1)
			}
			addr = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if configPath == "" {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	w, err := buildWiring(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer w.store.Close()

	fmt.Fprintf(os.Stderr, "providers: %s (default %s)\n",
		strings.Join(w.llm.ProviderNames(), ", "), cfg.LLM.Provider)

	if removed, err := w.art.PruneAged(
		time.Duration(cfg.Artifacts.MaxAgeHours)*time.Hour,
		cfg.Artifacts.CleanupGlobs,
	); err != nil {
		fmt.Fprintf(os.Stderr, "artifact cleanup: %v\n", err)
	} else if removed > 0 {
		fmt.Fprintf(os.Stderr, "artifact cleanup removed %d stale images\n", removed)
	}

	srv := server.New(server.Config{
		Addr:        cfg.Server.Addr,
		IdleTimeout: time.Duration(cfg.Sessions.IdleTimeoutMS) * time.Millisecond,
	}, w.manager, w.art)
	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func play(args []string) {
	var configPath, name, theme, role string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--name":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			name = args[i]
		case "--theme":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--theme requires a value")
				os.Exit(1)
			}
			theme = args[i]
		case "--role":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--role requires a value")
				os.Exit(1)
			}
			role = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if configPath == "" {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	w, err := buildWiring(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer w.store.Close()

	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 1<<20), 1<<20)

	name = promptFor(in, "Your character's name", name)
	theme = promptFor(in, "A theme for the story", theme)
	if role == "" {
		role = promptOptional(in, "A role, if you like")
	}

	ctx := context.Background()
	id, out, err := w.manager.Begin(ctx, name, theme, role)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	printEntries(out.Entries)

	for {
		fmt.Print("\n> ")
		if !in.Scan() {
			return
		}
		line := strings.TrimSpace(in.Text())

		switch line {
		case "/quit":
			return
		case "/continue":
			out, err = w.manager.ContinueTurn(ctx, id)
		case "/rewind":
			out, err = w.manager.Rewind(ctx, id)
			if err == nil {
				fmt.Println("\n(the last turn has been undone)")
				printEntries(tail(out.Entries, 2))
				continue
			}
		default:
			out, err = w.manager.SubmitAction(ctx, id, line)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "the storyteller falters (%v); try again\n", err)
			continue
		}
		printEntries(entriesAfterUser(out.Entries))
		if out.Terminated {
			return
		}
	}
}

func promptFor(in *bufio.Scanner, label, preset string) string {
	for {
		if preset != "" {
			return preset
		}
		fmt.Printf("%s: ", label)
		if !in.Scan() {
			os.Exit(0)
		}
		if s := strings.TrimSpace(in.Text()); s != "" {
			return s
		}
	}
}

func promptOptional(in *bufio.Scanner, label string) string {
	fmt.Printf("%s: ", label)
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}

func printEntries(entries []session.TranscriptEntry) {
	for _, e := range entries {
		switch {
		case e.Type == session.EntryImage:
			fmt.Printf("\n[illustration %s]\n", e.Content)
		case e.Role == session.RoleAssistant:
			fmt.Printf("\n%s\n", e.Content)
		}
	}
}

// entriesAfterUser drops the echoed user entry; the player just typed it.
func entriesAfterUser(entries []session.TranscriptEntry) []session.TranscriptEntry {
	if len(entries) > 0 && entries[0].Role == session.RoleUser {
		return entries[1:]
	}
	return entries
}

func tail(entries []session.TranscriptEntry, n int) []session.TranscriptEntry {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
