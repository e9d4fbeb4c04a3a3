package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kdimtricp/slugsei/internal/coach"
	"github.com/kdimtricp/slugsei/internal/config"
	"github.com/kdimtricp/slugsei/internal/logger"
	"github.com/kdimtricp/slugsei/internal/message"
	"github.com/kdimtricp/slugsei/internal/session"
	"github.com/kdimtricp/slugsei/internal/storage"
)

// questions collects every -question flag in order.
type questions []string

func (q *questions) String() string { return strings.Join(*q, "; ") }

func (q *questions) Set(v string) error {
	*q = append(*q, v)
	return nil
}

func main() {
	os.Exit(realMain(os.Args[1:]))
}

// realMain returns the exit code so deferred cleanup of the staged video
// runs on every path.
func realMain(args []string) int {
	var asks questions
	fs := flag.NewFlagSet("coach", flag.ContinueOnError)
	videoPath := fs.String("video", "", "Path to the swing video to upload")
	images := fs.Bool("images", false, "Generate chart images from the swing metrics")
	verbose := fs.Bool("verbose", false, "Log requests and transitions")
	fs.Var(&asks, "question", "Follow-up question for the coach (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *videoPath == "" {
		log.Println("Please provide a video with -video flag")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		log.Println("Failed to load configuration:", err)
		return 1
	}

	var appLogger logger.ILogger = logger.NewNop()
	if *verbose {
		zl := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
		defer zl.Sync()
		appLogger = zl
	}

	stagingDir, err := os.MkdirTemp("", "slugsei-*")
	if err != nil {
		log.Println("Failed to create staging directory:", err)
		return 1
	}
	defer os.RemoveAll(stagingDir)

	localStorage, err := storage.NewLocalStorage(stagingDir)
	if err != nil {
		log.Println("Failed to initialize storage:", err)
		return 1
	}

	client := coach.NewClient(coach.Config{
		BaseURL:            cfg.Service.BaseURL,
		Timeout:            cfg.Service.RequestTimeout,
		BreakerMaxFailures: cfg.Service.BreakerMaxFailures,
		RequestsPerSecond:  cfg.Service.RequestsPerSecond,
		Logger:             appLogger,
	})

	machine := session.New(client, localStorage, session.Options{
		Greeting: cfg.Session.Greeting,
		Logger:   appLogger,
	})
	defer machine.Reset()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, machine, client, *videoPath, asks, *images); err != nil {
		log.Println(err)
		return 1
	}

	s := machine.Snapshot()
	printTranscript(s)
	if s.Phase == session.PhaseError {
		return 1
	}
	return 0
}

func run(ctx context.Context, machine *session.Machine, client *coach.Client, videoPath string, asks []string, images bool) error {
	f, err := os.Open(videoPath)
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()

	name := filepath.Base(videoPath)
	contentType, ok := coach.VideoContentType(name)
	if !ok {
		return fmt.Errorf("unsupported video type %q: use MP4, MOV, AVI or MKV", filepath.Ext(name))
	}

	fmt.Printf("Uploading %s...\n", name)
	err = machine.StartUpload(ctx, session.Media{
		Filename:    name,
		ContentType: contentType,
		Reader:      f,
	})
	if err != nil {
		return err
	}
	if s := machine.Snapshot(); s.Phase != session.PhaseUploaded {
		return nil
	}

	fmt.Println("Analyzing...")
	if err := machine.StartAnalysis(ctx); err != nil {
		return err
	}

	s := machine.Snapshot()
	if images && s.Phase == session.PhaseAnalyzed && s.Metrics != nil {
		urls, err := client.GenerateImages(ctx, s.VideoID, *s.Metrics)
		if err != nil {
			fmt.Printf("Image generation failed: %s\n", coach.ErrorMessage(err))
		} else {
			printArtifacts("Generated images", urls)
		}
	}
	printArtifacts("Analysis images", s.Artifacts)

	for _, q := range asks {
		if err := machine.SendChat(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func printArtifacts(title string, artifacts map[string]string) {
	if len(artifacts) == 0 {
		return
	}
	keys := make([]string, 0, len(artifacts))
	for k := range artifacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %s: %s\n", k, artifacts[k])
	}
}

func printTranscript(s session.Session) {
	fmt.Println()
	fmt.Println("Transcript")
	fmt.Println("==========")
	for _, m := range s.History {
		who := "Coach"
		if m.Sender == message.SenderUser {
			who = "You"
		}

		var body strings.Builder
		for seg := range m.Segments() {
			switch seg.Kind {
			case message.ReferenceLink:
				fmt.Fprintf(&body, "\n  [%s] %s", seg.Label, seg.URL)
			default:
				body.WriteString(seg.Content)
			}
		}
		fmt.Printf("%s: %s\n", who, body.String())
		if m.ReferenceVideo != "" {
			fmt.Printf("  Reference video: %s\n", m.ReferenceVideo)
		}
	}
	fmt.Printf("\nSession %s ended in phase %s\n", s.ID, s.Phase)
}
