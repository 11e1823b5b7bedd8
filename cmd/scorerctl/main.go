package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/phrasewatch/phrasewatch/pkg/proto"
	"github.com/phrasewatch/phrasewatch/pkg/rpc"
)

// scorerctl inspects and administers a running scorer over its RPC port.
//
// Usage:
//
//	scorerctl [--addr localhost:7090] stats [--model default]
//	scorerctl significant --model default [--limit 20]
//	scorerctl common --model default [--limit 20]
//	scorerctl absorb --model default [--file completions.txt]
//	scorerctl reset --model default
func main() {
	addr := flag.String("addr", "localhost:7090", "scorer rpc address")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	client, err := rpc.DialTimeout(*addr, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to scorer at %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer client.Close()

	switch args[0] {
	case "stats":
		cmdStats(client, args[1:])
	case "significant":
		cmdSignificant(client, args[1:])
	case "common":
		cmdCommon(client, args[1:])
	case "absorb":
		cmdAbsorb(client, args[1:])
	case "reset":
		cmdReset(client, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func cmdStats(client *rpc.Client, args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	model := fs.String("model", "", "model name (empty for all)")
	fs.Parse(args)

	var resp proto.StatsResponse
	if err := client.Call("Scorer.Stats", proto.StatsRequest{Model: *model}, &resp); err != nil {
		fatal("stats failed", err)
	}

	for _, m := range resp.Models {
		fmt.Printf("Model: %s (%s)\n", m.Model, m.Strategy)
		fmt.Printf("  Phrases:         %d\n", m.Phrases)
		fmt.Printf("  Completions:     %d\n", m.Completions)
		fmt.Printf("  N-grams:         %d\n", m.NgramsIngested)
		if m.Strategy == "window" {
			fmt.Printf("  Window occupied: %d\n", m.WindowOccupancy)
		} else {
			fmt.Printf("  Bucket index:    %d\n", m.BucketIndex)
		}
		fmt.Printf("  Generation:      %d\n", m.Generation)
		fmt.Println()
	}
}

func cmdSignificant(client *rpc.Client, args []string) {
	model, limit := phraseFlags("significant", args)

	var resp proto.SignificantResponse
	req := proto.PhrasesRequest{Model: model, Limit: int32(limit)}
	if err := client.Call("Scorer.MostSignificant", req, &resp); err != nil {
		fatal("significant failed", err)
	}

	if len(resp.Phrases) == 0 {
		fmt.Printf("No significant phrases for model %s.\n", resp.Model)
		return
	}
	fmt.Printf("Top %d significant phrases for %s:\n", len(resp.Phrases), resp.Model)
	for i, p := range resp.Phrases {
		fmt.Printf("%3d. %10.2f  %s\n", i+1, p.Score, p.Phrase)
	}
}

func cmdCommon(client *rpc.Client, args []string) {
	model, limit := phraseFlags("common", args)

	var resp proto.CommonResponse
	req := proto.PhrasesRequest{Model: model, Limit: int32(limit)}
	if err := client.Call("Scorer.MostCommon", req, &resp); err != nil {
		fatal("common failed", err)
	}

	if len(resp.Phrases) == 0 {
		fmt.Printf("No phrases tracked for model %s.\n", resp.Model)
		return
	}
	fmt.Printf("Top %d frequent phrases for %s:\n", len(resp.Phrases), resp.Model)
	for i, p := range resp.Phrases {
		fmt.Printf("%3d. %8d  %s\n", i+1, p.Count, p.Phrase)
	}
}

func cmdAbsorb(client *rpc.Client, args []string) {
	fs := flag.NewFlagSet("absorb", flag.ExitOnError)
	model := fs.String("model", "default", "model name")
	file := fs.String("file", "", "file with one completion per line (default stdin)")
	fs.Parse(args)

	in := os.Stdin
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			fatal("opening input", err)
		}
		defer f.Close()
		in = f
	}

	var completions []string
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			completions = append(completions, line)
		}
	}
	if err := scanner.Err(); err != nil {
		fatal("reading input", err)
	}
	if len(completions) == 0 {
		fmt.Fprintln(os.Stderr, "no completions to absorb")
		os.Exit(1)
	}

	var resp proto.AbsorbResponse
	req := proto.AbsorbRequest{Model: *model, Completions: completions}
	if err := client.Call("Scorer.Absorb", req, &resp); err != nil {
		fatal("absorb failed", err)
	}

	fmt.Printf("Absorbed %d completions into %s: %d n-grams, %d phrases tracked.\n",
		resp.Completions, resp.Model, resp.Ngrams, resp.Phrases)
}

func cmdReset(client *rpc.Client, args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	model := fs.String("model", "", "model name")
	fs.Parse(args)

	if *model == "" {
		fmt.Fprintln(os.Stderr, "error: --model is required")
		os.Exit(1)
	}

	var resp proto.ResetResponse
	if err := client.Call("Scorer.Reset", proto.ResetRequest{Model: *model}, &resp); err != nil {
		fatal("reset failed", err)
	}
	fmt.Println(resp.Message)
}

func phraseFlags(name string, args []string) (model string, limit int) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	m := fs.String("model", "default", "model name")
	l := fs.Int("limit", 20, "number of phrases")
	fs.Parse(args)
	return *m, *l
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: scorerctl [--addr host:port] <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  stats        Show engine store statistics")
	fmt.Fprintln(os.Stderr, "  significant  List the most significant phrases")
	fmt.Fprintln(os.Stderr, "  common       List the most frequent phrases")
	fmt.Fprintln(os.Stderr, "  absorb       Absorb completions from a file or stdin")
	fmt.Fprintln(os.Stderr, "  reset        Clear a model's store")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Examples:")
	fmt.Fprintln(os.Stderr, "  scorerctl stats")
	fmt.Fprintln(os.Stderr, "  scorerctl significant --model default --limit 10")
	fmt.Fprintln(os.Stderr, "  scorerctl absorb --model default --file completions.txt")
}
