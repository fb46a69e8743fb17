package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/felixgeelhaar/drillgrade/internal/compare"
	"github.com/felixgeelhaar/drillgrade/internal/language"
)

// cmdValidate grades one submission read from a file or stdin
func cmdValidate(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: drillgrade validate <problem-id> [file|-]")
	}
	problemID := args[0]

	var (
		data []byte
		err  error
	)
	if len(args) < 2 || args[1] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[1])
	}
	if err != nil {
		return fmt.Errorf("read submission: %w", err)
	}

	cfg, closeLog, err := loadLocal("validate")
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signalContext()
	defer cancel()

	engine, cleanup, err := newEngine(ctx, engineOptions{Runner: cfg.Runner, CatalogPath: cfg.Catalog.Path})
	if err != nil {
		return err
	}
	defer cleanup()

	r := engine.Validate(ctx, problemID, string(data))

	if r.Passed {
		fmt.Printf("✓ %s passed", r.ProblemID)
		if r.MatchedPatternIndex != nil {
			fmt.Printf(" (pattern %d)", *r.MatchedPatternIndex)
		}
		fmt.Println()
		return nil
	}

	fmt.Printf("✗ %s: %s\n", r.ProblemID, r.FailureReason)
	for _, d := range r.Diagnostics {
		fmt.Printf("    %s\n", d)
	}
	if r.ActualValue != nil {
		fmt.Printf("    got: %s\n", compare.Format(r.ActualValue))
	}
	if hint, ok := r.NextHint(0); ok {
		fmt.Printf("Hint: %s\n", hint)
	}
	return fmt.Errorf("submission did not pass")
}

// cmdList lists catalog drills
func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	lang := fs.String("lang", "", "only drills of this language")
	difficulty := fs.String("difficulty", "", "only drills of this difficulty")
	tag := fs.String("tag", "", "only drills carrying this tag")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfigQuiet()
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	problems := snap.Problems()
	if *lang != "" {
		problems = snap.ByLanguage(*lang)
	}

	fmt.Printf("%-32s %-12s %-8s %s\n", "ID", "LANGUAGE", "LEVEL", "CATEGORY")
	count := 0
	for _, p := range problems {
		if *difficulty != "" && string(p.Difficulty) != *difficulty {
			continue
		}
		if *tag != "" && !p.HasTag(*tag) {
			continue
		}
		fmt.Printf("%-32s %-12s %-8s %s\n", p.ID, p.Language, p.Difficulty, p.Category)
		count++
	}
	fmt.Printf("\n%d drills\n", count)
	return nil
}

// cmdLanguages shows the supported languages and how they run
func cmdLanguages() error {
	cfg, err := loadConfigQuiet()
	if err != nil {
		return err
	}
	toolchains, err := cfg.Runner.Toolchains()
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	stats := snap.Stats()

	reg := language.Default()
	fmt.Printf("%-12s %-10s %6s  %s\n", "LANGUAGE", "MODE", "DRILLS", "RUNTIME")
	for _, id := range reg.IDs() {
		family, _ := reg.Family(id)
		runtime := "-"
		switch {
		case id == language.Lua:
			runtime = "in-process"
		case family == language.Imperative:
			if tc, ok := toolchains[id]; ok {
				runtime = fmt.Sprintf("%s (%s: %s)", cfg.Runner.Backend, tc.Image, strings.Join(tc.Command, " "))
			}
		}
		fmt.Printf("%-12s %-10s %6d  %s\n", id, family.Mode(), stats.ByLanguage[id], runtime)
	}
	return nil
}
