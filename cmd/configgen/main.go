package main

import (
	"flag"
	"log"

	"github.com/taigalab/taigactl/internal/config"
)

// Per-kind default paths and validation loaders.
var kinds = map[string]struct {
	path string
	load func(string) error
}{
	"run": {"cmd/taigactl/config.toml", func(p string) error {
		_, err := config.LoadRunConfig(p)
		return err
	}},
	"host": {"cmd/taigad/config.toml", func(p string) error {
		_, err := config.LoadHostConfig(p)
		return err
	}},
}

func main() {
	kind := flag.String("kind", "run", "config kind: run|host")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	entry, ok := kinds[*kind]
	if !ok {
		log.Fatalf("unknown kind: %s", *kind)
	}

	if *validate {
		path := *input
		if path == "" {
			path = entry.path
		}
		if err := entry.load(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = entry.path
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
