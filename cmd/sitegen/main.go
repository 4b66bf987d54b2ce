// Command sitegen regenerates sitemap.xml (and robots.txt when absent) once
// and exits. It shares configuration with siteopsd so the output matches
// what the in-process sitemap job would produce.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/meridianweb/siteops/internal/config"
	"github.com/meridianweb/siteops/internal/content"
	"github.com/meridianweb/siteops/internal/logging"
	"github.com/meridianweb/siteops/internal/sitemap"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file")
		envPrefix  = flag.String("env-prefix", "SITEOPS", "environment variable prefix")
	)
	flag.Parse()

	ctx := context.Background()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	db, err := content.Open(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sitegen: %v\n", err)
		os.Exit(1)
	}

	generator := sitemap.NewGenerator(cfg.Sitemap, content.NewRepository(db), logger)
	result := generator.Run(ctx)
	if !result.Success {
		fmt.Fprintln(os.Stderr, result.Message)
		os.Exit(1)
	}
	fmt.Println(result.Message)
}
