package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/pitchside/go/internal/dbconfig"
	"github.com/mcdev12/pitchside/go/internal/match/repository"
)

func main() {
	path := "config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the fixtures list
	fixtures, err := repository.LoadStaticFixtures(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixtures: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to %s: %v\n", cfg, err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := repository.NewFixtureRepository(pool)

	// 3) Insert and count
	all := fixtures.All()
	var inserted, skipped, errs int
	for _, f := range all {
		ok, err := repo.InsertFixture(ctx, f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			errs++
			continue
		}
		if ok {
			inserted++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Fixtures seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		len(all), inserted, skipped, errs,
	)
}
