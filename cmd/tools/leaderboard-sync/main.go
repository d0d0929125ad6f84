package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/cow-game/internal/auth"
	"github.com/annel0/cow-game/internal/leaderboard"
)

// Утилита синхронизации таблицы лидеров: переносит прогресс игроков
// из Redis в MariaDB. Запускается разово (для cron) или показывает
// текущий топ.
func main() {
	var (
		redisAddr = flag.String("redis", "127.0.0.1:6379", "Redis address")
		redisPass = flag.String("redis-pass", "", "Redis password")
		redisDB   = flag.Int("redis-db", 0, "Redis database number")
		dbHost    = flag.String("db-host", "localhost", "MariaDB host")
		dbPort    = flag.Int("db-port", 3306, "MariaDB port")
		dbName    = flag.String("db-name", "cow_game", "MariaDB database")
		dbUser    = flag.String("db-user", "", "MariaDB user")
		dbPass    = flag.String("db-pass", "", "MariaDB password")
		command   = flag.String("cmd", "sync", "Command: sync, top")
		limit     = flag.Int("limit", 10, "Number of entries for top")
		timeout   = flag.Duration("timeout", 30*time.Second, "Operation timeout")
	)
	flag.Parse()

	rdb := redis.NewClient(&redis.Options{
		Addr:     *redisAddr,
		Password: *redisPass,
		DB:       *redisDB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}

	repo, err := auth.NewMariaUserRepo(auth.MariaConfig{
		Host:     *dbHost,
		Port:     *dbPort,
		Database: *dbName,
		Username: *dbUser,
		Password: *dbPass,
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to MariaDB: %v", err)
	}
	defer repo.Close()

	board, err := leaderboard.NewSyncer(rdb, repo.DB())
	if err != nil {
		log.Fatalf("❌ Failed to initialise leaderboard: %v", err)
	}

	switch *command {
	case "sync":
		n, err := board.Sync(ctx)
		if err != nil {
			log.Fatalf("❌ Sync failed: %v", err)
		}
		fmt.Printf("✅ Synced %d player(s)\n", n)
	case "top":
		entries, err := board.Top(ctx, *limit)
		if err != nil {
			log.Fatalf("❌ Top query failed: %v", err)
		}
		printTop(entries)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		flag.Usage()
		os.Exit(1)
	}
}

func printTop(entries []leaderboard.Entry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tUSERNAME\tLEVEL\tEXP\tHAY")
	for i, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\n", i+1, e.Username, e.Level, e.Experience, e.HayEaten)
	}
	w.Flush()
}
