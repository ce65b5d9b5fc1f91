package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LucasandAI/versus-app-sub001/internal/models"
	"github.com/LucasandAI/versus-app-sub001/internal/snowflake"
)

// Set via -ldflags at build time.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "migrate":
		if hasFlag("--help", os.Args[2:]) {
			fmt.Println("Usage: versus-cli migrate")
			fmt.Println()
			fmt.Println("Run database migrations from the migrations/ directory.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  DATABASE_URL  PostgreSQL connection string (required)")
			return
		}
		os.Exit(runMigrate())
	case "seed":
		if hasFlag("--help", os.Args[2:]) {
			fmt.Println("Usage: versus-cli seed")
			fmt.Println()
			fmt.Println("Seed the database with demo data: 2 users, a club conversation,")
			fmt.Println("a direct conversation, and messages.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  DATABASE_URL  PostgreSQL connection string (required)")
			return
		}
		os.Exit(runSeed())
	case "health":
		if hasFlag("--help", os.Args[2:]) {
			fmt.Println("Usage: versus-cli health")
			fmt.Println()
			fmt.Println("Check if the Versus sync server is running.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  SERVER_URL  Server base URL (default: http://localhost:8080)")
			return
		}
		os.Exit(runHealth())
	case "version":
		fmt.Printf("versus-cli %s\n", version)
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: versus-cli <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  migrate  Run database migrations")
	fmt.Println("  seed     Seed demo data (users, conversations, messages)")
	fmt.Println("  health   Check if the server is running")
	fmt.Println("  version  Print version info")
	fmt.Println()
	fmt.Println("Run 'versus-cli <command> --help' for details on a command.")
}

func hasFlag(flag string, args []string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "error: %s environment variable is required\n", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// --- migrate ---

func runMigrate() int {
	dbURL := requireEnv("DATABASE_URL")

	fmt.Println("connecting to database...")
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: migration init failed: %v\n", err)
		return 1
	}
	defer m.Close()

	fmt.Println("running migrations...")
	upErr := m.Up()
	if upErr != nil && upErr != migrate.ErrNoChange {
		fmt.Fprintf(os.Stderr, "error: migration failed: %v\n", upErr)
		return 1
	}

	v, dirty, _ := m.Version()
	fmt.Println(migrateResult(upErr, v, dirty))
	return 0
}

// migrateResult reports the outcome of an Up call that did not fail.
func migrateResult(upErr error, version uint, dirty bool) string {
	if upErr == migrate.ErrNoChange {
		return fmt.Sprintf("no new migrations (current version: %d)", version)
	}
	return fmt.Sprintf("migrations applied (version: %d, dirty: %v)", version, dirty)
}

// --- seed ---

func runSeed() int {
	dbURL := requireEnv("DATABASE_URL")
	ctx := context.Background()

	fmt.Println("connecting to database...")
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: database connection failed: %v\n", err)
		return 1
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: database ping failed: %v\n", err)
		return 1
	}

	sf, err := snowflake.NewGenerator(0, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: snowflake init failed: %v\n", err)
		return 1
	}

	const (
		aliceID int64 = 1
		bobID   int64 = 2
	)
	club := models.ClubKey(10)
	direct := models.DirectKey(20)

	tx, err := pool.Begin(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: starting transaction: %v\n", err)
		return 1
	}
	defer tx.Rollback(ctx)

	// Memberships.
	fmt.Println("creating conversation members...")
	_, err = tx.Exec(ctx,
		`INSERT INTO conversation_members (user_id, conversation_key) VALUES ($1,$2), ($3,$4), ($5,$6), ($7,$8)
		 ON CONFLICT (user_id, conversation_key) DO NOTHING`,
		aliceID, club.String(), bobID, club.String(),
		aliceID, direct.String(), bobID, direct.String(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: creating members: %v\n", err)
		return 1
	}

	// Messages across the two conversations.
	fmt.Println("creating messages...")
	type seedMsg struct {
		key     models.ConversationKey
		sender  int64
		content string
	}
	msgs := []seedMsg{
		{club, aliceID, "Who's in for the 5k challenge this weekend?"},
		{club, bobID, "Count me in. Saturday morning?"},
		{club, aliceID, "Saturday it is."},
		{direct, bobID, "Nice run today!"},
		{direct, aliceID, "Thanks, same time tomorrow?"},
	}
	for _, m := range msgs {
		id := sf.Generate()
		_, err = tx.Exec(ctx,
			`INSERT INTO conversation_messages (id, conversation_key, sender_id, sent_at_ms, content)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO NOTHING`,
			id.Int64(), m.key.String(), m.sender, id.Millis(), m.content,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: creating message: %v\n", err)
			return 1
		}
	}

	// Alice has read the club chat; Bob has read nothing.
	fmt.Println("creating read markers...")
	_, err = tx.Exec(ctx,
		`INSERT INTO read_markers (user_id, conversation_key, read_through_ms)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, conversation_key) DO NOTHING`,
		aliceID, club.String(), time.Now().UnixMilli(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: creating read markers: %v\n", err)
		return 1
	}

	if err := tx.Commit(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: committing transaction: %v\n", err)
		return 1
	}

	fmt.Println()
	fmt.Println("seed complete:")
	fmt.Printf("  users:         alice (id 1), bob (id 2)\n")
	fmt.Printf("  conversations: %s, %s\n", club, direct)
	fmt.Printf("  messages:      %d across both conversations\n", len(msgs))
	fmt.Printf("  read markers:  alice has read %s\n", club)
	return 0
}

// --- health ---

func runHealth() int {
	serverURL := envOr("SERVER_URL", "http://localhost:8080")
	url := serverURL + "/health"

	fmt.Printf("checking %s ...\n", url)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("status: %d\n", resp.StatusCode)
	if len(body) > 0 {
		fmt.Printf("body:   %s\n", string(body))
	}

	if resp.StatusCode == http.StatusOK {
		fmt.Println("server is healthy")
		return 0
	}
	fmt.Fprintln(os.Stderr, "server returned non-200 status")
	return 1
}
