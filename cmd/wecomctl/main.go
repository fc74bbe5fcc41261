// Command wecomctl is the operator CLI for the pass delivery service. It
// talks to the WeCom API with the same credentials as the server and pokes
// the local databases directly, so it works without the HTTP admin surface.
//
// Usage:
//
//	wecomctl token
//	wecomctl kf-text -user <external_userid> -text <message>
//	wecomctl kf-link [-user <external_userid>] [-scene <scene>]
//	wecomctl welcome-add -text <content> [-link-title t -link-url u]
//	wecomctl welcome-send -chat <chat_id> -user <external_userid> [-template <id>]
//	wecomctl welcome-list [-offset n] [-limit n]
//	wecomctl welcome-del -template <id>
//	wecomctl import -file <coupons.csv>
//	wecomctl claim -user <external_userid> [-chat <chat_id>]
//	wecomctl stats
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/cityheroes/wecom-passbot/internal/config"
	"github.com/cityheroes/wecom-passbot/internal/repo"
	"github.com/cityheroes/wecom-passbot/internal/services"
	"github.com/cityheroes/wecom-passbot/internal/wecom"
)

func main() {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := wecom.NewClient(wecom.ClientConfig{
		CorpID:            cfg.WeCom.CorpID,
		CorpSecret:        cfg.WeCom.CorpSecret,
		OpenKFID:          cfg.WeCom.OpenKFID,
		WelcomeTemplateID: cfg.WeCom.WelcomeTemplateID,
		Timeout:           cfg.WeCom.Timeout,
		TokenTTL:          cfg.WeCom.TokenTTL,
	}, log.Logger)

	switch cmd := os.Args[1]; cmd {
	case "token":
		tok, err := client.AccessToken(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Println(tok)

	case "kf-text":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		user := fs.String("user", "", "external userid of the recipient")
		text := fs.String("text", "", "message content")
		parse(fs)
		if *user == "" || *text == "" {
			fatalf("kf-text requires -user and -text")
		}
		if err := client.SendKFText(ctx, *user, *text); err != nil {
			fatal(err)
		}
		fmt.Println("sent")

	case "kf-link":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		user := fs.String("user", "", "external userid (optional)")
		scene := fs.String("scene", "cli", "scene tag for the contact link")
		parse(fs)
		url, err := client.KFAddContactURL(ctx, *user, *scene)
		if err != nil {
			fatal(err)
		}
		fmt.Println(url)

	case "welcome-add":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		text := fs.String("text", "", "welcome text content")
		title := fs.String("link-title", "", "optional link card title")
		url := fs.String("link-url", "", "optional link card url")
		desc := fs.String("link-desc", "", "optional link card description")
		parse(fs)
		var link *wecom.WelcomeLink
		if *url != "" {
			link = &wecom.WelcomeLink{Title: *title, URL: *url, Desc: *desc}
		}
		id, err := client.CreateGroupWelcomeTemplate(ctx, *text, link)
		if err != nil {
			fatal(err)
		}
		fmt.Println(id)

	case "welcome-send":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		chat := fs.String("chat", "", "group chat id")
		user := fs.String("user", "", "external userid of the new member")
		tmpl := fs.String("template", "", "template id (defaults to configured)")
		parse(fs)
		if *chat == "" || *user == "" {
			fatalf("welcome-send requires -chat and -user")
		}
		if err := client.SendGroupWelcome(ctx, *chat, *user, *tmpl); err != nil {
			fatal(err)
		}
		fmt.Println("sent")

	case "welcome-list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		offset := fs.Int("offset", 0, "listing offset")
		limit := fs.Int("limit", 50, "listing page size")
		parse(fs)
		raw, err := client.ListGroupWelcomeTemplates(ctx, *offset, *limit)
		if err != nil {
			fatal(err)
		}
		printJSON(raw)

	case "welcome-del":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tmpl := fs.String("template", "", "template id to delete")
		parse(fs)
		if *tmpl == "" {
			fatalf("welcome-del requires -template")
		}
		if err := client.DeleteGroupWelcomeTemplate(ctx, *tmpl); err != nil {
			fatal(err)
		}
		fmt.Println("deleted")

	case "import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "CSV file with a download_link column")
		parse(fs)
		if *file == "" {
			fatalf("import requires -file")
		}
		f, err := os.Open(*file)
		if err != nil {
			fatal(err)
		}
		defer f.Close()
		db, err := openInventory(cfg)
		if err != nil {
			fatal(err)
		}
		n, err := services.NewInventoryService(db).ImportCSV(ctx, f)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("imported %d items\n", n)

	case "claim":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		user := fs.String("user", "", "external userid claiming the item")
		chat := fs.String("chat", "", "group chat id (optional)")
		parse(fs)
		if *user == "" {
			fatalf("claim requires -user")
		}
		db, err := openInventory(cfg)
		if err != nil {
			fatal(err)
		}
		item, err := services.NewInventoryService(db).Claim(ctx, *user, *chat)
		if err != nil {
			fatal(err)
		}
		if item == nil {
			fatalf("inventory pool exhausted")
		}
		printJSON(item)

	case "stats":
		assignDB, err := repo.OpenSQLite(cfg.DBPath)
		if err != nil {
			fatal(err)
		}
		if err := repo.MigrateAssignments(assignDB); err != nil {
			fatal(err)
		}
		as, err := repo.CountAssignmentStats(ctx, assignDB)
		if err != nil {
			fatal(err)
		}
		invDB, err := openInventory(cfg)
		if err != nil {
			fatal(err)
		}
		is, err := repo.CountInventory(ctx, invDB)
		if err != nil {
			fatal(err)
		}
		printJSON(map[string]any{"assignments": as, "inventory": is})

	default:
		usage()
		os.Exit(2)
	}
}

func openInventory(cfg config.Config) (*gorm.DB, error) {
	d, err := repo.OpenSQLite(cfg.InventoryDBPath)
	if err != nil {
		return nil, err
	}
	if err := repo.MigrateInventory(d); err != nil {
		return nil, err
	}
	return d, nil
}

// parse applies the subcommand flags; ExitOnError handles failures.
func parse(fs *flag.FlagSet) { _ = fs.Parse(os.Args[2:]) }

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "wecomctl:", err)
	os.Exit(1)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "wecomctl: "+format+"\n", args...)
	os.Exit(1)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: wecomctl <command> [flags]

commands:
  token         print a fresh access token
  kf-text       send a KF text message to an external user
  kf-link       print the KF add-contact URL
  welcome-add   register a group welcome template
  welcome-send  send a group welcome to a new member
  welcome-list  list registered welcome templates
  welcome-del   delete a welcome template
  import        load coupon inventory from a CSV file
  claim         claim one pooled coupon for a user
  stats         print assignment and inventory counters`)
}
