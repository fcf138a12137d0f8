package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/visageapp/visage/client"
)

var (
	flagServerURL   string
	flagSessionFile string
)

var rootCmd = &cobra.Command{
	Use:   "visage-cli",
	Short: "Terminal front-end for the Visage chat server",
	RunE:  runCLI,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagServerURL, "server", "http://localhost:8080", "chat server base URL")
	flags.StringVar(&flagSessionFile, "session-file", defaultSessionPath(), "file persisting the active conversation id")
}

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".visage-session"
	}
	return filepath.Join(home, ".visage-session")
}

func main() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute cli command")
	}
}

func runCLI(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	api := client.NewHTTPAPI(flagServerURL)
	transport := client.NewWSTransport(flagServerURL)

	ctl := client.NewController(client.ControllerConfig{
		History:   api,
		Responder: api,
		Uploader:  api,
		Transport: transport,
		Presence:  transport,
		Session:   client.NewFileSessionState(flagSessionFile),
	})
	ctl.Start(ctx)
	defer ctl.Close()

	fmt.Println("visage-cli — type a message, or /help for commands")
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("[%s] > ", ctl.Status())
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := command(ctx, ctl, line); quit {
				return nil
			}
			continue
		}
		send(ctx, ctl, line, nil)
	}
}

func send(ctx context.Context, ctl *client.Controller, text string, file *client.Attachment) {
	outcome, err := ctl.Send(ctx, text, file)
	switch {
	case errors.Is(err, client.ErrOffline):
		fmt.Println("offline — message kept, will retry on reconnect")
	case err != nil:
		fmt.Printf("send failed (%v) — use /retry\n", err)
	case outcome != nil && outcome.NewConversation:
		fmt.Printf("started conversation %s\n", outcome.ConversationID)
	}
	printLast(ctl)
}

func printLast(ctl *client.Controller) {
	for _, e := range ctl.Store().Entries() {
		tag := e.Message.Role
		if e.ID.IsLocal() {
			tag += "*"
		}
		if e.Message.Content == "" && e.Placeholder {
			fmt.Printf("  %s: ...\n", tag)
			continue
		}
		fmt.Printf("  %s: %s\n", tag, e.Message.Content)
	}
}

func command(ctx context.Context, ctl *client.Controller, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		fmt.Println("/list /open <id> /new /delete /attach <path> <text> /retry /reconnect /presence /quit")
	case "/list":
		convs, err := ctl.Conversations(ctx)
		if err != nil {
			fmt.Printf("list failed: %v\n", err)
			break
		}
		for _, c := range convs {
			fmt.Printf("  %s  %s\n", c.ConversationID, c.Title)
		}
	case "/open":
		if len(fields) < 2 {
			fmt.Println("usage: /open <conversation-id>")
			break
		}
		if err := ctl.SelectConversation(ctx, fields[1]); err != nil {
			fmt.Printf("open failed: %v\n", err)
			break
		}
		printLast(ctl)
	case "/new":
		ctl.NewConversation()
		fmt.Println("new conversation — next message starts it")
	case "/delete":
		if err := ctl.DeleteConversation(ctx); err != nil {
			fmt.Printf("delete failed: %v\n", err)
		}
	case "/attach":
		if len(fields) < 2 {
			fmt.Println("usage: /attach <path> [text]")
			break
		}
		data, err := os.ReadFile(fields[1])
		if err != nil {
			fmt.Printf("read attachment: %v\n", err)
			break
		}
		text := strings.Join(fields[2:], " ")
		send(ctx, ctl, text, &client.Attachment{Name: filepath.Base(fields[1]), Data: data})
	case "/retry":
		if _, err := ctl.Retry(ctx); err != nil {
			fmt.Printf("retry failed: %v\n", err)
		}
	case "/reconnect":
		ctl.Reconnect()
	case "/presence":
		fmt.Printf("%d connected\n", ctl.PresenceCount())
	case "/quit":
		return true
	default:
		fmt.Println("unknown command; /help")
	}
	if n := ctl.Notice(); n != "" {
		fmt.Println("! " + n)
	}
	return false
}
