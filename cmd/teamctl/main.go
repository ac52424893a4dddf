package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	apiclient "github.com/PumpeDie/teamup/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

const defaultAPIBase = "http://localhost:8080"

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "profile":
		err = commandProfile(args)
	case "team":
		err = commandTeam(args)
	case "rooms":
		err = commandRooms(args)
	case "send":
		err = commandSend(args)
	case "tasks":
		err = commandTasks(args)
	case "upload":
		err = commandUpload(args)
	case "watch":
		err = commandWatch(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// commandLogin stores the API address and a bearer token. Tokens come from
// `teamup token` or an identity provider; the prompt hides the input.
func commandLogin(args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ExitOnError)
	token := fs.String("token", "", "Bearer token (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+defaultAPIBase+")")
	_ = fs.Parse(args)

	secret := strings.TrimSpace(*token)
	if secret == "" {
		fmt.Print("Token: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = strings.TrimSpace(string(bytes))
	}
	if secret == "" {
		return errors.New("token is required")
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}
	cfg.AccessToken = secret

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	var apiErr apiclient.APIError
	if _, err := client.MyTeam(ctx, secret); err != nil && (!errors.As(err, &apiErr) || apiErr.Status == http.StatusUnauthorized) {
		return fmt.Errorf("token rejected: %w", err)
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func commandProfile(args []string) error {
	fs := pflag.NewFlagSet("profile", pflag.ExitOnError)
	name := fs.String("name", "", "Display name")
	_ = fs.Parse(args)
	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}
	return withClient(func(ctx context.Context, c *apiclient.Client, token string) error {
		if err := c.SetDisplayName(ctx, token, *name); err != nil {
			return err
		}
		fmt.Println("profile updated")
		return nil
	})
}

func commandTeam(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: teamctl team [create|join|show|members|rename|leave|delete|promote|demote|remove]")
	}
	sub := args[0]
	fs := pflag.NewFlagSet("team "+sub, pflag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier (defaults to your team)")
	name := fs.String("name", "", "Team name")
	user := fs.String("user", "", "Target user id")
	_ = fs.Parse(args[1:])

	return withClient(func(ctx context.Context, c *apiclient.Client, token string) error {
		if sub == "create" {
			if strings.TrimSpace(*name) == "" {
				return errors.New("--name is required")
			}
			t, err := c.CreateTeam(ctx, token, *name)
			if err != nil {
				return err
			}
			fmt.Printf("created team %s (%s)\n", t.Name, t.ID)
			return nil
		}
		if sub == "join" {
			if strings.TrimSpace(*teamID) == "" {
				return errors.New("--team is required")
			}
			t, err := c.JoinTeam(ctx, token, *teamID)
			if err != nil {
				return err
			}
			fmt.Printf("joined team %s (%s)\n", t.Name, t.ID)
			return nil
		}
		id, err := resolveTeam(ctx, c, token, *teamID)
		if err != nil {
			return err
		}
		needUser := func() error {
			if strings.TrimSpace(*user) == "" {
				return errors.New("--user is required")
			}
			return nil
		}
		switch sub {
		case "show":
			t, err := c.Team(ctx, token, id)
			if err != nil {
				return err
			}
			return printJSON(t)
		case "members":
			members, err := c.Members(ctx, token, id)
			if err != nil {
				return err
			}
			if len(members) == 0 {
				fmt.Println("no members")
				return nil
			}
			fmt.Printf("%-38s %-24s %s\n", "USER", "NAME", "ROLE")
			for _, m := range members {
				fmt.Printf("%-38s %-24s %s\n", m.UserID, m.DisplayName, m.Role)
			}
			return nil
		case "rename":
			t, err := c.RenameTeam(ctx, token, id, *name)
			if err != nil {
				return err
			}
			fmt.Printf("team renamed to %s\n", t.Name)
			return nil
		case "leave":
			if _, err := c.LeaveTeam(ctx, token, id); err != nil {
				return err
			}
			fmt.Println("left team")
			return nil
		case "delete":
			if err := c.DeleteTeam(ctx, token, id); err != nil {
				return err
			}
			fmt.Println("team deleted")
			return nil
		case "promote":
			if err := needUser(); err != nil {
				return err
			}
			_, err = c.Promote(ctx, token, id, *user)
		case "demote":
			if err := needUser(); err != nil {
				return err
			}
			_, err = c.Demote(ctx, token, id, *user)
		case "remove":
			if err := needUser(); err != nil {
				return err
			}
			_, err = c.RemoveMember(ctx, token, id, *user)
		default:
			return fmt.Errorf("unknown team command: %s", sub)
		}
		if err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	})
}

func commandRooms(args []string) error {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	fs := pflag.NewFlagSet("rooms "+sub, pflag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier (defaults to your team)")
	name := fs.String("name", "", "Room name")
	_ = fs.Parse(args)

	return withClient(func(ctx context.Context, c *apiclient.Client, token string) error {
		id, err := resolveTeam(ctx, c, token, *teamID)
		if err != nil {
			return err
		}
		switch sub {
		case "list":
			rooms, err := c.Rooms(ctx, token, id)
			if err != nil {
				return err
			}
			if len(rooms) == 0 {
				fmt.Println("no rooms yet")
				return nil
			}
			fmt.Printf("%-38s %-20s %s\n", "ID", "NAME", "LAST MESSAGE")
			for _, r := range rooms {
				fmt.Printf("%-38s %-20s %s\n", r.ID, r.Name, r.LastMessage)
			}
			return nil
		case "create":
			room, err := c.CreateRoom(ctx, token, id, *name)
			if err != nil {
				return err
			}
			fmt.Printf("room created: %s\n", room.ID)
			return nil
		}
		return fmt.Errorf("unknown rooms command: %s", sub)
	})
}

func commandSend(args []string) error {
	fs := pflag.NewFlagSet("send", pflag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier (defaults to your team)")
	roomID := fs.String("room", "", "Room identifier")
	message := fs.StringP("message", "m", "", "Message text")
	_ = fs.Parse(args)
	if strings.TrimSpace(*roomID) == "" {
		return errors.New("--room is required")
	}
	return withClient(func(ctx context.Context, c *apiclient.Client, token string) error {
		id, err := resolveTeam(ctx, c, token, *teamID)
		if err != nil {
			return err
		}
		msg, warning, err := c.SendMessage(ctx, token, id, *roomID, *message)
		if err != nil {
			return err
		}
		if warning != "" {
			fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
		}
		fmt.Printf("sent %s\n", msg.ID)
		return nil
	})
}

func commandTasks(args []string) error {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	fs := pflag.NewFlagSet("tasks "+sub, pflag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier (defaults to your team)")
	title := fs.String("title", "", "Task title")
	due := fs.String("due", "", "Due date (yyyy-mm-dd)")
	assign := fs.String("assign", "", "Assignee user id")
	taskID := fs.String("task", "", "Task identifier")
	_ = fs.Parse(args)

	return withClient(func(ctx context.Context, c *apiclient.Client, token string) error {
		id, err := resolveTeam(ctx, c, token, *teamID)
		if err != nil {
			return err
		}
		switch sub {
		case "list":
			tasks, err := c.Tasks(ctx, token, id)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("no tasks")
				return nil
			}
			for _, t := range tasks {
				mark := " "
				if t.Completed {
					mark = "x"
				}
				line := fmt.Sprintf("[%s] %s  %s", mark, t.ID, t.Title)
				if t.DueDate != "" {
					line += "  due " + t.DueDate
				}
				if t.AssignedToName != nil {
					line += "  @" + *t.AssignedToName
				}
				fmt.Println(line)
			}
			return nil
		case "add":
			t, err := c.CreateTask(ctx, token, id, apiclient.TaskInput{Title: *title, DueDate: *due, AssignedTo: *assign})
			if err != nil {
				return err
			}
			fmt.Printf("task created: %s\n", t.ID)
			return nil
		case "toggle":
			if strings.TrimSpace(*taskID) == "" {
				return errors.New("--task is required")
			}
			t, err := c.ToggleTask(ctx, token, id, *taskID)
			if err != nil {
				return err
			}
			fmt.Printf("task %s completed=%t\n", t.ID, t.Completed)
			return nil
		}
		return fmt.Errorf("unknown tasks command: %s", sub)
	})
}

func commandUpload(args []string) error {
	fs := pflag.NewFlagSet("upload", pflag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier (defaults to your team)")
	file := fs.StringP("file", "f", "", "File to upload")
	_ = fs.Parse(args)
	if strings.TrimSpace(*file) == "" {
		return errors.New("--file is required")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, c *apiclient.Client, token string) error {
		id, err := resolveTeam(ctx, c, token, *teamID)
		if err != nil {
			return err
		}
		doc, err := c.UploadDocument(ctx, token, id, filepath.Base(*file), data)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded %s -> %s\n", doc.OriginalName, doc.URL)
		return nil
	})
}

// commandWatch prints every snapshot of a collection until interrupted.
func commandWatch(args []string) error {
	fs := pflag.NewFlagSet("watch", pflag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier (defaults to your team)")
	what := fs.String("what", "tasks", "Collection: team|rooms|messages|tasks|events|documents")
	roomID := fs.String("room", "", "Room identifier for --what messages")
	_ = fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.AccessToken == "" {
		return errors.New("not logged in; run teamctl login")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id, err := resolveTeam(ctx, client, cfg.AccessToken, *teamID)
	if err != nil {
		return err
	}
	path := "/teams/" + id
	switch *what {
	case "team":
		path += "/watch"
	case "rooms", "tasks", "events", "documents":
		path += "/" + *what + "/watch"
	case "messages":
		if strings.TrimSpace(*roomID) == "" {
			return errors.New("--room is required for messages")
		}
		path += "/rooms/" + *roomID + "/messages/watch"
	default:
		return fmt.Errorf("cannot watch %q", *what)
	}
	return client.Watch(ctx, cfg.AccessToken, path, func(f apiclient.Frame) error {
		fmt.Printf("#%d %s\n", f.Seq, f.Data)
		return nil
	})
}

func withClient(fn func(ctx context.Context, c *apiclient.Client, token string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.AccessToken == "" {
		return errors.New("not logged in; run teamctl login")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, client, cfg.AccessToken)
}

func resolveTeam(ctx context.Context, c *apiclient.Client, token, teamID string) (string, error) {
	if id := strings.TrimSpace(teamID); id != "" {
		return id, nil
	}
	t, err := c.MyTeam(ctx, token)
	if err != nil {
		return "", fmt.Errorf("find your team (or pass --team): %w", err)
	}
	return t.ID, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: defaultAPIBase}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBase
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "teamctl", "config.json"), nil
}

func printUsage() {
	fmt.Printf("teamctl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	teamctl login [--token <jwt>] [--api ` + defaultAPIBase + `]
	teamctl profile --name <display name>
	teamctl team create --name <name>
	teamctl team join --team <team-id>
	teamctl team show|members|leave|delete [--team <team-id>]
	teamctl team rename --name <name> [--team <team-id>]
	teamctl team promote|demote|remove --user <user-id> [--team <team-id>]
	teamctl rooms [list|create --name <name>] [--team <team-id>]
	teamctl send --room <room-id> -m <text> [--team <team-id>]
	teamctl tasks [list|add --title <t> [--due yyyy-mm-dd] [--assign <user-id>]|toggle --task <id>] [--team <team-id>]
	teamctl upload -f <file> [--team <team-id>]
	teamctl watch [--what team|rooms|messages|tasks|events|documents] [--room <room-id>] [--team <team-id>]
	teamctl version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
