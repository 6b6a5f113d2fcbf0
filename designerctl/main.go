package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/term"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/goflutter/collab/designer"
	"github.com/goflutter/collab/designer/relay"
)

const DesignerCtlVersion = "0.0.1"

const DefaultRelayUrl = "ws://localhost:8080/ws/connect"
const DefaultApiUrl = "http://localhost:8080/api/v1"
const DefaultAddr = ":8080"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(`Designer control.

The defaults are:
    relay_url: %s
    api_url: %s
    addr: %s

Usage:
    designerctl relay [--addr=<addr>] [--max_users=<max_users>] [-v...]
    designerctl create-room [--relay_url=<relay_url>] [--api_url=<api_url>]
        (--jwt=<jwt> | --user_id=<user_id> --username=<username>) [-v...]
    designerctl join-room [--relay_url=<relay_url>] [--api_url=<api_url>]
        (--jwt=<jwt> | --user_id=<user_id> --username=<username>) [-v...]
        <room_id>
    designerctl identity --jwt=<jwt>
    designerctl list-projects [--api_url=<api_url>] --jwt=<jwt>

Options:
    -h --help                    Show this screen.
    --version                    Show version.
    -v                           Log verbosity. Repeat for more.
    --addr=<addr>                Relay listen address.
    --max_users=<max_users>      Users allowed in one room.
    --relay_url=<relay_url>
    --api_url=<api_url>
    --jwt=<jwt>                  Project service JWT. The user is read from it.
    --user_id=<user_id>
    --username=<username>`,
		DefaultRelayUrl,
		DefaultApiUrl,
		DefaultAddr,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], DesignerCtlVersion)
	if err != nil {
		panic(err)
	}

	flag.Set("logtostderr", "true")
	if verbosity, _ := opts["-v"].(int); 0 < verbosity {
		flag.Set("v", strconv.Itoa(verbosity))
	}

	if relay_, _ := opts.Bool("relay"); relay_ {
		runRelay(opts)
	} else if createRoom_, _ := opts.Bool("create-room"); createRoom_ {
		createRoom(opts)
	} else if joinRoom_, _ := opts.Bool("join-room"); joinRoom_ {
		joinRoom(opts)
	} else if identity_, _ := opts.Bool("identity"); identity_ {
		identity(opts)
	} else if listProjects_, _ := opts.Bool("list-projects"); listProjects_ {
		listProjects(opts)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRelay(opts docopt.Opts) {
	addr, err := opts.String("--addr")
	if err != nil || addr == "" {
		addr = DefaultAddr
	}

	settings := relay.DefaultSettings()
	if maxUsersStr, err := opts.String("--max_users"); err == nil && maxUsersStr != "" {
		maxUsers, err := strconv.Atoi(maxUsersStr)
		if err != nil || maxUsers < 1 {
			Err.Fatalf("Bad max users: %s", maxUsersStr)
		}
		settings.MaxUsers = maxUsers
	}

	if !glog.V(1) {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := signalContext()
	defer cancel()

	hub := relay.NewHub(settings)
	server := &http.Server{
		Addr:              addr,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		hub.Run(ctx)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	Out.Printf("relay listening on %s (max users %d)", addr, settings.MaxUsers)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		Err.Fatalf("%s", err)
	}
}

func identityOf(opts docopt.Opts) designer.Identity {
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		identity, err := designer.ParseIdentityJwtUnverified(jwt)
		if err != nil {
			Err.Fatalf("Bad jwt: %s", err)
		}
		return *identity
	}
	userId, _ := opts.String("--user_id")
	username, _ := opts.String("--username")
	return designer.Identity{
		UserId:   userId,
		Username: username,
	}
}

func newDesigner(ctx context.Context, opts docopt.Opts) *designer.Designer {
	relayUrl, err := opts.String("--relay_url")
	if err != nil || relayUrl == "" {
		relayUrl = DefaultRelayUrl
	}
	return designer.NewDesignerWithDefaults(ctx, relayUrl, identityOf(opts))
}

func newProjectApi(opts docopt.Opts) *designer.ProjectApi {
	apiUrl, err := opts.String("--api_url")
	if err != nil || apiUrl == "" {
		apiUrl = DefaultApiUrl
	}
	api := designer.NewProjectApi(apiUrl)
	if jwt, err := opts.String("--jwt"); err == nil {
		api.SetJwt(jwt)
	}
	return api
}

func createRoom(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	d := newDesigner(ctx, opts)
	defer d.Close()

	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	roomId, err := d.CreateRoom(connectCtx)
	connectCancel()
	if err != nil {
		Err.Fatalf("Could not create room: %s", err)
	}
	Out.Printf("room %s", roomId)

	edit(ctx, d, newProjectApi(opts))
}

func joinRoom(opts docopt.Opts) {
	roomId, _ := opts.String("<room_id>")

	ctx, cancel := signalContext()
	defer cancel()

	d := newDesigner(ctx, opts)
	defer d.Close()

	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	err := d.JoinRoom(connectCtx, roomId)
	connectCancel()
	if err != nil {
		Err.Fatalf("Could not join room %s: %s", roomId, err)
	}
	Out.Printf("room %s", roomId)

	edit(ctx, d, newProjectApi(opts))
}

func identity(opts docopt.Opts) {
	jwt, _ := opts.String("--jwt")
	identity, err := designer.ParseIdentityJwtUnverified(jwt)
	if err != nil {
		Err.Fatalf("Bad jwt: %s", err)
	}
	Out.Printf("user_id %s", identity.UserId)
	Out.Printf("username %s", identity.Username)
}

func listProjects(opts docopt.Opts) {
	api := newProjectApi(opts)
	defer api.Close()

	projects, err := api.ListProjectsSync(designer.NewNoopApiCallback[[]*designer.ProjectSummary]())
	if err != nil {
		Err.Fatalf("Could not list projects: %s", err)
	}
	for _, project := range projects {
		Out.Printf("%s\t%s\t%s\t%s", project.Id, project.UpdatedAt, project.Title, project.Description)
	}
}

const editHelp = `commands:
    add <type> <x> <y>
    update <id> <x> <y> [<width> <height>]
    prop <id> <key> <json>
    rm <id>
    move <id> <x> <y>
    select <id>
    tap <id>
    undo
    redo
    clear
    screen-add <name>
    screen-rename <id> <name>
    screen-rm <id>
    go <screen_id>
    ls
    screens
    users
    cursor <x> <y>
    export
    save <title>
    load <project_id>
    state
    retry
    quit`

// a line editor over the shared document
func edit(ctx context.Context, d *designer.Designer, api *designer.ProjectApi) {
	defer api.Close()

	removeStateCallback := d.Transport.AddConnectionStateCallback(func(state designer.ConnectionState) {
		Out.Printf("* %s", state)
	})
	defer removeStateCallback()
	removeChangeCallback := d.Store.AddChangeCallback(func(event designer.ChangeEvent) {
		if event.Origin == designer.OriginRemote {
			Out.Printf("* remote %s %s", event.Change, event.ScreenId)
		}
	})
	defer removeChangeCallback()
	removePresenceCallback := d.Presence.AddPresenceCallback(func(messageType designer.MessageType, userId string) {
		if messageType != designer.MessageTypeCursorUpdate {
			Out.Printf("* %s %s", messageType, userId)
		}
	})
	defer removePresenceCallback()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	prompt := func() {
		if interactive {
			fmt.Fprintf(os.Stdout, "%s> ", d.Store.CurrentScreenId())
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			case lines <- scanner.Text():
			}
		}
	}()

	if interactive {
		Out.Printf("%s", editHelp)
	}
	prompt()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				prompt()
				continue
			}
			if fields[0] == "quit" || fields[0] == "exit" {
				return
			}
			if err := command(d, api, fields); err != nil {
				Out.Printf("error: %s", err)
			}
			prompt()
		}
	}
}

func command(d *designer.Designer, api *designer.ProjectApi, fields []string) error {
	args := fields[1:]
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s needs %d arguments", fields[0], n)
		}
		return nil
	}
	floats := func(values ...string) ([]float64, error) {
		out := make([]float64, len(values))
		for i, value := range values {
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	}

	store := d.Store
	switch fields[0] {
	case "help":
		Out.Printf("%s", editHelp)
	case "add":
		if err := need(3); err != nil {
			return err
		}
		componentType, err := designer.ParseComponentType(args[0])
		if err != nil {
			return err
		}
		xy, err := floats(args[1], args[2])
		if err != nil {
			return err
		}
		element, err := store.AddElement(componentType, xy[0], xy[1])
		if err != nil {
			return err
		}
		Out.Printf("%s", element.Id)
	case "update":
		if err := need(3); err != nil {
			return err
		}
		values, err := floats(args[1:]...)
		if err != nil {
			return err
		}
		updates := designer.MoveTo(values[0], values[1])
		if 4 <= len(values) {
			resize := designer.ResizeTo(values[2], values[3])
			updates.Width, updates.Height = resize.Width, resize.Height
		}
		return store.UpdateElement(args[0], updates)
	case "prop":
		if err := need(3); err != nil {
			return err
		}
		var value any
		raw := strings.Join(args[2:], " ")
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			// bare words are strings
			value = raw
		}
		return store.UpdateElementProperties(args[0], designer.Properties{args[1]: value})
	case "rm":
		if err := need(1); err != nil {
			return err
		}
		return store.RemoveElement(args[0])
	case "move":
		if err := need(3); err != nil {
			return err
		}
		xy, err := floats(args[1], args[2])
		if err != nil {
			return err
		}
		return d.MoveElement(args[0], designer.Position{X: xy[0], Y: xy[1]})
	case "select":
		if err := need(1); err != nil {
			return err
		}
		return store.Select(args[0])
	case "tap":
		if err := need(1); err != nil {
			return err
		}
		navigated, err := store.ActivateElement(args[0])
		if err != nil {
			return err
		}
		if navigated {
			Out.Printf("now on %s", store.CurrentScreenId())
		}
	case "undo":
		return store.Undo()
	case "redo":
		return store.Redo()
	case "clear":
		return store.ClearCanvas()
	case "screen-add":
		if err := need(1); err != nil {
			return err
		}
		screenId, err := store.AddScreen(strings.Join(args, " "))
		if err != nil {
			return err
		}
		Out.Printf("%s", screenId)
	case "screen-rename":
		if err := need(2); err != nil {
			return err
		}
		return store.RenameScreen(args[0], strings.Join(args[1:], " "))
	case "screen-rm":
		if err := need(1); err != nil {
			return err
		}
		return store.DeleteScreen(args[0])
	case "go":
		if err := need(1); err != nil {
			return err
		}
		return store.NavigateToScreen(args[0])
	case "ls":
		screen := store.CurrentScreen()
		selected := store.Selected()
		for _, element := range screen.Elements {
			mark := " "
			if selected != nil && selected.Id == element.Id {
				mark = "*"
			}
			Out.Printf("%s %s\t%s\t(%g, %g)\t%gx%g", mark, element.Id, element.Type, element.X, element.Y, element.Width, element.Height)
		}
	case "screens":
		currentScreenId := store.CurrentScreenId()
		for _, screen := range store.Screens() {
			mark := " "
			if screen.Id == currentScreenId {
				mark = "*"
			}
			Out.Printf("%s %s\t%s\t%d elements", mark, screen.Id, screen.Name, len(screen.Elements))
		}
	case "users":
		for _, userId := range d.Presence.ConnectedUsers() {
			Out.Printf("%s", userId)
		}
		for _, cursor := range d.Presence.Cursors() {
			Out.Printf("cursor %s (%s) at (%g, %g)", cursor.UserId, cursor.Username, cursor.X, cursor.Y)
		}
	case "cursor":
		if err := need(2); err != nil {
			return err
		}
		xy, err := floats(args[0], args[1])
		if err != nil {
			return err
		}
		if !d.Presence.UpdateCursorPosition(xy[0], xy[1]) {
			return designer.ErrNotConnected
		}
	case "export":
		project := store.Export(store.CurrentScreen().Name, designer.DeviceTypeSamsungA10)
		b, err := json.MarshalIndent(project, "", "  ")
		if err != nil {
			return err
		}
		Out.Printf("%s", b)
	case "save":
		if err := need(1); err != nil {
			return err
		}
		record, err := api.SaveProjectSync(
			&designer.SaveProjectArgs{
				Title:   strings.Join(args, " "),
				Content: store.Export(store.CurrentScreen().Name, designer.DeviceTypeSamsungA10),
			},
			designer.NewNoopApiCallback[*designer.ProjectRecord](),
		)
		if err != nil {
			return err
		}
		Out.Printf("saved %s", record.Id)
	case "load":
		if err := need(1); err != nil {
			return err
		}
		record, err := api.GetProjectSync(args[0], designer.NewNoopApiCallback[*designer.ProjectRecord]())
		if err != nil {
			return err
		}
		if record.Content == nil {
			return errors.New("project has no content")
		}
		return store.Import(record.Content)
	case "state":
		Out.Printf("%s (%d queued)", d.Transport.ConnectionState(), d.Transport.QueueSize())
	case "retry":
		if !d.Transport.Retry() {
			return errors.New("not failed")
		}
	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
	return nil
}
