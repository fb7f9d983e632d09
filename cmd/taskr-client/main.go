package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"taskr/client"
	"taskr/domain"
)

const sendTimeout = 10 * time.Second

func main() {
	if err := mainInner(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	urlVar := flag.String("url", "ws://127.0.0.1:8092/ws", "hub websocket endpoint")
	userVar := flag.String("user", "", "username to log in as")
	tokenVar := flag.String("token", "", "bearer token, empty when the server runs unauthenticated")
	flag.Parse()

	if *userVar == "" {
		return fmt.Errorf("-user is required")
	}

	logger := log.StandardLogger()
	rec := client.NewReconciler(*userVar)
	rec.OnLogMessage(func(m string) {
		fmt.Printf("** %s\n", m)
	})
	rec.OnException(func(ev domain.ErrorEvent) {
		fmt.Printf("!! %s\n", ev.Message)
	})
	rec.OnTasksChanged(func(tasks []domain.Task) {
		printTasks(tasks)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hc, err := client.Dial(ctx, *urlVar, *tokenVar, rec, logger)
	if err != nil {
		return err
	}
	defer hc.Close()

	if err := withTimeout(ctx, hc.Login); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Println("commands: add <title> | <details>, status <id> <status>, assign <id> <user>, del <id>, tasks, log, sync, quit")
	for {
		select {
		case sig := <-exit:
			logger.Infof("Signal caught: %s", sig)
			return nil
		case <-hc.Done():
			return hc.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "quit" {
				return nil
			}
			if err := runCommand(ctx, hc, rec, line); err != nil {
				fmt.Printf("!! %s\n", err)
			}
		}
	}
}

func runCommand(ctx context.Context, hc *client.HubClient, rec *client.Reconciler, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "add":
		title, details, ok := strings.Cut(strings.TrimSpace(line[len("add"):]), "|")
		if !ok {
			return fmt.Errorf("usage: add <title> | <details>")
		}
		task := domain.Task{
			Title:      strings.TrimSpace(title),
			Details:    strings.TrimSpace(details),
			AssignedTo: rec.Username(),
			Status:     domain.StatusOpen,
		}
		return withTimeout(ctx, func(ctx context.Context) error { return hc.AddTask(ctx, task) })
	case "status":
		if len(fields) < 3 {
			return fmt.Errorf("usage: status <id> <status>")
		}
		task, err := findTask(rec, fields[1])
		if err != nil {
			return err
		}
		task.Status = strings.Join(fields[2:], " ")
		return withTimeout(ctx, func(ctx context.Context) error { return hc.UpdateTask(ctx, task) })
	case "assign":
		if len(fields) != 3 {
			return fmt.Errorf("usage: assign <id> <user>")
		}
		task, err := findTask(rec, fields[1])
		if err != nil {
			return err
		}
		task.AssignedTo = fields[2]
		return withTimeout(ctx, func(ctx context.Context) error { return hc.UpdateTask(ctx, task) })
	case "del":
		if len(fields) != 2 {
			return fmt.Errorf("usage: del <id>")
		}
		task, err := findTask(rec, fields[1])
		if err != nil {
			return err
		}
		return withTimeout(ctx, func(ctx context.Context) error { return hc.DeleteTask(ctx, task) })
	case "tasks":
		printTasks(rec.Tasks())
		return nil
	case "log":
		for _, m := range rec.Log() {
			fmt.Printf("** %s\n", m)
		}
		return nil
	case "sync":
		return withTimeout(ctx, hc.GetTasksForUser)
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func findTask(rec *client.Reconciler, idArg string) (domain.Task, error) {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return domain.Task{}, fmt.Errorf("bad task id %q", idArg)
	}
	for _, t := range rec.Tasks() {
		if t.TaskID == id {
			return t, nil
		}
	}
	return domain.Task{}, fmt.Errorf("no task %d in the local list", id)
}

func printTasks(tasks []domain.Task) {
	if len(tasks) == 0 {
		fmt.Println("-- no tasks --")
		return
	}
	for _, t := range tasks {
		fmt.Printf("#%d [%s] %s (%s): %s\n", t.TaskID, t.Status, t.Title, t.AssignedTo, t.Details)
	}
}

func withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return fn(ctx)
}
